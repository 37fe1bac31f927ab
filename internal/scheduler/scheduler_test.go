package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/config"
	searcherrors "github.com/searchcore/searchcore/internal/errors"
	"github.com/searchcore/searchcore/internal/fields"
	"github.com/searchcore/searchcore/internal/index"
	"github.com/searchcore/searchcore/internal/store"
	"github.com/searchcore/searchcore/internal/transform"
)

func newTestScheduler(t *testing.T) (*Scheduler, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "tasks.db"), filepath.Join(dir, "files"), filepath.Join(dir, "writer.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	indexPath := filepath.Join(dir, "movies.db")
	env, err := store.Open(indexPath, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	dbs := store.NewIndexDatabases()
	fm := fields.New()
	vectors := store.NewVectorStore()
	driver := index.NewDriver(env, dbs, fm, vectors, nil, 2)

	s.RegisterIndex("movies", IndexHandle{Driver: driver, Config: transform.Config{PrimaryKey: "id"}})
	return s, dir
}

func TestScheduler_RunOnce_EmptyQueueDoesNothing(t *testing.T) {
	s, _ := newTestScheduler(t)
	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, progressed)
}

func TestScheduler_RunOnce_AppliesDocumentAddBatch(t *testing.T) {
	s, _ := newTestScheduler(t)

	uuid, err := s.Files().Put(strings.NewReader(`[{"id":"doc-1","title":"hello world"},{"id":"doc-2","title":"goodbye"}]`))
	require.NoError(t, err)

	task, err := NewDocumentTask("movies", uuid, "id", false, FormatJSON)
	require.NoError(t, err)
	uid, err := s.Enqueue(task)
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	got, ok, err := s.Task(uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Contains(t, got.Details, `"documentsChanged":2`)
	require.NotNil(t, got.BatchUID)
}

func TestScheduler_RunOnce_AppliesSettingsUpdateBeforeDocumentBatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "tasks.db"), filepath.Join(dir, "files"), filepath.Join(dir, "writer.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	env, err := store.Open(filepath.Join(dir, "movies.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	dbs := store.NewIndexDatabases()
	fm := fields.New()
	vectors := store.NewVectorStore()
	driver := index.NewDriver(env, dbs, fm, vectors, nil, 2)
	s.RegisterIndex("movies", IndexHandle{Driver: driver, Config: transform.Config{PrimaryKey: "id"}})
	s.AutoBatchSettings = true

	settingsTask, err := NewSettingsTask("movies", config.Settings{SearchableAttributes: []string{"title"}})
	require.NoError(t, err)
	settingsUID, err := s.Enqueue(settingsTask)
	require.NoError(t, err)

	uuid, err := s.Files().Put(strings.NewReader(`[{"id":"doc-1","title":"hello","body":"world"}]`))
	require.NoError(t, err)
	docTask, err := NewDocumentTask("movies", uuid, "id", false, FormatJSON)
	require.NoError(t, err)
	docUID, err := s.Enqueue(docTask)
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	settingsResult, ok, err := s.Task(settingsUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, settingsResult.Status)

	docResult, ok, err := s.Task(docUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, docResult.Status)

	titleID, ok := fm.ID("title")
	require.True(t, ok)
	assert.True(t, fm.Metadata(titleID).Searchable)

	bodyID, ok := fm.ID("body")
	require.True(t, ok)
	assert.False(t, fm.Metadata(bodyID).Searchable, "settings update must apply before the document batch in the same dispatch")
}

func TestScheduler_RunOnce_BatchesMultipleEnqueuedDocumentTasks(t *testing.T) {
	s, _ := newTestScheduler(t)

	uuid1, err := s.Files().Put(strings.NewReader(`[{"id":"doc-1","title":"alpha"}]`))
	require.NoError(t, err)
	uuid2, err := s.Files().Put(strings.NewReader(`[{"id":"doc-2","title":"beta"}]`))
	require.NoError(t, err)

	t1, err := NewDocumentTask("movies", uuid1, "id", false, FormatJSON)
	require.NoError(t, err)
	u1, err := s.Enqueue(t1)
	require.NoError(t, err)

	t2, err := NewDocumentTask("movies", uuid2, "id", false, FormatJSON)
	require.NoError(t, err)
	u2, err := s.Enqueue(t2)
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	got1, _, err := s.Task(u1)
	require.NoError(t, err)
	got2, _, err := s.Task(u2)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got1.Status)
	assert.Equal(t, StatusSucceeded, got2.Status)
	require.NotNil(t, got1.BatchUID)
	require.NotNil(t, got2.BatchUID)
	assert.Equal(t, *got1.BatchUID, *got2.BatchUID, "enqueued document tasks for the same index must share one batch")
}

func TestScheduler_RunOnce_DocumentDeleteRemovesDocument(t *testing.T) {
	s, _ := newTestScheduler(t)

	uuid, err := s.Files().Put(strings.NewReader(`[{"id":"doc-1","title":"hello"}]`))
	require.NoError(t, err)
	addTask, err := NewDocumentTask("movies", uuid, "id", false, FormatJSON)
	require.NoError(t, err)
	_, err = s.Enqueue(addTask)
	require.NoError(t, err)
	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, progressed)

	delTask, err := NewDocumentDeleteTask("movies", []string{"doc-1"})
	require.NoError(t, err)
	delUID, err := s.Enqueue(delTask)
	require.NoError(t, err)
	progressed, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, progressed)

	got, ok, err := s.Task(delUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Contains(t, got.Details, `"documentsChanged":1`)
}

func TestScheduler_RunOnce_UnregisteredIndexFailsTask(t *testing.T) {
	s, _ := newTestScheduler(t)

	uuid, err := s.Files().Put(strings.NewReader(`[{"id":"doc-1"}]`))
	require.NoError(t, err)
	task, err := NewDocumentTask("unknown-index", uuid, "id", false, FormatJSON)
	require.NoError(t, err)
	uid, err := s.Enqueue(task)
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	got, ok, err := s.Task(uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
}

func TestScheduler_RunOnce_DispatchesNonBatchableKindToHandler(t *testing.T) {
	s, _ := newTestScheduler(t)

	var seenIndexUID string
	var seenTaskCount int
	s.RegisterHandler(KindSnapshot, func(ctx context.Context, indexUID string, tasks []Task) (map[uint64]string, error) {
		seenIndexUID = indexUID
		seenTaskCount = len(tasks)
		out := make(map[uint64]string, len(tasks))
		for _, t := range tasks {
			out[t.UID] = `{"path":"/snapshots/movies.snap"}`
		}
		return out, nil
	})

	uid, err := s.Enqueue(Task{IndexUID: "movies", Kind: KindSnapshot})
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, "movies", seenIndexUID)
	assert.Equal(t, 1, seenTaskCount)

	got, ok, err := s.Task(uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Contains(t, got.Details, "snapshots/movies.snap")
}

func TestScheduler_RunOnce_MissingHandlerFailsTask(t *testing.T) {
	s, _ := newTestScheduler(t)
	uid, err := s.Enqueue(Task{IndexUID: "movies", Kind: KindDump})
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	got, ok, err := s.Task(uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "ERR_NO_HANDLER", got.Error.Code)
}

func TestScheduler_RunOnce_HandlerErrorFailsAllTasksInBatch(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.RegisterHandler(KindCancellation, func(ctx context.Context, indexUID string, tasks []Task) (map[uint64]string, error) {
		return nil, assertErr
	})

	uid, err := s.Enqueue(Task{IndexUID: "movies", Kind: KindCancellation})
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	got, ok, err := s.Task(uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestScheduler_RunOnce_IndexSwapExchangesRegisteredDrivers(t *testing.T) {
	s, _ := newTestScheduler(t)

	dir := t.TempDir()
	envB, err := store.Open(filepath.Join(dir, "books.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = envB.Close() })
	dbsB := store.NewIndexDatabases()
	fmB := fields.New()
	driverB := index.NewDriver(envB, dbsB, fmB, store.NewVectorStore(), nil, 2)
	s.RegisterIndex("books", IndexHandle{Driver: driverB, Config: transform.Config{PrimaryKey: "uid"}})

	moviesBefore := s.indexes["movies"]
	booksBefore := s.indexes["books"]

	task, err := NewIndexSwapTask("movies", "books")
	require.NoError(t, err)
	uid, err := s.Enqueue(task)
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	got, ok, err := s.Task(uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)

	assert.Same(t, booksBefore.Driver, s.indexes["movies"].Driver)
	assert.Same(t, moviesBefore.Driver, s.indexes["books"].Driver)
	assert.Equal(t, booksBefore.Config, s.indexes["movies"].Config)
	assert.Equal(t, moviesBefore.Config, s.indexes["books"].Config)
}

func TestScheduler_RunOnce_IndexSwapMissingTargetFailsWithIndexNotFound(t *testing.T) {
	s, _ := newTestScheduler(t)

	task, err := NewIndexSwapTask("movies", "does-not-exist")
	require.NoError(t, err)
	uid, err := s.Enqueue(task)
	require.NoError(t, err)

	progressed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	got, ok, err := s.Task(uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, searcherrors.ErrCodeIndexNotFound, got.Error.Code)

	_, stillThere := s.indexes["movies"]
	assert.True(t, stillThere, "a failed swap must not remove the existing index's handle")
}

var assertErr = errSentinel("handler failed")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
