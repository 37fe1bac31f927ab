package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *taskStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := openTaskStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.close() })
	return s
}

func TestTaskStore_EnqueueAssignsMonotonicUIDs(t *testing.T) {
	s := newTestStore(t)

	u1, err := s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	u2, err := s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, u2 > u1)

	got, ok, err := s.get(u1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusEnqueued, got.Status)
	assert.Equal(t, "movies", got.IndexUID)
}

func TestTaskStore_GetMissingReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.get(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskStore_PendingByIndexAndKindFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	u1, err := s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	u2, err := s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentDelete, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.enqueue(Task{IndexUID: "books", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)

	pending, err := s.pendingByIndexAndKind("movies", KindDocumentAdd)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, u1, pending[0].UID)
	assert.Equal(t, u2, pending[1].UID)
}

func TestTaskStore_NextPendingIndexKindReturnsOldest(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.nextPendingIndexKind()
	require.NoError(t, err)
	assert.False(t, ok, "empty store must report no pending work")

	_, err = s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.enqueue(Task{IndexUID: "books", Kind: KindSettingsUpdate, EnqueuedAt: time.Now()})
	require.NoError(t, err)

	indexUID, kind, ok, err := s.nextPendingIndexKind()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "movies", indexUID)
	assert.Equal(t, KindDocumentAdd, kind)
}

func TestTaskStore_MarkProcessingThenFinishSucceeded(t *testing.T) {
	s := newTestStore(t)
	u1, err := s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.markProcessing([]uint64{u1}, 1, time.Now()))
	got, ok, err := s.get(u1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, got.BatchUID)
	assert.Equal(t, uint64(1), *got.BatchUID)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.finish(u1, StatusSucceeded, `{"documentsChanged":1}`, nil, time.Now()))
	got, ok, err = s.get(u1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Nil(t, got.Error)
	assert.Equal(t, `{"documentsChanged":1}`, got.Details)
	require.NotNil(t, got.FinishedAt)
}

func TestTaskStore_FinishFailedRecordsError(t *testing.T) {
	s := newTestStore(t)
	u1, err := s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.markProcessing([]uint64{u1}, 1, time.Now()))

	taskErr := &TaskError{Code: "ERR_INTERNAL_BATCH_FAILED", Message: "boom"}
	require.NoError(t, s.finish(u1, StatusFailed, "", taskErr, time.Now()))

	got, ok, err := s.get(u1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "ERR_INTERNAL_BATCH_FAILED", got.Error.Code)
	assert.Equal(t, "boom", got.Error.Message)
}

func TestTaskStore_ListByStatus(t *testing.T) {
	s := newTestStore(t)
	u1, err := s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.enqueue(Task{IndexUID: "movies", Kind: KindDocumentAdd, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.markProcessing([]uint64{u1}, 1, time.Now()))

	enqueued, err := s.listByStatus(StatusEnqueued)
	require.NoError(t, err)
	assert.Len(t, enqueued, 1)

	processing, err := s.listByStatus(StatusProcessing)
	require.NoError(t, err)
	assert.Len(t, processing, 1)
}
