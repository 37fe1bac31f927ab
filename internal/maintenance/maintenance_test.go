package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/scheduler"
	"github.com/searchcore/searchcore/internal/store"
)

func newTestEnv(t *testing.T) *store.Env {
	t.Helper()
	dir := t.TempDir()
	env, err := store.Open(filepath.Join(dir, "data.mdb"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestSnapshotHandler_PublishesFile(t *testing.T) {
	env := newTestEnv(t)
	paths := NewPaths(t.TempDir())

	h := SnapshotHandler(env, paths)
	task := NewSnapshotTask("default")
	task.UID = 1

	details, err := h(context.Background(), "default", []scheduler.Task{task})
	require.NoError(t, err)

	path, ok := details[1]
	require.True(t, ok)
	assert.Equal(t, filepath.Join(paths.SnapshotDir, "1.snapshot"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestDumpHandler_PublishesFile(t *testing.T) {
	env := newTestEnv(t)
	paths := NewPaths(t.TempDir())

	h := DumpHandler(env, paths)
	task := NewDumpTask("default")
	task.UID = 7

	details, err := h(context.Background(), "default", []scheduler.Task{task})
	require.NoError(t, err)

	path := details[7]
	assert.Equal(t, filepath.Join(paths.DumpDir, "7.dump"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSnapshotHandler_RejectsMultiTaskBatch(t *testing.T) {
	env := newTestEnv(t)
	paths := NewPaths(t.TempDir())

	h := SnapshotHandler(env, paths)
	tasks := []scheduler.Task{NewSnapshotTask("default"), NewSnapshotTask("default")}

	_, err := h(context.Background(), "default", tasks)
	assert.Error(t, err)
}

func TestImportDumpHandler_ValidatesSourceExists(t *testing.T) {
	h := ImportDumpHandler()
	task := NewImportDumpTask("default", filepath.Join(t.TempDir(), "missing.dump"))
	task.UID = 1

	_, err := h(context.Background(), "default", []scheduler.Task{task})
	assert.Error(t, err)
}

func TestImportDumpHandler_RejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.dump")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	h := ImportDumpHandler()
	task := NewImportDumpTask("default", path)
	task.UID = 2

	_, err := h(context.Background(), "default", []scheduler.Task{task})
	assert.Error(t, err)
}

func TestImportDumpHandler_SucceedsForNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.dump")
	require.NoError(t, os.WriteFile(path, []byte("opaque dump bytes"), 0o644))

	h := ImportDumpHandler()
	task := NewImportDumpTask("default", path)
	task.UID = 3

	details, err := h(context.Background(), "default", []scheduler.Task{task})
	require.NoError(t, err)
	assert.Contains(t, details[3], path)
}
