package scheduler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore is the content-addressed upload store tasks attach payloads
// to (spec §3 "Task": "content attached to a task ... is stored in a
// content-addressed file store keyed by UUID"; §5: "append-only on disk
// with tempfile-then-rename atomicity; readers open files by uuid and
// hold independent descriptors").
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: create file store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes r's content under a freshly generated uuid, atomically: the
// bytes land in a temp file first and are renamed into place only once
// fully flushed, so a reader never observes a partial upload.
func (fs *FileStore) Put(r io.Reader) (string, error) {
	id := uuid.NewString()
	tmp, err := os.CreateTemp(fs.dir, "upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("scheduler: create temp upload file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("scheduler: write upload content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("scheduler: sync upload content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("scheduler: close upload content: %w", err)
	}
	if err := os.Rename(tmpPath, fs.path(id)); err != nil {
		return "", fmt.Errorf("scheduler: publish upload %s: %w", id, err)
	}
	return id, nil
}

// Open returns a read-only handle to the content stored under id. The
// caller owns the returned descriptor independently of any concurrent
// writer (spec §5: "readers ... hold independent descriptors").
func (fs *FileStore) Open(id string) (*os.File, error) {
	f, err := os.Open(fs.path(id))
	if err != nil {
		return nil, fmt.Errorf("scheduler: open upload %s: %w", id, err)
	}
	return f, nil
}

// Remove deletes the content stored under id, once every task
// referencing it has finished.
func (fs *FileStore) Remove(id string) error {
	if err := os.Remove(fs.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scheduler: remove upload %s: %w", id, err)
	}
	return nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id)
}
