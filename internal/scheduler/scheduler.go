package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/searchcore/searchcore/internal/config"
	searcherrors "github.com/searchcore/searchcore/internal/errors"
	"github.com/searchcore/searchcore/internal/index"
	"github.com/searchcore/searchcore/internal/transform"
)

// Handler runs one batch of same-kind, same-index tasks that neither the
// document/settings path nor the built-in index-swap path already knows
// how to dispatch (spec §4.11: "dispatch to indexer driver (4.7) or
// equivalent handler per kind") — snapshot, dump, import-dump,
// cancellation. Returning an error fails every task in the batch; a nil
// error combined with a per-uid entry missing from the returned map
// marks that task succeeded with empty details.
type Handler func(ctx context.Context, indexUID string, tasks []Task) (map[uint64]string, error)

// IndexHandle is the short-lived binding a batch needs to touch one
// index's mutable state: the indexer driver and the settings the
// transform stage resolves external ids against. The scheduler itself
// never holds index state beyond these handles, breaking the index<->
// scheduler cycle spec §10 "REDESIGN FLAGS" calls out: "the scheduler
// owns indexes; request handlers obtain short-lived handles by id."
type IndexHandle struct {
	Driver *index.Driver
	Config transform.Config
}

// Scheduler is the single-writer batch executor (spec §4.11): it reads
// the durable task log, forms one compatible batch at a time, dispatches
// it under one write transaction, and persists the resulting statuses.
// A Scheduler instance owns the only writer that may call RunOnce
// concurrently; an gofrs/flock guard keeps that true across process
// restarts the same way the teacher's embed.FileLock guards a model
// download directory.
type Scheduler struct {
	mu    sync.Mutex // serializes RunOnce with Enqueue/Cancel bookkeeping
	store *taskStore
	files *FileStore
	lock  *flock.Flock

	indexes map[string]IndexHandle
	// AutoBatchSettings, when true, allows a settings-update task to
	// join a batch of document operations that precede it for the same
	// index (spec §4.11 batching policy); off by default, matching the
	// conservative behavior of running settings updates alone.
	AutoBatchSettings bool

	handlers map[Kind]Handler

	batchCounter atomic.Uint64
}

// Open builds a Scheduler backed by a SQLite task log at dbPath and a
// content-addressed file store rooted at filesDir, guarded by an
// advisory lock file at lockPath (spec §5: "its write lock is held
// exactly by the scheduler's writer loop").
func Open(dbPath, filesDir, lockPath string) (*Scheduler, error) {
	store, err := openTaskStore(dbPath)
	if err != nil {
		return nil, err
	}
	files, err := NewFileStore(filesDir)
	if err != nil {
		store.close()
		return nil, err
	}
	return &Scheduler{
		store:    store,
		files:    files,
		lock:     flock.New(lockPath),
		indexes:  make(map[string]IndexHandle),
		handlers: make(map[Kind]Handler),
	}, nil
}

// Close releases the task store and any held lock.
func (s *Scheduler) Close() error {
	if s.lock.Locked() {
		_ = s.lock.Unlock()
	}
	return s.store.close()
}

// Files exposes the content-addressed upload store so callers can stage
// payloads before enqueuing a document task.
func (s *Scheduler) Files() *FileStore { return s.files }

// RegisterIndex binds indexUID to the driver/config a document or
// settings batch against it should use.
func (s *Scheduler) RegisterIndex(indexUID string, handle IndexHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[indexUID] = handle
}

// RegisterHandler binds kind to a Handler for non-document task kinds
// (snapshot, dump, import-dump, cancellation). Index swap is run by the
// scheduler itself and never reaches a registered Handler.
func (s *Scheduler) RegisterHandler(kind Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Enqueue appends t to the durable log and returns its assigned uid.
func (s *Scheduler) Enqueue(t Task) (uint64, error) {
	t.EnqueuedAt = time.Now()
	return s.store.enqueue(t)
}

// NewDocumentTask builds a KindDocumentAdd task whose content lives
// under contentUUID in the Scheduler's FileStore (spec §3: tasks carry
// an upload by UUID reference, not inline).
func NewDocumentTask(indexUID, contentUUID, primaryKey string, autoGenerateID bool, format ContentFormat) (Task, error) {
	payload, err := json.Marshal(documentTaskPayload{PrimaryKey: primaryKey, AutoGenerateID: autoGenerateID, Format: format})
	if err != nil {
		return Task{}, err
	}
	return Task{IndexUID: indexUID, Kind: KindDocumentAdd, Details: string(payload), ContentUUID: contentUUID}, nil
}

// NewDocumentDeleteTask builds a KindDocumentDelete task for a fixed set
// of external ids (no uploaded content involved).
func NewDocumentDeleteTask(indexUID string, externalIDs []string) (Task, error) {
	payload, err := json.Marshal(documentTaskPayload{ExternalIDs: externalIDs})
	if err != nil {
		return Task{}, err
	}
	return Task{IndexUID: indexUID, Kind: KindDocumentDelete, Details: string(payload)}, nil
}

// indexSwapPayload names the other side of a KindIndexSwap task; the
// task's own IndexUID field names one side (spec §8 S6: "Swap A<->B").
type indexSwapPayload struct {
	With string `json:"with"`
}

// NewIndexSwapTask builds a KindIndexSwap task exchanging indexA and
// indexB's registered state (spec §8 S6). Neither index's documents are
// touched; what changes is which registered IndexHandle a request
// addressed to indexA or indexB is served by.
func NewIndexSwapTask(indexA, indexB string) (Task, error) {
	payload, err := json.Marshal(indexSwapPayload{With: indexB})
	if err != nil {
		return Task{}, err
	}
	return Task{IndexUID: indexA, Kind: KindIndexSwap, Details: string(payload)}, nil
}

// Task returns the current state of uid, for polling (spec §7: "Task
// errors are recorded in the task's error field and readable via the
// task endpoint forever").
func (s *Scheduler) Task(uid uint64) (Task, bool, error) {
	return s.store.get(uid)
}

// RunOnce picks the single oldest pending (index, kind) pair, gathers
// every task compatible with it into one batch, dispatches that batch
// under one write transaction, and persists the resulting statuses
// (spec §4.11 writer loop). It returns progressed=false when the queue
// is empty. Only one RunOnce may execute at a time per process; callers
// driving a long-lived service loop should call it in a single
// goroutine (spec §5: "One writer thread").
func (s *Scheduler) RunOnce(ctx context.Context) (progressed bool, err error) {
	if err := s.lock.Lock(); err != nil {
		return false, fmt.Errorf("scheduler: acquire writer lock: %w", err)
	}
	defer s.lock.Unlock()

	indexUID, kind, ok, err := s.store.nextPendingIndexKind()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	tasks, err := s.gatherBatch(indexUID, kind)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return false, nil
	}

	batchUID := s.batchCounter.Add(1)
	startedAt := time.Now()
	uids := make([]uint64, len(tasks))
	for i, t := range tasks {
		uids[i] = t.UID
	}
	if err := s.store.markProcessing(uids, batchUID, startedAt); err != nil {
		return false, err
	}

	s.dispatch(ctx, indexUID, kind, tasks)
	return true, nil
}

// gatherBatch collects every currently-enqueued task compatible with
// (indexUID, kind) per the batching policy (spec §4.11): document adds
// and deletes for the same index share a batch; a settings update joins
// only when AutoBatchSettings is set; every other kind runs alone.
func (s *Scheduler) gatherBatch(indexUID string, kind Kind) ([]Task, error) {
	if !kind.batchable() || (kind == KindSettingsUpdate && !s.AutoBatchSettings) {
		all, err := s.store.pendingByIndexAndKind(indexUID, kind)
		if err != nil || len(all) == 0 {
			return all, err
		}
		return all[:1], nil
	}

	var out []Task
	for _, k := range []Kind{KindDocumentAdd, KindDocumentDelete} {
		batch, err := s.store.pendingByIndexAndKind(indexUID, k)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	if s.AutoBatchSettings {
		settings, err := s.store.pendingByIndexAndKind(indexUID, KindSettingsUpdate)
		if err != nil {
			return nil, err
		}
		out = append(out, settings...)
	}
	sortTasksByUID(out)
	return out, nil
}

func sortTasksByUID(tasks []Task) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && tasks[j].UID < tasks[j-1].UID; j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

// dispatch runs tasks through the appropriate path and persists their
// terminal status. Errors from the dispatch itself never escape: per
// spec §4.11/§7, a batch failure is recorded against its member tasks,
// not propagated to the scheduler's caller.
func (s *Scheduler) dispatch(ctx context.Context, indexUID string, kind Kind, tasks []Task) {
	finishedAt := time.Now()

	if kind.batchable() {
		result, perTask, err := s.runDocumentBatch(ctx, indexUID, tasks)
		if err != nil {
			taskErr := &TaskError{Code: "ERR_INTERNAL_BATCH_FAILED", Message: err.Error()}
			for _, t := range tasks {
				_ = s.store.finish(t.UID, StatusFailed, "", taskErr, finishedAt)
			}
			return
		}
		for _, t := range tasks {
			details := perTask[t.UID]
			_ = s.store.finish(t.UID, StatusSucceeded, details, nil, finishedAt)
		}
		_ = result
		return
	}

	if kind == KindIndexSwap {
		s.runIndexSwap(tasks, finishedAt)
		return
	}

	h, ok := s.handlers[kind]
	if !ok {
		taskErr := &TaskError{Code: "ERR_NO_HANDLER", Message: fmt.Sprintf("no handler registered for task kind %q", kind)}
		for _, t := range tasks {
			_ = s.store.finish(t.UID, StatusFailed, "", taskErr, finishedAt)
		}
		return
	}
	details, err := h(ctx, indexUID, tasks)
	if err != nil {
		taskErr := &TaskError{Code: "ERR_INTERNAL_BATCH_FAILED", Message: err.Error()}
		for _, t := range tasks {
			_ = s.store.finish(t.UID, StatusFailed, "", taskErr, finishedAt)
		}
		return
	}
	for _, t := range tasks {
		_ = s.store.finish(t.UID, StatusSucceeded, details[t.UID], nil, finishedAt)
	}
}

// runDocumentBatch resolves each task's operations (document content by
// reference, deletes by id list), assembles one transform.Batch, and
// dispatches it to the index's driver in a single write transaction
// (spec §4.7/§4.11). Per-document validation errors recorded by the
// transform stage are attributed to the whole batch rather than to the
// individual owning task — a documented simplification (see
// DESIGN.md): finer per-task attribution would require carrying an
// operation->task index through transform.Result, which the teacher's
// transform package does not expose today.
//
// A settings-update task riding along in the same gathered batch (only
// possible when AutoBatchSettings is set) is applied first, in its own
// transaction, ahead of every document operation in the batch regardless
// of interleaved uid order — settings changes are expected to take effect
// for the documents committed alongside them, not race them.
func (s *Scheduler) runDocumentBatch(ctx context.Context, indexUID string, tasks []Task) (index.BatchResult, map[uint64]string, error) {
	handle, ok := s.indexes[indexUID]
	if !ok {
		return index.BatchResult{}, nil, fmt.Errorf("scheduler: index %q is not registered", indexUID)
	}

	perTask := make(map[uint64]string, len(tasks))
	var docTasks []Task
	for _, t := range tasks {
		if t.Kind != KindSettingsUpdate {
			docTasks = append(docTasks, t)
			continue
		}
		var settings config.Settings
		if err := json.Unmarshal([]byte(t.Details), &settings); err != nil {
			return index.BatchResult{}, nil, fmt.Errorf("scheduler: decode task %d settings: %w", t.UID, err)
		}
		if err := handle.Driver.ApplySettings(settings); err != nil {
			return index.BatchResult{}, nil, err
		}
		perTask[t.UID] = `{"settingsApplied":true}`
	}
	if len(docTasks) == 0 {
		return index.BatchResult{}, perTask, nil
	}

	var ops []transform.Operation
	var cfg transform.Config
	for _, t := range docTasks {
		var payload documentTaskPayload
		if t.Details != "" {
			if err := json.Unmarshal([]byte(t.Details), &payload); err != nil {
				return index.BatchResult{}, nil, fmt.Errorf("scheduler: decode task %d payload: %w", t.UID, err)
			}
		}
		if payload.PrimaryKey != "" {
			cfg = transform.Config{PrimaryKey: payload.PrimaryKey, AutoGenerateID: payload.AutoGenerateID}
		}

		switch t.Kind {
		case KindDocumentAdd:
			docs, err := s.loadTaskDocuments(t, payload)
			if err != nil {
				return index.BatchResult{}, nil, err
			}
			for _, d := range docs {
				ops = append(ops, transform.Operation{Kind: transform.OpUpsert, Document: d})
			}
		case KindDocumentDelete:
			for _, id := range payload.ExternalIDs {
				ops = append(ops, transform.Operation{Kind: transform.OpDelete, ExternalID: id})
			}
		}
	}
	if cfg.PrimaryKey == "" {
		cfg = handle.Config
	}

	result, err := handle.Driver.ApplyBatch(ctx, index.Batch{Config: cfg, Operations: ops})
	if err != nil {
		return index.BatchResult{}, nil, err
	}

	summary, err := json.Marshal(map[string]any{
		"documentsChanged": result.DocumentsChanged,
		"recordErrors":     len(result.RecordErrors),
	})
	if err != nil {
		return index.BatchResult{}, nil, err
	}
	for _, t := range docTasks {
		perTask[t.UID] = string(summary)
	}
	return result, perTask, nil
}

// runIndexSwap exchanges the registered IndexHandle for the two index
// uids a KindIndexSwap task names (spec §8 S6): after it finishes, a
// request addressed to one uid is served by the other's driver/fields/
// settings, with no document data copied or moved. A target that was
// never registered via RegisterIndex fails the task with
// ErrCodeIndexNotFound rather than silently creating a handle, matching
// the mirror condition spec §4.2 names under Conflict ("index swap
// target exists").
func (s *Scheduler) runIndexSwap(tasks []Task, finishedAt time.Time) {
	for _, t := range tasks {
		var payload indexSwapPayload
		if err := json.Unmarshal([]byte(t.Details), &payload); err != nil {
			taskErr := &TaskError{Code: "ERR_INTERNAL_BATCH_FAILED", Message: err.Error()}
			_ = s.store.finish(t.UID, StatusFailed, "", taskErr, finishedAt)
			continue
		}

		s.mu.Lock()
		a, aok := s.indexes[t.IndexUID]
		b, bok := s.indexes[payload.With]
		if aok && bok {
			s.indexes[t.IndexUID], s.indexes[payload.With] = b, a
		}
		s.mu.Unlock()

		if !aok || !bok {
			missing := t.IndexUID
			if aok {
				missing = payload.With
			}
			taskErr := &TaskError{Code: searcherrors.ErrCodeIndexNotFound, Message: fmt.Sprintf("index %q not found", missing)}
			_ = s.store.finish(t.UID, StatusFailed, "", taskErr, finishedAt)
			continue
		}

		details, _ := json.Marshal(map[string]string{"swapped": t.IndexUID + "<->" + payload.With})
		_ = s.store.finish(t.UID, StatusSucceeded, string(details), nil, finishedAt)
	}
}

func (s *Scheduler) loadTaskDocuments(t Task, payload documentTaskPayload) ([]map[string]json.RawMessage, error) {
	if t.ContentUUID == "" {
		return nil, fmt.Errorf("scheduler: task %d has no uploaded content", t.UID)
	}
	f, err := s.files.Open(t.ContentUUID)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeDocuments(f, payload.Format)
}
