// Package scheduler implements the durable, single-writer task queue
// spec §4.11 describes: tasks are appended with monotonic uids, grouped
// into compatible batches, and dispatched to per-kind handlers (the
// indexer driver for document/settings operations, or an equivalent
// handler for snapshot/dump/swap/cancellation) under one write
// transaction each.
package scheduler

import "time"

// Status is a task's position in its lifecycle (spec §3 "Task"): created
// enqueued, moved to processing when pulled into a batch, terminates in
// exactly one of succeeded/failed/canceled.
type Status string

const (
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Kind names the operation a task performs. DocumentAdd/DocumentDelete/
// SettingsUpdate dispatch to the indexer driver; IndexSwap is run by the
// scheduler itself; IndexCreate/IndexDelete/Snapshot/Dump/ImportDump/
// Cancellation dispatch to their own registered Handler (spec §4.11:
// "indexer driver or equivalent handler per kind").
type Kind string

const (
	KindDocumentAdd    Kind = "documentAdd"
	KindDocumentDelete Kind = "documentDelete"
	KindSettingsUpdate Kind = "settingsUpdate"
	KindIndexCreate    Kind = "indexCreate"
	KindIndexDelete    Kind = "indexDelete"
	KindIndexSwap      Kind = "indexSwap"
	KindSnapshot       Kind = "snapshot"
	KindDump           Kind = "dump"
	KindImportDump     Kind = "importDump"
	KindCancellation   Kind = "cancellation"
)

// batchable reports whether two tasks of this kind may share one batch
// and write transaction (spec §4.11 batching policy: "index creation/
// deletion/swap are never batched with ops on the affected index").
func (k Kind) batchable() bool {
	switch k {
	case KindDocumentAdd, KindDocumentDelete, KindSettingsUpdate:
		return true
	default:
		return false
	}
}

// Task is one durable, user-visible operation (spec §3 "Task"). Tasks
// are immutable except for their Status/StartedAt/FinishedAt/Error/
// Details transitions.
type Task struct {
	UID         uint64
	IndexUID    string
	Kind        Kind
	Status      Status
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Error       *TaskError
	Details     string // JSON-encoded, kind-specific (counts, primary key, etc.)
	BatchUID    *uint64
	ContentUUID string // non-empty when an uploaded payload backs this task
}

// TaskError is a task's terminal failure, carrying the same
// code/message shape every other user-visible error in the system uses
// (spec §7: "every error carries a machine-readable code, a human
// message").
type TaskError struct {
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}
