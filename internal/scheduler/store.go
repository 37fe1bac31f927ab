package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// taskStore is the durable task log: an append-only table of tasks with
// indices over (status, kind, index_uid) for fast filtering (spec §4.11
// "Durable queue"). bbolt holds index data; this SQLite table holds the
// scheduler's relational bookkeeping, mirroring the teacher's bleve+
// sqlite store split and the dsn/pragma shape of its SQLiteBM25Index.
type taskStore struct {
	db *sql.DB
}

// openTaskStore opens (creating if necessary) the SQLite task log at
// path, in WAL mode with a single writer connection — the same
// `_journal_mode=WAL&_busy_timeout` DSN and `SetMaxOpenConns(1)` pattern
// the teacher's SQLiteBM25Index uses for concurrent multi-reader access.
func openTaskStore(path string) (*taskStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open task store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &taskStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *taskStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	uid            INTEGER PRIMARY KEY,
	index_uid      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL,
	enqueued_at    INTEGER NOT NULL,
	started_at     INTEGER,
	finished_at    INTEGER,
	error_code     TEXT,
	error_message  TEXT,
	details        TEXT,
	batch_uid      INTEGER,
	content_uuid   TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_kind ON tasks(kind);
CREATE INDEX IF NOT EXISTS idx_tasks_index_uid ON tasks(index_uid);
CREATE TABLE IF NOT EXISTS batches (
	uid       INTEGER PRIMARY KEY,
	member_uids TEXT NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *taskStore) close() error { return s.db.Close() }

// enqueue appends a new task in StatusEnqueued and returns its assigned
// uid, monotonic within this store (spec §4.11: "tasks are appended with
// monotonic uids").
func (s *taskStore) enqueue(t Task) (uint64, error) {
	t.Status = StatusEnqueued
	res, err := s.db.Exec(
		`INSERT INTO tasks (index_uid, kind, status, enqueued_at, details, content_uuid) VALUES (?, ?, ?, ?, ?, ?)`,
		t.IndexUID, string(t.Kind), string(t.Status), t.EnqueuedAt.UnixNano(), t.Details, t.ContentUUID,
	)
	if err != nil {
		return 0, fmt.Errorf("scheduler: enqueue task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("scheduler: read assigned uid: %w", err)
	}
	return uint64(id), nil
}

// pendingByIndexAndKind returns every enqueued task for indexUID whose
// kind equals the given kind, oldest first — the per-(index,kind) pool
// the batching policy groups from.
func (s *taskStore) pendingByIndexAndKind(indexUID string, kind Kind) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT uid, index_uid, kind, status, enqueued_at, started_at, finished_at, error_code, error_message, details, batch_uid, content_uuid
		 FROM tasks WHERE index_uid = ? AND kind = ? AND status = ? ORDER BY uid ASC`,
		indexUID, string(kind), string(StatusEnqueued),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: query pending tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// nextPendingIndexKind returns the (index_uid, kind) pair of the oldest
// enqueued task, the unit the writer loop picks its next batch from.
func (s *taskStore) nextPendingIndexKind() (indexUID string, kind Kind, ok bool, err error) {
	row := s.db.QueryRow(
		`SELECT index_uid, kind FROM tasks WHERE status = ? ORDER BY uid ASC LIMIT 1`,
		string(StatusEnqueued),
	)
	var k string
	if err := row.Scan(&indexUID, &k); err != nil {
		if err == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("scheduler: query next pending: %w", err)
	}
	return indexUID, Kind(k), true, nil
}

// markProcessing transitions uids to StatusProcessing under a shared
// batch uid (spec §4.11 writer loop step 2).
func (s *taskStore) markProcessing(uids []uint64, batchUID uint64, startedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, uid := range uids {
		if _, err := tx.Exec(
			`UPDATE tasks SET status = ?, batch_uid = ?, started_at = ? WHERE uid = ?`,
			string(StatusProcessing), batchUID, startedAt.UnixNano(), uid,
		); err != nil {
			return fmt.Errorf("scheduler: mark task %d processing: %w", uid, err)
		}
	}
	memberJSON, err := json.Marshal(uids)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO batches (uid, member_uids) VALUES (?, ?)`, batchUID, string(memberJSON)); err != nil {
		return fmt.Errorf("scheduler: record batch %d: %w", batchUID, err)
	}
	return tx.Commit()
}

// finish records a task's terminal status, details, and (if any) error
// (spec §4.11 writer loop steps 4-5).
func (s *taskStore) finish(uid uint64, status Status, details string, taskErr *TaskError, finishedAt time.Time) error {
	var code, msg sql.NullString
	if taskErr != nil {
		code = sql.NullString{String: taskErr.Code, Valid: true}
		msg = sql.NullString{String: taskErr.Message, Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE tasks SET status = ?, details = ?, error_code = ?, error_message = ?, finished_at = ? WHERE uid = ?`,
		string(status), details, code, msg, finishedAt.UnixNano(), uid,
	)
	if err != nil {
		return fmt.Errorf("scheduler: finish task %d: %w", uid, err)
	}
	return nil
}

func (s *taskStore) get(uid uint64) (Task, bool, error) {
	row := s.db.QueryRow(
		`SELECT uid, index_uid, kind, status, enqueued_at, started_at, finished_at, error_code, error_message, details, batch_uid, content_uuid
		 FROM tasks WHERE uid = ?`, uid,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

// listByStatus returns every task in the given status, oldest first —
// backs the `(status, kind, index_uid) -> set of task uids` filter the
// spec describes (kind/index_uid narrowing layered on by the caller).
func (s *taskStore) listByStatus(status Status) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT uid, index_uid, kind, status, enqueued_at, started_at, finished_at, error_code, error_message, details, batch_uid, content_uuid
		 FROM tasks WHERE status = ? ORDER BY uid ASC`, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (Task, error) {
	var t Task
	var kind, status string
	var enqueuedAt int64
	var startedAt, finishedAt sql.NullInt64
	var errCode, errMsg, details, contentUUID sql.NullString
	var batchUID sql.NullInt64

	if err := row.Scan(&t.UID, &t.IndexUID, &kind, &status, &enqueuedAt, &startedAt, &finishedAt, &errCode, &errMsg, &details, &batchUID, &contentUUID); err != nil {
		return Task{}, err
	}

	t.Kind = Kind(kind)
	t.Status = Status(status)
	t.EnqueuedAt = time.Unix(0, enqueuedAt)
	if startedAt.Valid {
		v := time.Unix(0, startedAt.Int64)
		t.StartedAt = &v
	}
	if finishedAt.Valid {
		v := time.Unix(0, finishedAt.Int64)
		t.FinishedAt = &v
	}
	if errCode.Valid {
		t.Error = &TaskError{Code: errCode.String, Message: errMsg.String}
	}
	if details.Valid {
		t.Details = details.String
	}
	if batchUID.Valid {
		v := uint64(batchUID.Int64)
		t.BatchUID = &v
	}
	if contentUUID.Valid {
		t.ContentUUID = contentUUID.String
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
