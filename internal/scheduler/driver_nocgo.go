//go:build !cgo

package scheduler

import (
	_ "modernc.org/sqlite" // pure-Go driver, no CGO toolchain required
)

// sqlDriverName selects the pure-Go SQLite driver when cross-compiling
// or when a C toolchain isn't available, the same fallback the teacher's
// SQLiteBM25Index settles on by default.
const sqlDriverName = "sqlite"
