//go:build cgo

package scheduler

import (
	_ "github.com/mattn/go-sqlite3" // cgo driver, faster under heavy write load
)

// sqlDriverName selects the CGO SQLite driver when a C toolchain is
// available; a deployment can force the pure-Go driver instead by
// building with CGO_ENABLED=0 (see driver_nocgo.go).
const sqlDriverName = "sqlite3"
