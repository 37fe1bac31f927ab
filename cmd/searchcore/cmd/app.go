package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/searchcore/searchcore/internal/config"
	"github.com/searchcore/searchcore/internal/fields"
	"github.com/searchcore/searchcore/internal/index"
	"github.com/searchcore/searchcore/internal/maintenance"
	"github.com/searchcore/searchcore/internal/scheduler"
	"github.com/searchcore/searchcore/internal/store"
	"github.com/searchcore/searchcore/internal/transform"
)

// defaultIndexUID is the single index this CLI's minimum surface
// operates against. Per-index creation/management lives on the HTTP
// surface (spec §1 out of scope), so the CLI always targets one
// pre-registered index the same way the teacher's single-project CLI
// always targeted the project root it was invoked from.
const defaultIndexUID = "default"

// app bundles the open environment, scheduler, and maintenance paths a
// subcommand needs, and knows how to tear them down in the right order.
type app struct {
	cfg    *config.Config
	env    *store.Env
	sched  *scheduler.Scheduler
	paths  maintenance.Paths
	driver *index.Driver
}

func openApp(dataDir string) (*app, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mapSize, err := config.ParseByteSize(cfg.Indexing.MaxIndexingMemory)
	if err != nil {
		return nil, fmt.Errorf("parse max_indexing_memory: %w", err)
	}

	envPath := filepath.Join(cfg.DataDir, "data.mdb")
	env, err := store.Open(envPath, store.Options{MapSize: mapSize})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dbs := store.NewIndexDatabases()
	if err := ensureDatabases(env, dbs); err != nil {
		env.Close()
		return nil, err
	}

	vectors := store.NewVectorStore()
	fm := fields.New()
	driver := index.NewDriver(env, dbs, fm, vectors, cfg.Settings.StopWords, cfg.Indexing.MaxIndexingThreads)
	if err := seedDefaultSettings(env, driver, cfg.Settings); err != nil {
		env.Close()
		return nil, fmt.Errorf("seed default settings: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "tasks.db")
	filesDir := filepath.Join(cfg.DataDir, "updates", "updates_files")
	lockPath := filepath.Join(cfg.DataDir, "data.mdb.writer.lock")
	sched, err := scheduler.Open(dbPath, filesDir, lockPath)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("open scheduler: %w", err)
	}
	sched.AutoBatchSettings = !cfg.Indexing.DisableAutoBatching
	sched.RegisterIndex(defaultIndexUID, scheduler.IndexHandle{
		Driver: driver,
		Config: transform.Config{PrimaryKey: "id", AutoGenerateID: true},
	})

	paths := maintenance.NewPaths(cfg.DataDir)
	sched.RegisterHandler(scheduler.KindSnapshot, maintenance.SnapshotHandler(env, paths))
	sched.RegisterHandler(scheduler.KindDump, maintenance.DumpHandler(env, paths))
	sched.RegisterHandler(scheduler.KindImportDump, maintenance.ImportDumpHandler())

	return &app{cfg: cfg, env: env, sched: sched, paths: paths, driver: driver}, nil
}

func (a *app) Close() error {
	schedErr := a.sched.Close()
	envErr := a.env.Close()
	if schedErr != nil {
		return schedErr
	}
	return envErr
}

// seedDefaultSettings applies cfg's Settings once, the first time an
// index is opened with no settings of its own persisted yet, so a fresh
// index is immediately searchable/filterable per the config file's
// defaults rather than starting with every field opaque (spec §6: "the
// default per-index Settings applied to newly created indexes").
// A settings-update task, not a restart, is how settings change after
// that first application.
func seedDefaultSettings(env *store.Env, driver *index.Driver, defaults config.Settings) error {
	txn, err := env.ReadTxn()
	if err != nil {
		return err
	}
	_, exists, err := driver.LoadSettings(txn)
	txn.Close()
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return driver.ApplySettings(defaults)
}

func ensureDatabases(env *store.Env, dbs *store.IndexDatabases) error {
	w, err := env.WriteTxn()
	if err != nil {
		return fmt.Errorf("open write transaction: %w", err)
	}
	if err := dbs.EnsureAll(w); err != nil {
		w.Rollback()
		return fmt.Errorf("ensure databases: %w", err)
	}
	return w.Commit()
}
