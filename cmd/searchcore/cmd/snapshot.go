package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/searchcore/searchcore/internal/maintenance"
)

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Trigger a snapshot task",
		Long: `snapshot enqueues a snapshot task and runs the writer loop until
the task reaches a terminal status, publishing a consistent copy of the environment to
<data-dir>/snapshots/<uid>.snapshot (spec §6 Persisted state layout).`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(dataDir)
			if err != nil {
				return err
			}
			defer a.Close()

			uid, err := a.sched.Enqueue(maintenance.NewSnapshotTask(defaultIndexUID))
			if err != nil {
				return fmt.Errorf("enqueue snapshot task: %w", err)
			}
			return runTaskToCompletion(cmd, a, uid)
		},
	}
}
