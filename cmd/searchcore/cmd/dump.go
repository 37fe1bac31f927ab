package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/searchcore/searchcore/internal/maintenance"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Trigger a dump task",
		Long: `dump enqueues a dump task and runs the writer loop until the
task reaches a terminal status, publishing the environment to <data-dir>/dumps/<uid>.dump. The
dump file's interchange schema is an external interface this system
does not define (spec §1 out of scope); this command owns the task
lifecycle around it.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(dataDir)
			if err != nil {
				return err
			}
			defer a.Close()

			uid, err := a.sched.Enqueue(maintenance.NewDumpTask(defaultIndexUID))
			if err != nil {
				return fmt.Errorf("enqueue dump task: %w", err)
			}
			return runTaskToCompletion(cmd, a, uid)
		},
	}
}
