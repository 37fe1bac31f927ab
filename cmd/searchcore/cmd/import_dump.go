package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/searchcore/searchcore/internal/maintenance"
)

func newImportDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-dump PATH",
		Short: "Import a dump file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return usageError(fmt.Errorf("import-dump: %w", err))
			}

			a, err := openApp(dataDir)
			if err != nil {
				return err
			}
			defer a.Close()

			uid, err := a.sched.Enqueue(maintenance.NewImportDumpTask(defaultIndexUID, path))
			if err != nil {
				return fmt.Errorf("enqueue import-dump task: %w", err)
			}
			return runTaskToCompletion(cmd, a, uid)
		},
	}
}
