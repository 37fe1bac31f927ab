package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/searchcore/searchcore/internal/scheduler"
)

// runTaskToCompletion drives the writer loop until uid reaches a
// terminal status, then reports it. A one-shot CLI trigger has no
// long-lived daemon backing it, so it must run the loop itself rather
// than enqueue-and-exit (spec §4.11: tasks only progress when RunOnce
// is driven).
func runTaskToCompletion(cmd *cobra.Command, a *app, uid uint64) error {
	ctx := cmd.Context()
	for {
		t, ok, err := a.sched.Task(uid)
		if err != nil {
			return fmt.Errorf("read task %d: %w", uid, err)
		}
		if ok {
			switch t.Status {
			case scheduler.StatusSucceeded:
				fmt.Fprintf(cmd.OutOrStdout(), "task %d succeeded: %s\n", uid, t.Details)
				return nil
			case scheduler.StatusFailed:
				return fmt.Errorf("task %d failed: %s: %s", uid, t.Error.Code, t.Error.Message)
			case scheduler.StatusCanceled:
				return fmt.Errorf("task %d canceled", uid)
			}
		}
		if _, err := a.sched.RunOnce(ctx); err != nil {
			return fmt.Errorf("run task %d: %w", uid, err)
		}
	}
}
