package cmd

import "github.com/spf13/cobra"

// exitError lets a subcommand pick which of the two failure exit codes
// spec §6 defines applies: 2 for invalid arguments, 1 for everything
// else. RunE returning a plain error always maps to 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// usageError marks err as an invalid-arguments failure (exit code 2).
func usageError(err error) error {
	return &exitError{code: 2, err: err}
}

// ExitCode returns the process exit code an error returned from the
// root command should produce (spec §6: 0 success, 2 invalid
// arguments, 1 runtime failure).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return 1
}

// noArgs and exactArgs wrap cobra's argument-count validators so a
// mismatch maps to exit code 2 rather than the generic 1.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError(err)
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}
