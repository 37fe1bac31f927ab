// Package main provides the entry point for the searchcore CLI.
package main

import (
	"fmt"
	"os"

	"github.com/searchcore/searchcore/cmd/searchcore/cmd"
)

func main() {
	root := cmd.NewRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "searchcore:", err)
	}
	os.Exit(cmd.ExitCode(err))
}
