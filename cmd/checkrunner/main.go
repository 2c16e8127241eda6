// checkrunner evaluates verification specs against the repository it runs
// in. CI executes it on the task branch; its exit code is the pass/fail
// signal, and its output is the run summary the webhook path parses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"checkline/internal/runner"
)

func main() {
	var dir string
	var taskID string

	root := &cobra.Command{
		Use:           "checkrunner",
		Short:         "Evaluate verification specs against the local repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := runner.Open(dir)
			if err != nil {
				return err
			}
			rep, err := ev.Run(taskID)
			if err != nil {
				return err
			}
			runner.WriteReport(os.Stdout, rep)
			if !rep.AllPass {
				os.Exit(1)
			}
			return nil
		},
	}
	root.Flags().StringVar(&dir, "dir", ".", "repository directory")
	root.Flags().StringVar(&taskID, "task", "", "evaluate only this task's spec")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}
