package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"rpreport/internal/reporting"
)

var suiteFlags struct {
	parentOnly bool
}

var suiteCmd = &cobra.Command{
	Use:   "suite <long.suite.name>",
	Short: "Resolve a dotted suite path, creating missing suites, and print its uuid",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuite,
}

func init() {
	suiteCmd.Flags().BoolVar(&suiteFlags.parentOnly, "parent", false, "Resolve only the parent of the last segment")
}

func runSuite(cmd *cobra.Command, args []string) error {
	path := reporting.SplitSuitePath(args[0])
	if len(path) == 0 {
		return fmt.Errorf("empty suite path %q", args[0])
	}
	return withSession(cmd, func(ctx context.Context, _ *env, sess *reporting.Session) error {
		resolve := sess.SuiteID
		if suiteFlags.parentOnly {
			resolve = sess.ParentSuiteUUID
		}
		uuid, err := resolve(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), uuid)
		return nil
	})
}
