package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rpreport/internal/display"
	"rpreport/internal/format"
	"rpreport/internal/reporting"
)

var statusFlags struct {
	all    bool
	remote bool
	launch string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local session, all stored sessions, or a launch's failures",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.BoolVar(&statusFlags.all, "all", false, "List every stored session")
	f.BoolVar(&statusFlags.remote, "remote", false, "Fetch the session's launch and its failed items from the server")
	f.StringVar(&statusFlags.launch, "launch", "", "Fetch this launch uuid instead of the session's")
	statusCmd.MarkFlagsMutuallyExclusive("all", "remote")
	statusCmd.MarkFlagsMutuallyExclusive("all", "launch")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if statusFlags.all {
		return runStatusAll(cmd)
	}
	return withSession(cmd, func(ctx context.Context, e *env, sess *reporting.Session) error {
		out := cmd.OutOrStdout()
		if statusFlags.remote || statusFlags.launch != "" {
			uuid := statusFlags.launch
			if uuid == "" {
				uuid = sess.LaunchUUID()
			}
			if uuid == "" {
				return fmt.Errorf("session %q has no launch; pass --launch", rootFlags.session)
			}
			sum, err := e.project().FetchSummary(ctx, uuid)
			if err != nil {
				return err
			}
			settings, err := e.project().Settings(ctx)
			if err != nil {
				e.logger.Warn("defect names unavailable", "error", err)
			}
			fmt.Fprint(out, format.Summary(e.mode, sum, display.FromSettings(settings)))
			return nil
		}

		fmt.Fprintln(out, format.SessionStatus(e.mode, rootFlags.session, sess.Status()))
		if open := sess.Unfinished(); len(open) > 0 {
			fmt.Fprintf(out, "\nUnfinished items (%d):\n", len(open))
			fmt.Fprintln(out, format.Items(e.mode, open, time.Now()))
		}
		return nil
	})
}

func runStatusAll(cmd *cobra.Command) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	rows, err := e.store.ListSessions()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No stored sessions.")
		return nil
	}
	fmt.Fprintln(out, format.Sessions(e.mode, rows))
	return nil
}
