package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"rpreport/internal/reporting"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start, resume or finish the session's launch",
}

var launchStartFlags struct {
	name        string
	description string
	attrs       []string
	mode        string
	rerun       bool
	agent       string
}

var launchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a launch and print its uuid",
	Args:  cobra.NoArgs,
	RunE:  runLaunchStart,
}

var launchFinishFlags struct {
	status      string
	description string
	attrs       []string
}

var launchFinishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Flush queued logs and finish the launch",
	Args:  cobra.NoArgs,
	RunE:  runLaunchFinish,
}

var launchResumeCmd = &cobra.Command{
	Use:   "resume <launch-uuid>",
	Short: "Attach the session to a launch started elsewhere",
	Args:  cobra.ExactArgs(1),
	RunE:  runLaunchResume,
}

func init() {
	f := launchStartCmd.Flags()
	f.StringVar(&launchStartFlags.name, "name", "", "Launch name (required)")
	f.StringVar(&launchStartFlags.description, "description", "", "Launch description")
	f.StringArrayVar(&launchStartFlags.attrs, "attr", nil, "Attribute key=value (repeatable)")
	f.StringVar(&launchStartFlags.mode, "mode", "", "Launch mode (DEFAULT or DEBUG)")
	f.BoolVar(&launchStartFlags.rerun, "rerun", false, "Report as a rerun of the last launch with this name")
	f.StringVar(&launchStartFlags.agent, "agent", "rpreport", "Agent name added to system attributes; empty disables them")
	_ = launchStartCmd.MarkFlagRequired("name")

	f = launchFinishCmd.Flags()
	f.StringVar(&launchFinishFlags.status, "status", "", "Final status (PASS, FAIL, SKIP, ...); empty lets the server decide")
	f.StringVar(&launchFinishFlags.description, "description", "", "Replace the launch description")
	f.StringArrayVar(&launchFinishFlags.attrs, "attr", nil, "Attribute key=value (repeatable)")

	launchCmd.AddCommand(launchStartCmd, launchFinishCmd, launchResumeCmd)
}

func runLaunchStart(cmd *cobra.Command, _ []string) error {
	attrs, err := parsePairs("attr", launchStartFlags.attrs)
	if err != nil {
		return err
	}
	return withNewLaunch(cmd, func(ctx context.Context, _ *env, sess *reporting.Session) error {
		uuid, err := sess.StartLaunch(ctx, reporting.StartLaunchParams{
			Name:        launchStartFlags.name,
			Description: launchStartFlags.description,
			Attributes:  attrs,
			Mode:        launchStartFlags.mode,
			Rerun:       launchStartFlags.rerun,
			Agent:       launchStartFlags.agent,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), uuid)
		return nil
	})
}

func runLaunchFinish(cmd *cobra.Command, _ []string) error {
	attrs, err := parsePairs("attr", launchFinishFlags.attrs)
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, _ *env, sess *reporting.Session) error {
		rs, err := sess.FinishLaunch(ctx, reporting.FinishLaunchParams{
			Status:      reporting.MapStatus(launchFinishFlags.status),
			Description: launchFinishFlags.description,
			Attributes:  attrs,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Launch %s finished (#%d)\n", sess.LaunchUUID(), rs.Number)
		if rs.Link != "" {
			fmt.Fprintln(out, rs.Link)
		}
		return nil
	})
}

func runLaunchResume(cmd *cobra.Command, args []string) error {
	return withNewLaunch(cmd, func(_ context.Context, _ *env, sess *reporting.Session) error {
		if err := sess.Resume(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sess.LaunchUUID())
		return nil
	})
}
