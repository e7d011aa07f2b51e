package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rpreport/internal/reporting"
	"rpreport/internal/rp"
)

var logFlags struct {
	item  string
	level string
	file  string
	text  string
	flush bool
}

var logCmd = &cobra.Command{
	Use:   "log <message...>",
	Short: "Send a log record to an item or to the launch",
	Long: "Send a log record. Records with an attachment are queued in the state\n" +
		"store and sent when the batch fills or an item or the launch finishes.\n" +
		"Use --flush to send them now; a failed send leaves them queued.",
	Args: cobra.MinimumNArgs(1),
	RunE: runLog,
}

func init() {
	f := logCmd.Flags()
	f.StringVar(&logFlags.item, "item", "", "Item uuid; empty logs to the launch")
	f.StringVar(&logFlags.level, "level", string(rp.LevelInfo), "Level: TRACE, DEBUG, INFO, WARN or ERROR")
	f.StringVar(&logFlags.file, "file", "", "Attach this file")
	f.StringVar(&logFlags.text, "text", "", "Attach this text as a plain text file")
	f.BoolVar(&logFlags.flush, "flush", false, "Send queued records now instead of waiting for a full batch")
	logCmd.MarkFlagsMutuallyExclusive("file", "text")
}

func runLog(cmd *cobra.Command, args []string) error {
	rec := reporting.LogRecord{
		Message:  strings.Join(args, " "),
		Level:    rp.LogLevel(strings.ToUpper(logFlags.level)),
		ItemUUID: logFlags.item,
	}
	switch {
	case logFlags.file != "":
		att, err := reporting.FileAttachment(logFlags.file)
		if err != nil {
			return err
		}
		rec.Attachment = att
	case logFlags.text != "":
		rec.Attachment = reporting.TextAttachment(logFlags.text)
	}
	return withSession(cmd, func(ctx context.Context, _ *env, sess *reporting.Session) error {
		if err := sess.Log(ctx, rec); err != nil {
			return err
		}
		if logFlags.flush {
			if _, err := sess.Flush(ctx); err != nil {
				return err
			}
		}
		st := sess.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "logged (%d/%d queued)\n", st.PendingLogs, st.BatchSize)
		return nil
	})
}
