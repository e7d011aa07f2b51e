package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rpreport/internal/format"
	"rpreport/internal/reporting"
	"rpreport/internal/results"
)

var importFlags struct {
	parallel int
	agent    string
}

var importCmd = &cobra.Command{
	Use:   "import <results.yaml>...",
	Short: "Replay result documents as launches, one launch per file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

func init() {
	f := importCmd.Flags()
	f.IntVar(&importFlags.parallel, "parallel", 4, "Documents replayed at once")
	f.StringVar(&importFlags.agent, "agent", "rpreport", "Agent name added to system attributes; empty disables them")
}

func runImport(cmd *cobra.Command, args []string) error {
	docs := make([]*results.Document, 0, len(args))
	for _, path := range args {
		doc, err := results.LoadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	e.logger.Info("importing", "documents", len(docs), "parallel", importFlags.parallel)
	res := results.ImportAll(cmd.Context(), docs, func() *reporting.Session {
		return e.newSession()
	}, importFlags.agent, importFlags.parallel)
	fmt.Fprintln(cmd.OutOrStdout(), format.Imports(e.mode, res))

	var failed int
	for _, r := range res {
		if r.Err != nil {
			failed++
			e.logger.Error("import failed", "launch", r.Doc.Launch.Name, "error", r.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(res))
	}
	return nil
}
