package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"rpreport/internal/format"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "List the project's defect types",
	Args:  cobra.NoArgs,
	RunE:  runSettings,
}

func runSettings(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	settings, err := e.project().Settings(cmd.Context())
	if err != nil {
		return fmt.Errorf("get project settings: %w", err)
	}
	groups := make([]string, 0, len(settings.SubTypes))
	for g := range settings.SubTypes {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	tb := format.NewTable(e.mode)
	tb.Header("Group", "Locator", "Short", "Name")
	for _, g := range groups {
		for _, st := range settings.SubTypes[g] {
			tb.Row(g, st.Locator, st.ShortName, st.LongName)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Project %s (id %d)\n%s\n", e.cfg.Project, settings.ProjectID, tb.String())
	return nil
}
