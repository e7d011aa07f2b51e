package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rpreport/internal/format"
	"rpreport/internal/rp"
)

var projectsFlags struct {
	entryType string
	set       []string
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the projects visible to the token",
	Args:  cobra.NoArgs,
	RunE:  runProjects,
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project (administrator token)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsCreate,
}

var projectsUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update project configuration (administrator token)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsUpdate,
}

func init() {
	projectsCreateCmd.Flags().StringVar(&projectsFlags.entryType, "entry-type", "", "Entry type; the server default is INTERNAL")
	projectsUpdateCmd.Flags().StringArrayVar(&projectsFlags.set, "set", nil, "Configuration value as key=value (repeatable)")
	_ = projectsUpdateCmd.MarkFlagRequired("set")
	projectsCmd.AddCommand(projectsCreateCmd, projectsUpdateCmd)
}

func runProjects(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	names, err := e.client.Admin().ProjectNames(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), format.Projects(e.mode, names))
	return nil
}

func runProjectsCreate(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	id, err := e.client.Admin().CreateProject(cmd.Context(), rp.CreateProjectRQ{
		ProjectName: args[0],
		EntryType:   projectsFlags.entryType,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Project %s created (id %d)\n", args[0], id)
	return nil
}

func runProjectsUpdate(cmd *cobra.Command, args []string) error {
	pairs, err := parsePairs("set", projectsFlags.set)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	conf := make(map[string]any, len(pairs))
	for k, v := range pairs {
		conf[k] = v
	}
	rs, err := e.client.Admin().UpdateProject(cmd.Context(), args[0], rp.UpdateProjectRQ{Configuration: conf})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rs.Message)
	return nil
}
