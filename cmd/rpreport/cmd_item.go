package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rpreport/internal/reporting"
	"rpreport/internal/rp"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Start, finish or update test items",
}

var itemStartFlags struct {
	name        string
	typ         string
	parent      string
	suite       string
	description string
	attrs       []string
	params      []string
	codeRef     string
	testCaseID  string
	noStats     bool
}

var itemStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an item and print its uuid",
	Long: "Start an item under --parent (an item uuid) or --suite (a dotted suite\n" +
		"path, created on demand). With neither the item is a launch root.",
	Args: cobra.NoArgs,
	RunE: runItemStart,
}

var itemFinishFlags struct {
	status    string
	issueType string
	comment   string
	attrs     []string
}

var itemFinishCmd = &cobra.Command{
	Use:   "finish <item-uuid>",
	Short: "Finish an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemFinish,
}

var itemUpdateFlags struct {
	description string
	attrs       []string
}

var itemUpdateCmd = &cobra.Command{
	Use:   "update <item-uuid>",
	Short: "Update an item's description and attributes",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemUpdate,
}

func init() {
	f := itemStartCmd.Flags()
	f.StringVar(&itemStartFlags.name, "name", "", "Item name (required)")
	f.StringVar(&itemStartFlags.typ, "type", string(rp.TypeTest), "Item type (SUITE, TEST, STEP, BEFORE_METHOD, ...)")
	f.StringVar(&itemStartFlags.parent, "parent", "", "Parent item uuid")
	f.StringVar(&itemStartFlags.suite, "suite", "", "Dotted suite path to start the item under")
	f.StringVar(&itemStartFlags.description, "description", "", "Item description")
	f.StringArrayVar(&itemStartFlags.attrs, "attr", nil, "Attribute key=value (repeatable)")
	f.StringArrayVar(&itemStartFlags.params, "param", nil, "Parameter key=value (repeatable)")
	f.StringVar(&itemStartFlags.codeRef, "code-ref", "", "Code reference")
	f.StringVar(&itemStartFlags.testCaseID, "test-case-id", "", "Test case id")
	f.BoolVar(&itemStartFlags.noStats, "no-stats", false, "Exclude the item from launch statistics")
	_ = itemStartCmd.MarkFlagRequired("name")
	itemStartCmd.MarkFlagsMutuallyExclusive("parent", "suite")

	f = itemFinishCmd.Flags()
	f.StringVar(&itemFinishFlags.status, "status", "", "Status (PASS, FAIL, SKIP, ...); empty lets the server decide")
	f.StringVar(&itemFinishFlags.issueType, "issue-type", "", "Defect type locator, e.g. pb001")
	f.StringVar(&itemFinishFlags.comment, "comment", "", "Defect comment (needs --issue-type)")
	f.StringArrayVar(&itemFinishFlags.attrs, "attr", nil, "Attribute key=value (repeatable)")

	f = itemUpdateCmd.Flags()
	f.StringVar(&itemUpdateFlags.description, "description", "", "New description")
	f.StringArrayVar(&itemUpdateFlags.attrs, "attr", nil, "Attribute key=value (repeatable)")

	itemCmd.AddCommand(itemStartCmd, itemFinishCmd, itemUpdateCmd)
}

func runItemStart(cmd *cobra.Command, _ []string) error {
	attrs, err := parsePairs("attr", itemStartFlags.attrs)
	if err != nil {
		return err
	}
	params, err := parsePairs("param", itemStartFlags.params)
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, _ *env, sess *reporting.Session) error {
		parent := itemStartFlags.parent
		if itemStartFlags.suite != "" {
			if parent, err = sess.SuiteID(ctx, reporting.SplitSuitePath(itemStartFlags.suite)); err != nil {
				return err
			}
		}
		uuid, err := sess.StartTestItem(ctx, reporting.StartItemParams{
			Name:        itemStartFlags.name,
			Type:        rp.ItemType(strings.ToUpper(itemStartFlags.typ)),
			Description: itemStartFlags.description,
			Attributes:  attrs,
			Parameters:  params,
			ParentUUID:  parent,
			NoStats:     itemStartFlags.noStats,
			CodeRef:     itemStartFlags.codeRef,
			TestCaseID:  itemStartFlags.testCaseID,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), uuid)
		return nil
	})
}

func runItemFinish(cmd *cobra.Command, args []string) error {
	attrs, err := parsePairs("attr", itemFinishFlags.attrs)
	if err != nil {
		return err
	}
	if itemFinishFlags.comment != "" && itemFinishFlags.issueType == "" {
		return fmt.Errorf("--comment needs --issue-type")
	}
	p := reporting.FinishItemParams{
		Status:     reporting.MapStatus(itemFinishFlags.status),
		Attributes: attrs,
	}
	if itemFinishFlags.issueType != "" {
		p.Issue = &rp.Issue{IssueType: itemFinishFlags.issueType, Comment: itemFinishFlags.comment}
	}
	return withSession(cmd, func(ctx context.Context, _ *env, sess *reporting.Session) error {
		rs, err := sess.FinishTestItem(ctx, args[0], p)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rs.Message)
		return nil
	})
}

func runItemUpdate(cmd *cobra.Command, args []string) error {
	attrs, err := parsePairs("attr", itemUpdateFlags.attrs)
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context, _ *env, sess *reporting.Session) error {
		rs, err := sess.UpdateTestItem(ctx, args[0], itemUpdateFlags.description, attrs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rs.Message)
		return nil
	})
}
