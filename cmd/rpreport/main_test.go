package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"rpreport/internal/config"
	"rpreport/internal/rp"
	"rpreport/internal/rp/rptest"
	"rpreport/internal/store"
)

// cli runs rpreport commands in-process against one fake server and one
// state file.
type cli struct {
	t      *testing.T
	srv    *rptest.Server
	dir    string
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	for _, k := range []string{config.EnvEndpoint, config.EnvProject, config.EnvToken, config.EnvTokenFile, config.EnvLogBatchSize} {
		t.Setenv(k, "")
	}
	srv := rptest.NewServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "rpreport.yaml")
	body := fmt.Sprintf(`endpoint: %s
project: %s
token: test-token
state_path: %s
log:
  level: error
`, srv.URL, rptest.Project, filepath.Join(dir, "state.db"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return &cli{t: t, srv: srv, dir: dir, config: path}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("rpreport %s: %v", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(out)
}

// resetFlags restores every flag to its default; cobra keeps values
// between Execute calls on the same command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestCLI_ReportFlow(t *testing.T) {
	c := newCLI(t)

	launch := c.mustRun("launch", "start", "--name", "nightly", "--attr", "build=7")
	if !strings.HasPrefix(launch, "launch-") {
		t.Fatalf("launch start printed %q", launch)
	}

	suite := c.mustRun("suite", "Root.Login")
	if again := c.mustRun("suite", "root.login"); again != suite {
		t.Errorf("suite resolved to %s then %s", suite, again)
	}

	test := c.mustRun("item", "start", "--name", "valid user", "--suite", "Root.Login", "--param", "browser=firefox")
	if got := c.srv.ByUUID(test); got == nil || got.Parent != c.srv.ByUUID(suite).ID {
		t.Fatalf("item %s = %+v, want child of %s", test, got, suite)
	}
	step := c.mustRun("item", "start", "--name", "click", "--type", "step", "--parent", test)

	if out := c.mustRun("log", "--item", step, "--text", "<html/>", "dom", "snapshot"); out != "logged (1/20 queued)" {
		t.Errorf("log printed %q", out)
	}
	if n := len(c.srv.Batches()); n != 0 {
		t.Fatalf("log sent %d batches before the batch filled", n)
	}

	c.mustRun("item", "finish", step, "--status", "PASS")
	batches := c.srv.Batches()
	if len(batches) != 1 || batches[0].Entries[0].Message != "dom snapshot" {
		t.Fatalf("batches after item finish = %+v", batches)
	}
	c.mustRun("item", "update", test, "--description", "checks login")
	c.mustRun("item", "finish", test, "--status", "FAIL", "--issue-type", "pb001", "--comment", "flaky")
	if it := c.srv.ByUUID(test); it.Status != string(rp.StatusFailed) || it.Issue.IssueType != "pb001" {
		t.Errorf("test item = %+v", it)
	}
	if _, err := c.run("item", "finish", test); err == nil {
		t.Error("finishing an item twice should fail")
	}

	status := c.mustRun("status")
	for _, want := range []string{launch, "ACTIVE", "Unfinished items (2)", "Login"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}

	if out := c.mustRun("launch", "finish", "--status", "FAIL"); !strings.Contains(out, launch) {
		t.Errorf("launch finish printed %q", out)
	}
	if l := c.srv.LaunchByUUID(launch); !l.Finished || l.Status != string(rp.StatusFailed) {
		t.Errorf("launch = %+v", l)
	}

	remote := c.mustRun("status", "--remote")
	if !strings.HasPrefix(remote, "Launch nightly #1 ("+launch+"): FAILED, 1 failed") || !strings.Contains(remote, "pb001") {
		t.Errorf("remote status:\n%s", remote)
	}
}

func TestCLI_LaunchLifecycle(t *testing.T) {
	c := newCLI(t)

	first := c.mustRun("launch", "start", "--name", "one")
	if _, err := c.run("launch", "start", "--name", "two"); err == nil {
		t.Fatal("starting a second launch while one is active should fail")
	}
	c.mustRun("launch", "finish")
	if _, err := c.run("launch", "finish"); err == nil {
		t.Error("finishing twice should fail")
	}

	second := c.mustRun("launch", "start", "--name", "two")
	if second == first {
		t.Errorf("finished launch %s was reused", first)
	}

	other := c.srv.AddLaunch("launch-external")
	if other == 0 {
		t.Fatal("AddLaunch returned no id")
	}
	if got := c.mustRun("--session", "ci", "launch", "resume", "launch-external"); got != "launch-external" {
		t.Errorf("resume printed %q", got)
	}

	all := c.mustRun("status", "--all")
	for _, want := range []string{store.DefaultSession, "ci", second, "launch-external"} {
		if !strings.Contains(all, want) {
			t.Errorf("status --all missing %q:\n%s", want, all)
		}
	}
}

func TestCLI_QueuedLogsSurviveInvocations(t *testing.T) {
	c := newCLI(t)
	c.mustRun("launch", "start", "--name", "queued")

	if out := c.mustRun("log", "--text", "payload", "first"); out != "logged (1/20 queued)" {
		t.Errorf("log printed %q", out)
	}
	if out := c.mustRun("status"); !strings.Contains(out, "1/20") {
		t.Errorf("queued record not kept:\n%s", out)
	}
	if n := len(c.srv.Batches()); n != 0 {
		t.Fatalf("%d batches sent without a flush", n)
	}

	c.srv.SetBatchStatus(500)
	if _, err := c.run("log", "--flush", "--text", "p2", "second"); err == nil {
		t.Fatal("expected the failed flush to be reported")
	}
	c.srv.SetBatchStatus(0)
	if out := c.mustRun("status"); !strings.Contains(out, "2/20") {
		t.Errorf("records lost after a failed flush:\n%s", out)
	}

	if out := c.mustRun("log", "--flush", "--text", "p3", "third"); out != "logged (0/20 queued)" {
		t.Errorf("log --flush printed %q", out)
	}
	batches := c.srv.Batches()
	last := batches[len(batches)-1]
	var got []string
	for _, e := range last.Entries {
		got = append(got, e.Message)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, got); diff != "" {
		t.Errorf("flushed batch (-want +got):\n%s", diff)
	}
	if last.Files[0].Data != "payload" {
		t.Errorf("files = %+v", last.Files)
	}
	if out := c.mustRun("status"); !strings.Contains(out, "0/20") {
		t.Errorf("queue not drained:\n%s", out)
	}
}

func TestCLI_ProjectsAndSettings(t *testing.T) {
	c := newCLI(t)
	c.srv.SetProjects("alpha", "beta")

	out := c.mustRun("--format", "markdown", "projects")
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "beta") {
		t.Errorf("projects:\n%s", out)
	}
	if out := c.mustRun("settings"); !strings.HasPrefix(out, "Project demo (id 1)") {
		t.Errorf("settings:\n%s", out)
	}

	if out := c.mustRun("projects", "create", "gamma"); !strings.HasPrefix(out, "Project gamma created (id ") {
		t.Errorf("projects create printed %q", out)
	}
	calls := c.srv.Calls()
	if body := string(calls[len(calls)-1].Body); !strings.Contains(body, `"entryType":"INTERNAL"`) {
		t.Errorf("create request = %s", body)
	}
	if _, err := c.run("projects", "create", "gamma"); err == nil {
		t.Error("creating an existing project should fail")
	}
	if out := c.mustRun("projects"); !strings.Contains(out, "gamma") {
		t.Errorf("created project not listed:\n%s", out)
	}

	c.mustRun("projects", "update", "gamma", "--set", "keepLogs=3 months", "--set", "interruptJobTime=1 day")
	want := map[string]any{"keepLogs": "3 months", "interruptJobTime": "1 day"}
	if diff := cmp.Diff(want, c.srv.ProjectConfig("gamma")); diff != "" {
		t.Errorf("project config (-want +got):\n%s", diff)
	}
	if _, err := c.run("projects", "update", "missing", "--set", "k=v"); err == nil {
		t.Error("updating an unknown project should fail")
	}
	if _, err := c.run("projects", "update", "gamma"); err == nil {
		t.Error("update without --set should fail")
	}
}

func TestCLI_Import(t *testing.T) {
	c := newCLI(t)
	doc := filepath.Join(c.dir, "results.yaml")
	body := `
launch: {name: imported, status: FAIL}
suites:
  - name: Root.Api
    tests:
      - name: get
        status: PASS
      - name: post
        status: FAIL
`
	if err := os.WriteFile(doc, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	out := c.mustRun("import", "--parallel", "1", doc)
	for _, want := range []string{"imported", "TOTAL", "ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("import output missing %q:\n%s", want, out)
		}
	}
	if n := c.srv.Count("PUT", "/api/v1/demo/launch/"); n != 1 {
		t.Errorf("launch finishes = %d, want 1", n)
	}
	if it := c.srv.ItemByName("post"); it == nil || it.Status != string(rp.StatusFailed) {
		t.Errorf("post = %+v", it)
	}

	if _, err := c.run("import", filepath.Join(c.dir, "missing.yaml")); err == nil {
		t.Error("expected error for a missing document")
	}
}

func TestCLI_InputErrors(t *testing.T) {
	c := newCLI(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"empty attribute key", []string{"launch", "start", "--name", "x", "--attr", "=v"}, "empty key"},
		{"comment without issue", []string{"item", "finish", "u", "--comment", "c"}, "--issue-type"},
		{"bad format", []string{"--format", "html", "status"}, "html"},
		{"no launch for remote status", []string{"status", "--remote"}, "no launch"},
		{"missing name", []string{"launch", "start"}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestCLI_MissingConfig(t *testing.T) {
	c := newCLI(t)
	c.config = filepath.Join(c.dir, "nope.yaml")
	if _, err := c.run("status"); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("got %v, want read config error", err)
	}
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs("attr", []string{"a=1", "b", "c=x=y"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"a": "1", "b": "", "c": "x=y"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if m, err := parsePairs("attr", nil); m != nil || err != nil {
		t.Errorf("nil input = %v, %v", m, err)
	}
}
