package mcp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "rpreport/internal/mcp"
	"rpreport/internal/reporting"
	"rpreport/internal/rp"
	"rpreport/internal/rp/rptest"
	"rpreport/internal/store"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, rpSrv *rptest.Server, st store.Store) *mcpserver.Server {
	t.Helper()
	srv, err := mcpserver.NewServer(mcpserver.Config{
		NewSession: func() *reporting.Session {
			return reporting.New(rpSrv.Project(t), reporting.WithLogBatchSize(5))
		},
		Store:   st,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		for _, c := range res.Content {
			if tc, ok := c.(*sdkmcp.TextContent); ok {
				t.Fatalf("CallTool(%s) returned error: %s", name, tc.Text)
			}
		}
		t.Fatalf("CallTool(%s) returned error", name)
	}
	result := make(map[string]any)
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), &result); err != nil {
				t.Fatalf("unmarshal tool result: %v (text: %s)", err, tc.Text)
			}
			return result
		}
	}
	t.Fatalf("no text content in tool result")
	return nil
}

func callToolError(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		// Arguments failing the input schema are rejected at the protocol level.
		return err.Error()
	}
	if !res.IsError {
		t.Fatalf("CallTool(%s): expected IsError=true", name)
	}
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestServer_ToolDiscovery(t *testing.T) {
	srv := newTestServer(t, rptest.NewServer(t), nil)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{
		"start_launch": false, "resume_launch": false, "resolve_suite": false,
		"start_item": false, "log": false, "finish_item": false,
		"finish_launch": false, "session_status": false, "get_events": false,
	}
	for _, tool := range tools.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %q not found in ListTools", name)
		}
	}
}

func TestServer_FullReport(t *testing.T) {
	rpSrv := rptest.NewServer(t)
	st := store.NewMemStore()
	srv := newTestServer(t, rpSrv, st)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, srv)

	launch := callTool(t, ctx, session, "start_launch", map[string]any{
		"name": "agent run", "attributes": map[string]any{"build": "7"},
	})["launch_uuid"].(string)
	if launch == "" {
		t.Fatal("empty launch uuid")
	}

	suite := callTool(t, ctx, session, "resolve_suite", map[string]any{"long_name": "Root.Login"})["uuid"].(string)
	again := callTool(t, ctx, session, "resolve_suite", map[string]any{"path": []string{"root", "LOGIN"}})["uuid"].(string)
	if suite != again {
		t.Errorf("normalized path resolved to %s, want %s", again, suite)
	}

	test := callTool(t, ctx, session, "start_item", map[string]any{"name": "valid user", "parent_uuid": suite})["uuid"].(string)
	step := callTool(t, ctx, session, "start_item", map[string]any{"name": "click", "type": "step", "parent_uuid": test})["uuid"].(string)

	logged := callTool(t, ctx, session, "log", map[string]any{
		"item_uuid": step, "message": "dom", "level": "debug", "attachment_text": "<html/>",
	})
	if logged["pending_logs"].(float64) != 1 {
		t.Errorf("pending_logs = %v, want 1", logged["pending_logs"])
	}

	status := callTool(t, ctx, session, "session_status", map[string]any{})
	if status["launch_state"] != "ACTIVE" || len(status["unfinished"].([]any)) != 4 {
		t.Errorf("status = %v", status)
	}

	callTool(t, ctx, session, "finish_item", map[string]any{"uuid": step, "status": "PASS"})
	if n := len(rpSrv.Batches()); n != 1 {
		t.Errorf("batches before step finish = %d, want 1", n)
	}
	callTool(t, ctx, session, "finish_item", map[string]any{
		"uuid": test, "status": "FAIL", "issue_type": "ab001", "comment": "regression",
	})
	if it := rpSrv.ByUUID(test); it.Status != string(rp.StatusFailed) || it.Issue.IssueType != "ab001" {
		t.Errorf("test item = %+v", it)
	}

	msg := callToolError(t, ctx, session, "finish_item", map[string]any{"uuid": test, "status": "PASS"})
	if msg == "" {
		t.Error("double finish should explain itself")
	}

	fin := callTool(t, ctx, session, "finish_launch", map[string]any{})
	if fin["launch_uuid"] != launch {
		t.Errorf("finish_launch = %v", fin)
	}

	snap, err := st.LoadSession(store.DefaultSession)
	if err != nil || snap == nil {
		t.Fatalf("stored session: %v %v", snap, err)
	}
	if snap.LaunchState != reporting.LaunchFinished || snap.LaunchUUID != launch {
		t.Errorf("stored snapshot = %+v", snap)
	}

	events := callTool(t, ctx, session, "get_events", map[string]any{"since": 1})
	if events["total"].(float64) < 8 || len(events["events"].([]any)) != int(events["total"].(float64))-1 {
		t.Errorf("events = %v", events)
	}

	// A finished launch is replaced on the next start.
	next := callTool(t, ctx, session, "start_launch", map[string]any{"name": "second"})["launch_uuid"].(string)
	if next == launch {
		t.Error("start_launch after finish reused the finished launch")
	}
}

func TestServer_RestoresStoredSession(t *testing.T) {
	rpSrv := rptest.NewServer(t)
	st := store.NewMemStore()
	ctx := context.Background()

	first := newTestServer(t, rpSrv, st)
	s1 := connectInMemory(t, ctx, first)
	launch := callTool(t, ctx, s1, "start_launch", map[string]any{"name": "long run"})["launch_uuid"].(string)
	suite := callTool(t, ctx, s1, "resolve_suite", map[string]any{"long_name": "A.B"})["uuid"].(string)
	if err := first.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	second := newTestServer(t, rpSrv, st)
	if got := second.Session().LaunchUUID(); got != launch {
		t.Fatalf("restored launch = %q, want %q", got, launch)
	}
	s2 := connectInMemory(t, ctx, second)
	creates := len(rpSrv.ItemCreates(t))
	if got := callTool(t, ctx, s2, "resolve_suite", map[string]any{"long_name": "A.B"})["uuid"]; got != suite {
		t.Errorf("resolve after restore = %v, want %s", got, suite)
	}
	if len(rpSrv.ItemCreates(t)) != creates {
		t.Error("restored suite cache should avoid creating suites again")
	}
}

func TestServer_FailedToolPersistsPartialState(t *testing.T) {
	rpSrv := rptest.NewServer(t)
	st := store.NewMemStore()
	srv := newTestServer(t, rpSrv, st)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	callTool(t, ctx, session, "start_launch", map[string]any{"name": "partial"})
	rpSrv.FailCreate("B", 500)
	callToolError(t, ctx, session, "resolve_suite", map[string]any{"long_name": "A.B"})

	snap, err := st.LoadSession(store.DefaultSession)
	if err != nil || snap == nil {
		t.Fatalf("stored session: %v %v", snap, err)
	}
	var names []string
	for _, it := range snap.Items {
		names = append(names, it.Name)
	}
	if len(names) != 1 || names[0] != "A" {
		t.Errorf("stored items = %v, want the suite created before the failure", names)
	}
	if len(snap.Suites) != 1 {
		t.Errorf("stored suite cache = %v", snap.Suites)
	}
}

func TestServer_Validation(t *testing.T) {
	srv := newTestServer(t, rptest.NewServer(t), nil)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	callToolError(t, ctx, session, "start_launch", map[string]any{})
	callToolError(t, ctx, session, "resolve_suite", map[string]any{"long_name": "X"}) // no launch yet
	callToolError(t, ctx, session, "finish_item", map[string]any{})
	callToolError(t, ctx, session, "resume_launch", map[string]any{})

	callTool(t, ctx, session, "start_launch", map[string]any{"name": "x"})
	callToolError(t, ctx, session, "start_launch", map[string]any{"name": "again"})
	callToolError(t, ctx, session, "resolve_suite", map[string]any{})
	callToolError(t, ctx, session, "log", map[string]any{"message": "m", "file_path": "/does/not/exist"})
}

func TestNewServer_RequiresSessionFactory(t *testing.T) {
	if _, err := mcpserver.NewServer(mcpserver.Config{}); err == nil {
		t.Error("expected error without NewSession")
	}
}

func TestEventLog(t *testing.T) {
	var l mcpserver.EventLog
	l.Emit("a", "u1", nil)
	l.Emit("b", "u2", map[string]string{"k": "v"})
	if l.Len() != 2 || len(l.Since(1)) != 1 || l.Since(1)[0].Tool != "b" {
		t.Errorf("unexpected log: %+v", l.Since(0))
	}
	if got := l.Since(5); len(got) != 0 {
		t.Errorf("Since past end = %v", got)
	}
}

func TestWatchParent_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 1)
	mcpserver.WatchParent(ctx, func() { called <- struct{}{} }, 10*time.Millisecond, slog.Default())
	cancel()
	time.Sleep(50 * time.Millisecond)
	select {
	case <-called:
		t.Error("cancel called although parent is alive")
	default:
	}
}
