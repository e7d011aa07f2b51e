// Package mcp exposes a reporting session as Model Context Protocol tools,
// so an agent can report launches, suites, items and logs step by step.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"rpreport/internal/logging"
	"rpreport/internal/reporting"
	"rpreport/internal/rp"
	"rpreport/internal/store"
)

// Config wires a Server to its collaborators.
type Config struct {
	// NewSession returns a fresh, unstarted session. Required.
	NewSession func() *reporting.Session
	// Store, when set, receives a snapshot after every tool that changes
	// state and provides the session to continue on startup.
	Store       store.Store
	SessionName string
	Version     string
	Logger      *slog.Logger
}

// Server wraps the MCP SDK server around one reporting session at a time.
type Server struct {
	MCPServer *sdkmcp.Server
	Events    EventLog

	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	session *reporting.Session
}

// NewServer creates the server and restores the stored session, if any.
func NewServer(cfg Config) (*Server, error) {
	if cfg.NewSession == nil {
		return nil, errors.New("mcp: NewSession is required")
	}
	if cfg.SessionName == "" {
		cfg.SessionName = store.DefaultSession
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("mcp")
	}

	s := &Server{cfg: cfg, logger: logger, session: cfg.NewSession()}
	if cfg.Store != nil {
		snap, err := cfg.Store.LoadSession(cfg.SessionName)
		if err != nil {
			return nil, fmt.Errorf("mcp: load session: %w", err)
		}
		if err := s.session.Restore(snap); err != nil {
			return nil, fmt.Errorf("mcp: restore session: %w", err)
		}
	}

	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "rpreport", Version: cfg.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_launch",
		Description: "Start a Report Portal launch. Fails if a launch is already active; a finished launch is replaced by a new session.",
	}, s.handleStartLaunch)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "resume_launch",
		Description: "Attach to an existing launch by uuid instead of starting one.",
	}, s.handleResumeLaunch)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "resolve_suite",
		Description: "Find or create the suite chain for a path and return the uuid of the deepest suite.",
	}, s.handleResolveSuite)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_item",
		Description: "Start a test, step or other item under a parent uuid or a suite path.",
	}, s.handleStartItem)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "log",
		Description: "Log a message for an item (or the launch), optionally with a file or inline text attachment.",
	}, s.handleLog)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "finish_item",
		Description: "Finish an item with a status. Queued logs are delivered first.",
	}, s.handleFinishItem)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "finish_launch",
		Description: "Deliver queued logs and finish the launch.",
	}, s.handleFinishLaunch)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "session_status",
		Description: "Report the launch state, unfinished items and queued logs.",
	}, s.handleSessionStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_events",
		Description: "Read the log of reporting actions taken through this server, optionally from an index.",
	}, s.handleGetEvents)
}

// --- Tool input/output types ---

type startLaunchInput struct {
	Name        string            `json:"name" jsonschema:"launch name"`
	Description string            `json:"description,omitempty" jsonschema:"launch description"`
	Attributes  map[string]string `json:"attributes,omitempty" jsonschema:"launch attributes; key system=true marks them as system attributes"`
	Mode        string            `json:"mode,omitempty" jsonschema:"launch mode (DEFAULT or DEBUG)"`
	Rerun       bool              `json:"rerun,omitempty" jsonschema:"mark the launch as a rerun"`
}

type launchOutput struct {
	LaunchUUID string `json:"launch_uuid"`
}

type resumeLaunchInput struct {
	LaunchUUID string `json:"launch_uuid" jsonschema:"uuid of an existing launch"`
}

type resolveSuiteInput struct {
	Path     []string `json:"path,omitempty" jsonschema:"suite names from the root"`
	LongName string   `json:"long_name,omitempty" jsonschema:"dotted suite name such as Root.Sub.Leaf, used when path is empty"`
}

type uuidOutput struct {
	UUID string `json:"uuid"`
}

type startItemInput struct {
	Name        string            `json:"name" jsonschema:"item name"`
	Type        string            `json:"type,omitempty" jsonschema:"item type (TEST, STEP, SCENARIO, BEFORE_METHOD...); default TEST"`
	ParentUUID  string            `json:"parent_uuid,omitempty" jsonschema:"uuid of the parent item"`
	Suite       string            `json:"suite,omitempty" jsonschema:"dotted suite name resolved as the parent when parent_uuid is empty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	CodeRef     string            `json:"code_ref,omitempty"`
	TestCaseID  string            `json:"test_case_id,omitempty"`
}

type logInput struct {
	ItemUUID       string `json:"item_uuid,omitempty" jsonschema:"item to log to; empty logs to the launch"`
	Message        string `json:"message" jsonschema:"log message"`
	Level          string `json:"level,omitempty" jsonschema:"TRACE, DEBUG, INFO, WARN or ERROR"`
	FilePath       string `json:"file_path,omitempty" jsonschema:"path of a file to attach"`
	AttachmentText string `json:"attachment_text,omitempty" jsonschema:"inline text to attach"`
}

type logOutput struct {
	PendingLogs int `json:"pending_logs"`
}

type finishItemInput struct {
	UUID       string            `json:"uuid" jsonschema:"uuid of the item to finish"`
	Status     string            `json:"status,omitempty" jsonschema:"PASSED, FAILED, SKIPPED... or PASS/FAIL/SKIP; empty lets the server compute it"`
	IssueType  string            `json:"issue_type,omitempty" jsonschema:"defect type locator, e.g. pb001"`
	Comment    string            `json:"comment,omitempty" jsonschema:"issue comment"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type messageOutput struct {
	Message string `json:"message"`
}

type finishLaunchInput struct {
	Status      string `json:"status,omitempty" jsonschema:"launch status; empty lets the server compute it"`
	Description string `json:"description,omitempty"`
}

type finishLaunchOutput struct {
	LaunchUUID string `json:"launch_uuid"`
	Number     int    `json:"number,omitempty"`
	Link       string `json:"link,omitempty"`
}

type sessionStatusInput struct{}

type itemOutput struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	ParentUUID string `json:"parent_uuid,omitempty"`
}

type sessionStatusOutput struct {
	LaunchUUID  string       `json:"launch_uuid,omitempty"`
	LaunchState string       `json:"launch_state"`
	Items       int          `json:"items"`
	Unfinished  []itemOutput `json:"unfinished"`
	PendingLogs int          `json:"pending_logs"`
	BatchSize   int          `json:"batch_size"`
}

type getEventsInput struct {
	Since int `json:"since,omitempty" jsonschema:"return events from this index onward (0-based)"`
}

type getEventsOutput struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
}

// --- Tool handlers ---

func (s *Server) handleStartLaunch(ctx context.Context, _ *sdkmcp.CallToolRequest, in startLaunchInput) (*sdkmcp.CallToolResult, launchOutput, error) {
	if in.Name == "" {
		return nil, launchOutput{}, fmt.Errorf("name is required")
	}
	sess := s.current()
	if sess.LaunchState() == reporting.LaunchFinished {
		sess = s.replaceFinished(ctx)
	}
	uuid, err := sess.StartLaunch(ctx, reporting.StartLaunchParams{
		Name:        in.Name,
		Description: in.Description,
		Attributes:  in.Attributes,
		Mode:        in.Mode,
		Rerun:       in.Rerun,
		Agent:       "rpreport-mcp/" + s.cfg.Version,
	})
	if err != nil {
		s.persist()
		return nil, launchOutput{}, err
	}
	s.record("start_launch", uuid, map[string]string{"name": in.Name})
	return nil, launchOutput{LaunchUUID: uuid}, nil
}

func (s *Server) handleResumeLaunch(ctx context.Context, _ *sdkmcp.CallToolRequest, in resumeLaunchInput) (*sdkmcp.CallToolResult, launchOutput, error) {
	if in.LaunchUUID == "" {
		return nil, launchOutput{}, fmt.Errorf("launch_uuid is required")
	}
	sess := s.current()
	if sess.LaunchState() == reporting.LaunchFinished {
		sess = s.replaceFinished(ctx)
	}
	if err := sess.Resume(in.LaunchUUID); err != nil {
		s.persist()
		return nil, launchOutput{}, err
	}
	s.record("resume_launch", in.LaunchUUID, nil)
	return nil, launchOutput{LaunchUUID: in.LaunchUUID}, nil
}

func (s *Server) handleResolveSuite(ctx context.Context, _ *sdkmcp.CallToolRequest, in resolveSuiteInput) (*sdkmcp.CallToolResult, uuidOutput, error) {
	path := in.Path
	if len(path) == 0 {
		path = reporting.SplitSuitePath(in.LongName)
	}
	if len(path) == 0 {
		return nil, uuidOutput{}, fmt.Errorf("path or long_name is required")
	}
	uuid, err := s.current().SuiteID(ctx, path)
	if err != nil {
		// Suites created before the failure stay cached.
		s.persist()
		return nil, uuidOutput{}, err
	}
	s.record("resolve_suite", uuid, map[string]string{"depth": strconv.Itoa(len(path))})
	return nil, uuidOutput{UUID: uuid}, nil
}

func (s *Server) handleStartItem(ctx context.Context, _ *sdkmcp.CallToolRequest, in startItemInput) (*sdkmcp.CallToolResult, uuidOutput, error) {
	sess := s.current()
	parent := in.ParentUUID
	if parent == "" && in.Suite != "" {
		var err error
		if parent, err = sess.SuiteID(ctx, reporting.SplitSuitePath(in.Suite)); err != nil {
			s.persist()
			return nil, uuidOutput{}, err
		}
	}
	typ := rp.TypeTest
	if in.Type != "" {
		typ = rp.ItemType(strings.ToUpper(in.Type))
	}
	uuid, err := sess.StartTestItem(ctx, reporting.StartItemParams{
		Name:        in.Name,
		Type:        typ,
		Description: in.Description,
		Attributes:  in.Attributes,
		Parameters:  in.Parameters,
		ParentUUID:  parent,
		CodeRef:     in.CodeRef,
		TestCaseID:  in.TestCaseID,
	})
	if err != nil {
		s.persist()
		return nil, uuidOutput{}, err
	}
	s.record("start_item", uuid, map[string]string{"name": in.Name, "parent": parent})
	return nil, uuidOutput{UUID: uuid}, nil
}

func (s *Server) handleLog(ctx context.Context, _ *sdkmcp.CallToolRequest, in logInput) (*sdkmcp.CallToolResult, logOutput, error) {
	rec := reporting.LogRecord{
		Message:  in.Message,
		Level:    rp.LogLevel(strings.ToUpper(in.Level)),
		ItemUUID: in.ItemUUID,
	}
	switch {
	case in.FilePath != "":
		att, err := reporting.FileAttachment(in.FilePath)
		if err != nil {
			return nil, logOutput{}, err
		}
		rec.Attachment = att
	case in.AttachmentText != "":
		rec.Attachment = reporting.TextAttachment(in.AttachmentText)
	}
	sess := s.current()
	if err := sess.Log(ctx, rec); err != nil {
		s.persist()
		return nil, logOutput{}, err
	}
	s.record("log", in.ItemUUID, nil)
	return nil, logOutput{PendingLogs: sess.Status().PendingLogs}, nil
}

func (s *Server) handleFinishItem(ctx context.Context, _ *sdkmcp.CallToolRequest, in finishItemInput) (*sdkmcp.CallToolResult, messageOutput, error) {
	if in.UUID == "" {
		return nil, messageOutput{}, fmt.Errorf("uuid is required")
	}
	p := reporting.FinishItemParams{
		Status:     reporting.MapStatus(in.Status),
		Attributes: in.Attributes,
	}
	if in.IssueType != "" {
		p.Issue = &rp.Issue{IssueType: in.IssueType, Comment: in.Comment}
	}
	rs, err := s.current().FinishTestItem(ctx, in.UUID, p)
	if err != nil {
		s.persist()
		return nil, messageOutput{}, err
	}
	s.record("finish_item", in.UUID, map[string]string{"status": string(p.Status)})
	return nil, messageOutput{Message: rs.Message}, nil
}

func (s *Server) handleFinishLaunch(ctx context.Context, _ *sdkmcp.CallToolRequest, in finishLaunchInput) (*sdkmcp.CallToolResult, finishLaunchOutput, error) {
	sess := s.current()
	rs, err := sess.FinishLaunch(ctx, reporting.FinishLaunchParams{
		Status:      reporting.MapStatus(in.Status),
		Description: in.Description,
	})
	if err != nil {
		s.persist()
		return nil, finishLaunchOutput{}, err
	}
	s.record("finish_launch", sess.LaunchUUID(), nil)
	return nil, finishLaunchOutput{LaunchUUID: sess.LaunchUUID(), Number: rs.Number, Link: rs.Link}, nil
}

func (s *Server) handleSessionStatus(_ context.Context, _ *sdkmcp.CallToolRequest, _ sessionStatusInput) (*sdkmcp.CallToolResult, sessionStatusOutput, error) {
	sess := s.current()
	st := sess.Status()
	out := sessionStatusOutput{
		LaunchUUID:  st.LaunchUUID,
		LaunchState: st.LaunchState.String(),
		Items:       st.Items,
		Unfinished:  []itemOutput{},
		PendingLogs: st.PendingLogs,
		BatchSize:   st.BatchSize,
	}
	for _, it := range sess.Unfinished() {
		out.Unfinished = append(out.Unfinished, itemOutput{
			UUID: it.UUID, Name: it.Name, Type: string(it.Type), ParentUUID: it.ParentUUID,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetEvents(_ context.Context, _ *sdkmcp.CallToolRequest, in getEventsInput) (*sdkmcp.CallToolResult, getEventsOutput, error) {
	return nil, getEventsOutput{Events: s.Events.Since(in.Since), Total: s.Events.Len()}, nil
}

// --- helpers ---

func (s *Server) current() *reporting.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// replaceFinished swaps a finished session for a fresh one and returns it.
func (s *Server) replaceFinished(ctx context.Context) *reporting.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.LaunchState() == reporting.LaunchFinished {
		if err := s.session.Close(ctx); err != nil {
			s.logger.Warn("closing finished session", "error", err)
		}
		s.logger.Info("replacing finished session", "launch", s.session.LaunchUUID())
		s.session = s.cfg.NewSession()
	}
	return s.session
}

// record logs the action and persists the session state.
func (s *Server) record(tool, uuid string, meta map[string]string) {
	s.Events.Emit(tool, uuid, meta)
	s.logger.Debug("tool call", "tool", tool, "uuid", uuid)
	s.persist()
}

func (s *Server) persist() {
	if s.cfg.Store == nil {
		return
	}
	if err := s.cfg.Store.SaveSession(s.cfg.SessionName, s.current().Snapshot()); err != nil {
		s.logger.Error("save session", "session", s.cfg.SessionName, "error", err)
	}
}

// Session returns the session currently served.
func (s *Server) Session() *reporting.Session {
	return s.current()
}

// Shutdown delivers queued logs and saves the session state.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.current().Close(ctx)
	s.persist()
	return err
}
