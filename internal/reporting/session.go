package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rpreport/internal/rp"
)

// LaunchState is the lifecycle state of the session's launch.
type LaunchState int

const (
	LaunchUnstarted LaunchState = iota
	LaunchActive
	LaunchFinished
)

var launchStateNames = [...]string{"UNSTARTED", "ACTIVE", "FINISHED"}

func (s LaunchState) String() string {
	if s < 0 || int(s) >= len(launchStateNames) {
		return fmt.Sprintf("LaunchState(%d)", int(s))
	}
	return launchStateNames[s]
}

// ParseLaunchState is the inverse of LaunchState.String.
func ParseLaunchState(s string) (LaunchState, error) {
	for i, name := range launchStateNames {
		if name == s {
			return LaunchState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown launch state %q", s)
}

// ItemState is the lifecycle state of an item.
type ItemState int

const (
	ItemStarted ItemState = iota
	ItemFinished
)

func (s ItemState) String() string {
	switch s {
	case ItemStarted:
		return "STARTED"
	case ItemFinished:
		return "FINISHED"
	}
	return fmt.Sprintf("ItemState(%d)", int(s))
}

// ParseItemState is the inverse of ItemState.String.
func ParseItemState(s string) (ItemState, error) {
	switch s {
	case "STARTED":
		return ItemStarted, nil
	case "FINISHED":
		return ItemFinished, nil
	}
	return 0, fmt.Errorf("unknown item state %q", s)
}

// ItemInfo is the session's local record of an item.
type ItemInfo struct {
	UUID       string
	Name       string
	Type       rp.ItemType
	ParentUUID string
	State      ItemState
	StartTime  time.Time
}

// StartLaunchParams describes a launch to start. A zero StartTime means now.
// A non-empty Agent adds system attributes describing the host.
type StartLaunchParams struct {
	Name        string
	StartTime   time.Time
	Description string
	Attributes  map[string]string
	Mode        string
	Rerun       bool
	Agent       string
}

// FinishLaunchParams describes how to close the launch. An empty Status
// lets the server compute it.
type FinishLaunchParams struct {
	EndTime     time.Time
	Status      rp.Status
	Description string
	Attributes  map[string]string
}

// StartItemParams describes an item to start. NoStats excludes the item
// from launch statistics.
type StartItemParams struct {
	Name        string
	StartTime   time.Time
	Type        rp.ItemType
	Description string
	Attributes  map[string]string
	Parameters  map[string]string
	ParentUUID  string
	NoStats     bool
	CodeRef     string
	TestCaseID  string
}

// FinishItemParams describes how to close an item.
type FinishItemParams struct {
	EndTime    time.Time
	Status     rp.Status
	Issue      *rp.Issue
	Attributes map[string]string
}

// Status summarizes a session.
type Status struct {
	LaunchUUID  string
	LaunchState LaunchState
	Items       int
	Unfinished  int
	PendingLogs int
	BatchSize   int
}

// Snapshot is the exported state of a session, enough to continue it in
// another process.
type Snapshot struct {
	LaunchUUID  string
	LaunchState LaunchState
	Items       []ItemInfo
	Suites      map[string]string
	Pending     []LogRecord
}

// Option configures a Session.
type Option func(*config)

type config struct {
	batchSize      int
	skippedIsIssue bool
	unifiedLogs    bool
	maxAttempts    int
	backoff        time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// WithLogBatchSize sets how many records are queued before a flush.
func WithLogBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithSkippedIsIssue controls whether SKIPPED items need investigation.
// When false, skipped items are finished with a NOT_ISSUE marker.
func WithSkippedIsIssue(v bool) Option {
	return func(c *config) { c.skippedIsIssue = v }
}

// WithUnifiedLogs routes every log through the batch, keeping plain and
// attachment logs in one total order.
func WithUnifiedLogs(v bool) Option {
	return func(c *config) { c.unifiedLogs = v }
}

// WithFlushRetry bounds batch flush attempts and sets the backoff step.
func WithFlushRetry(maxAttempts int, backoff time.Duration) Option {
	return func(c *config) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		c.backoff = backoff
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock replaces time.Now for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// Session reports one launch and its item tree. All methods are serialized
// by a single mutex. Close must be called on every exit path so queued logs
// are delivered.
type Session struct {
	mu sync.Mutex

	project *rp.ProjectScope
	cfg     config
	logger  *slog.Logger

	launchUUID  string
	launchState LaunchState
	items       map[string]*ItemInfo
	order       []string

	ids      *Translator
	resolver *Resolver
	batcher  *Batcher
}

// New returns an unstarted Session reporting into project.
func New(project *rp.ProjectScope, opts ...Option) *Session {
	cfg := config{
		batchSize:      DefaultLogBatchSize,
		skippedIsIssue: true,
		maxAttempts:    DefaultFlushMaxAttempts,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = project.Logger()
	}
	logger := cfg.logger.With("component", "reporting")

	return &Session{
		project: project,
		cfg:     cfg,
		logger:  logger,
		items:   map[string]*ItemInfo{},
		ids:     NewTranslator(project.Items(), project.Launches()),
		batcher: NewBatcher(project.Logs(), cfg.batchSize,
			WithMaxAttempts(cfg.maxAttempts),
			WithBackoff(cfg.backoff),
			WithBatchLogger(logger),
		),
	}
}

// --- Launch lifecycle ---

// StartLaunch starts the session's launch and returns its uuid.
func (s *Session) StartLaunch(ctx context.Context, p StartLaunchParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "start launch"
	if s.launchState != LaunchUnstarted {
		return "", s.fail(op, "", s.launchStateError(LaunchUnstarted))
	}
	if p.Name == "" {
		return "", s.fail(op, "", errors.New("launch name is required"))
	}

	attrs := AttributesFromMap(p.Attributes)
	if p.Agent != "" {
		attrs = append(attrs, AttributesFromMap(SystemInfo(p.Agent))...)
	}
	uuid, err := s.project.Launches().Start(ctx, rp.StartLaunchRQ{
		Name:        p.Name,
		Description: p.Description,
		Attributes:  attrs,
		StartTime:   rp.EpochMillis(s.stamp(p.StartTime)),
		Mode:        p.Mode,
		Rerun:       p.Rerun,
	})
	if err != nil {
		return "", s.fail(op, "", err)
	}
	s.attach(uuid)
	s.logger.Debug("launch started", "launch", uuid, "name", p.Name)
	return uuid, nil
}

// Resume attaches the session to a launch started elsewhere.
func (s *Session) Resume(launchUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.launchState != LaunchUnstarted {
		return s.fail("resume launch", "", s.launchStateError(LaunchUnstarted))
	}
	if launchUUID == "" {
		return s.fail("resume launch", "", errors.New("launch uuid is required"))
	}
	s.attach(launchUUID)
	s.logger.Debug("launch resumed", "launch", launchUUID)
	return nil
}

// FinishLaunch flushes queued logs and then finishes the launch.
func (s *Session) FinishLaunch(ctx context.Context, p FinishLaunchParams) (*rp.FinishLaunchRS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "finish launch"
	if err := s.requireActive(); err != nil {
		return nil, s.fail(op, "", err)
	}
	if _, err := s.batcher.Flush(ctx, true); err != nil {
		return nil, s.fail(op, "", err)
	}
	rs, err := s.project.Launches().Finish(ctx, s.launchUUID, rp.FinishExecutionRQ{
		EndTime:     rp.EpochMillis(s.stamp(p.EndTime)),
		Status:      p.Status,
		Description: p.Description,
		Attributes:  AttributesFromMap(p.Attributes),
	})
	if err != nil {
		return nil, s.fail(op, "", err)
	}
	s.launchState = LaunchFinished
	s.logger.Debug("launch finished", "launch", s.launchUUID, "status", p.Status)
	return rs, nil
}

// --- Items ---

// StartTestItem starts an item and returns its uuid. A parent finished by
// this session is rejected locally.
func (s *Session) StartTestItem(ctx context.Context, p StartItemParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uuid, err := s.startItemLocked(ctx, p)
	if err != nil {
		return "", s.fail(fmt.Sprintf("start item %q", p.Name), p.ParentUUID, err)
	}
	return uuid, nil
}

// FinishTestItem flushes queued logs and then finishes the item. Finishing
// an item twice is rejected locally without a request.
func (s *Session) FinishTestItem(ctx context.Context, uuid string, p FinishItemParams) (*rp.OperationCompletionRS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "finish item"
	if err := s.requireActive(); err != nil {
		return nil, s.fail(op, uuid, err)
	}
	it, known := s.items[uuid]
	if known && it.State == ItemFinished {
		return nil, s.fail(op, uuid, &IllegalStateError{
			Entity: "item", ID: uuid, State: ItemFinished.String(), Want: ItemStarted.String(),
		})
	}
	if _, err := s.batcher.Flush(ctx, true); err != nil {
		return nil, s.fail(op, uuid, err)
	}

	issue := p.Issue
	if p.Status == rp.StatusSkipped && !s.cfg.skippedIsIssue && issue == nil {
		issue = &rp.Issue{IssueType: rp.IssueNotIssue}
	}
	rs, err := s.project.Items().Finish(ctx, uuid, rp.FinishTestItemRQ{
		EndTime:    rp.EpochMillis(s.stamp(p.EndTime)),
		Status:     p.Status,
		Issue:      issue,
		LaunchUUID: s.launchUUID,
		Attributes: AttributesFromMap(p.Attributes),
	})
	if err != nil {
		return nil, s.fail(op, uuid, err)
	}

	if !known {
		it = &ItemInfo{UUID: uuid}
		s.items[uuid] = it
		s.order = append(s.order, uuid)
	}
	it.State = ItemFinished
	s.logger.Debug("item finished", "launch", s.launchUUID, "item", uuid, "status", p.Status)
	return rs, nil
}

// UpdateTestItem replaces the description and attributes of an item.
func (s *Session) UpdateTestItem(ctx context.Context, uuid, description string, attrs map[string]string) (*rp.OperationCompletionRS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "update item"
	if err := s.requireActive(); err != nil {
		return nil, s.fail(op, uuid, err)
	}
	id, err := s.ids.InternalID(ctx, uuid)
	if err != nil {
		return nil, s.fail(op, uuid, err)
	}
	rs, err := s.project.Items().Update(ctx, id, rp.UpdateTestItemRQ{
		Description: description,
		Attributes:  AttributesFromMap(attrs),
	})
	if err != nil {
		return nil, s.fail(op, uuid, err)
	}
	return rs, nil
}

// SuiteID returns the uuid of the leaf suite of path, creating any missing
// suites. Created suites are registered as started items of this session.
func (s *Session) SuiteID(ctx context.Context, path []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireActive(); err != nil {
		return "", &ReportingError{Op: "resolve suite", Launch: s.launchUUID, Path: path, Err: err}
	}
	return s.resolver.Resolve(ctx, path)
}

// ParentSuiteUUID returns the uuid of the first suite in the launch named
// like the second-to-last element of path.
func (s *Session) ParentSuiteUUID(ctx context.Context, path []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "find parent suite"
	if err := s.requireLaunch(); err != nil {
		return "", s.fail(op, "", err)
	}
	if len(path) < 2 {
		return "", s.fail(op, "", fmt.Errorf("path %v has no parent suite", path))
	}
	name := path[len(path)-2]
	launchID, err := s.ids.LaunchID(ctx, s.launchUUID)
	if err != nil {
		return "", s.fail(op, "", err)
	}
	found, err := s.project.Items().ListAll(ctx,
		rp.WithLaunchID(launchID),
		rp.WithItemName(name),
		rp.WithItemType(rp.TypeSuite),
	)
	if err != nil {
		return "", s.fail(op, "", err)
	}
	if len(found) == 0 {
		return "", s.fail(op, "", &rp.NotFoundError{Entity: "suite", Key: name})
	}
	uuid := found[0].UUID
	if uuid == "" {
		if uuid, err = s.ids.UUID(ctx, found[0].ID); err != nil {
			return "", s.fail(op, "", err)
		}
	}
	return uuid, nil
}

// --- Logs ---

// Log sends one record. Records with an attachment are queued in the batch;
// plain records are sent at once unless unified logs are enabled.
func (s *Session) Log(ctx context.Context, rec LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "log"
	if err := s.requireActive(); err != nil {
		return s.fail(op, rec.ItemUUID, err)
	}
	rec.Time = s.stamp(rec.Time)

	if rec.Attachment != nil || s.cfg.unifiedLogs {
		if _, err := s.batcher.Append(ctx, rec); err != nil {
			return s.fail(op, rec.ItemUUID, err)
		}
		return nil
	}
	if _, err := s.project.Logs().Save(ctx, rp.SaveLogRQ{
		LaunchUUID: s.launchUUID,
		ItemUUID:   rec.ItemUUID,
		Time:       rp.EpochMillis(rec.Time),
		Message:    rec.Message,
		Level:      rec.Level,
	}); err != nil {
		return s.fail(op, rec.ItemUUID, err)
	}
	return nil
}

// LogBatch queues records in order. Records without an item uuid are
// assigned itemUUID. On error, records appended before the failure stay
// queued.
func (s *Session) LogBatch(ctx context.Context, itemUUID string, recs ...LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "log batch"
	if err := s.requireActive(); err != nil {
		return s.fail(op, itemUUID, err)
	}
	for _, rec := range recs {
		if rec.ItemUUID == "" {
			rec.ItemUUID = itemUUID
		}
		rec.Time = s.stamp(rec.Time)
		if _, err := s.batcher.Append(ctx, rec); err != nil {
			return s.fail(op, itemUUID, err)
		}
	}
	return nil
}

// Flush sends every queued record now.
func (s *Session) Flush(ctx context.Context) (*rp.BatchSaveOperatingRS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ack, err := s.batcher.Flush(ctx, true)
	if err != nil {
		return nil, s.fail("flush logs", "", err)
	}
	return ack, nil
}

// Close delivers any queued records. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batcher.Len() == 0 {
		return nil
	}
	if _, err := s.batcher.Flush(ctx, true); err != nil {
		s.logger.Warn("pending logs not delivered on close", "launch", s.launchUUID, "pending", s.batcher.Len(), "error", err)
		return s.fail("close session", "", err)
	}
	return nil
}

// --- Queries ---

// LaunchUUID returns the uuid of the session's launch, or "".
func (s *Session) LaunchUUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchUUID
}

// LaunchState returns the launch lifecycle state.
func (s *Session) LaunchState() LaunchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchState
}

// LaunchInternalID returns the numeric id of the session's launch.
func (s *Session) LaunchInternalID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunch(); err != nil {
		return 0, s.fail("get launch id", "", err)
	}
	id, err := s.ids.LaunchID(ctx, s.launchUUID)
	if err != nil {
		return 0, s.fail("get launch id", "", err)
	}
	return id, nil
}

// RootSuites lists suites at the top of the launch.
func (s *Session) RootSuites(ctx context.Context) ([]rp.TestItemResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunch(); err != nil {
		return nil, s.fail("list root suites", "", err)
	}
	roots, err := s.resolver.Roots(ctx)
	if err != nil {
		return nil, s.fail("list root suites", "", err)
	}
	return roots, nil
}

// ChildSuites lists the suites directly under the suite with numeric id.
func (s *Session) ChildSuites(ctx context.Context, suiteID int) ([]rp.TestItemResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLaunch(); err != nil {
		return nil, s.fail("list child suites", "", err)
	}
	children, err := s.resolver.Children(ctx, suiteID)
	if err != nil {
		return nil, s.fail("list child suites", "", err)
	}
	return children, nil
}

// ItemID returns the numeric id of the item with the given uuid.
func (s *Session) ItemID(ctx context.Context, uuid string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ids.InternalID(ctx, uuid)
	if err != nil {
		return 0, s.fail("get item id", uuid, err)
	}
	return id, nil
}

// ItemUUID returns the uuid of the item with the given numeric id.
func (s *Session) ItemUUID(ctx context.Context, id int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uuid, err := s.ids.UUID(ctx, id)
	if err != nil {
		return "", s.fail(fmt.Sprintf("get item uuid %d", id), "", err)
	}
	return uuid, nil
}

// ProjectSettings returns the project's defect type configuration.
func (s *Session) ProjectSettings(ctx context.Context) (*rp.ProjectSettingsResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.project.Settings(ctx)
	if err != nil {
		return nil, s.fail("get project settings", "", err)
	}
	return settings, nil
}

// Unfinished returns items started by this session and not yet finished,
// newest first.
func (s *Session) Unfinished() []ItemInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ItemInfo
	for i := len(s.order) - 1; i >= 0; i-- {
		if it := s.items[s.order[i]]; it.State == ItemStarted {
			out = append(out, *it)
		}
	}
	return out
}

// Status summarizes the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		LaunchUUID:  s.launchUUID,
		LaunchState: s.launchState,
		Items:       len(s.items),
		PendingLogs: s.batcher.Len(),
		BatchSize:   s.batcher.Size(),
	}
	for _, it := range s.items {
		if it.State == ItemStarted {
			st.Unfinished++
		}
	}
	return st
}

// --- State export ---

// Snapshot exports the session state.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		LaunchUUID:  s.launchUUID,
		LaunchState: s.launchState,
		Items:       make([]ItemInfo, 0, len(s.order)),
		Pending:     s.batcher.Pending(),
	}
	for _, uuid := range s.order {
		snap.Items = append(snap.Items, *s.items[uuid])
	}
	if s.resolver != nil {
		snap.Suites = s.resolver.Cached()
	}
	return snap
}

// Restore loads a snapshot into a fresh session.
func (s *Session) Restore(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.launchState != LaunchUnstarted || len(s.items) > 0 {
		return s.fail("restore session", "", s.launchStateError(LaunchUnstarted))
	}
	if snap == nil {
		return nil
	}
	if snap.LaunchUUID != "" {
		s.attach(snap.LaunchUUID)
		s.launchState = snap.LaunchState
		s.resolver.Seed(snap.Suites)
	}
	for _, it := range snap.Items {
		it := it
		if _, dup := s.items[it.UUID]; !dup {
			s.order = append(s.order, it.UUID)
		}
		s.items[it.UUID] = &it
	}
	s.batcher.Restore(snap.Pending)
	return nil
}

// --- internals ---

func (s *Session) attach(launchUUID string) {
	s.launchUUID = launchUUID
	s.launchState = LaunchActive
	s.batcher.SetLaunch(launchUUID)
	s.resolver = NewResolver(launchUUID, s.project.Items(), s.ids, s.createSuite)
	s.resolver.logger = s.logger
}

func (s *Session) startItemLocked(ctx context.Context, p StartItemParams) (string, error) {
	if err := s.requireActive(); err != nil {
		return "", err
	}
	if p.Name == "" {
		return "", errors.New("item name is required")
	}
	if !p.Type.Valid() {
		return "", fmt.Errorf("invalid item type %q", p.Type)
	}
	if parent, ok := s.items[p.ParentUUID]; ok && parent.State == ItemFinished {
		return "", &IllegalStateError{
			Entity: "item", ID: p.ParentUUID, State: ItemFinished.String(), Want: ItemStarted.String(),
		}
	}

	start := s.stamp(p.StartTime)
	uuid, err := s.project.Items().Start(ctx, p.ParentUUID, rp.StartTestItemRQ{
		Name:        p.Name,
		Description: p.Description,
		Attributes:  AttributesFromMap(p.Attributes),
		Parameters:  AttributesFromMap(p.Parameters),
		StartTime:   rp.EpochMillis(start),
		LaunchUUID:  s.launchUUID,
		Type:        p.Type,
		HasStats:    !p.NoStats,
		CodeRef:     p.CodeRef,
		TestCaseID:  p.TestCaseID,
	})
	if err != nil {
		return "", err
	}

	s.items[uuid] = &ItemInfo{
		UUID:       uuid,
		Name:       p.Name,
		Type:       p.Type,
		ParentUUID: p.ParentUUID,
		State:      ItemStarted,
		StartTime:  start,
	}
	s.order = append(s.order, uuid)
	s.logger.Debug("item started", "launch", s.launchUUID, "item", uuid, "type", p.Type, "parent", p.ParentUUID)
	return uuid, nil
}

// createSuite backs the resolver; the session mutex is already held.
func (s *Session) createSuite(ctx context.Context, name, parentUUID string) (string, error) {
	return s.startItemLocked(ctx, StartItemParams{Name: name, Type: rp.TypeSuite, ParentUUID: parentUUID})
}

func (s *Session) requireActive() error {
	if s.launchState != LaunchActive {
		return s.launchStateError(LaunchActive)
	}
	return nil
}

func (s *Session) requireLaunch() error {
	if s.launchUUID == "" {
		return s.launchStateError(LaunchActive)
	}
	return nil
}

func (s *Session) launchStateError(want LaunchState) error {
	return &IllegalStateError{
		Entity: "launch", ID: s.launchUUID, State: s.launchState.String(), Want: want.String(),
	}
}

func (s *Session) fail(op, item string, err error) error {
	return &ReportingError{Op: op, Launch: s.launchUUID, Item: item, Err: err}
}

func (s *Session) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.cfg.now()
	}
	return t
}
