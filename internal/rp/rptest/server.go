// Package rptest provides an in-memory Report Portal server for tests.
// It implements the launch, item, log, settings and project admin endpoints
// the rp client uses and records every request in arrival order.
package rptest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"rpreport/internal/rp"
)

// Project is the project name routes are served under.
const Project = "demo"

// Server is a fake Report Portal instance.
type Server struct {
	URL string

	mu       sync.Mutex
	server   *httptest.Server
	calls    []Call
	launches map[string]*Launch
	items    []*Item
	nextID   int
	logs     int
	projects []string
	settings map[string]map[string]any

	malformedAcks int
	batchStatus   int
	failCreate    map[string]int
}

// Call is one recorded request. Multipart bodies are decoded into Batch.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	Batch  *Batch
}

// Batch is a decoded multipart log batch.
type Batch struct {
	JSON    []byte
	Entries []rp.SaveLogRQ
	Files   []FilePart
}

// FilePart is one file of a batch.
type FilePart struct {
	Name string
	MIME string
	Data string
}

// Launch is a launch known to the server.
type Launch struct {
	ID       int
	UUID     string
	Name     string
	Status   string
	Finished bool
}

// Item is a test item known to the server.
type Item struct {
	ID       int
	UUID     string
	Name     string
	Type     rp.ItemType
	Parent   int
	LaunchID int
	Finished bool
	Status   string
	Issue    *rp.Issue
}

// CreatedItem is a decoded start-item request; Parent is the parent uuid
// taken from the path.
type CreatedItem struct {
	Name   string
	Parent string
	RQ     rp.StartTestItemRQ
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		launches:   map[string]*Launch{},
		failCreate: map[string]int{},
		nextID:     100,
		projects:   []string{Project},
		settings:   map[string]map[string]any{},
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	s.URL = s.server.URL
	t.Cleanup(s.server.Close)
	return s
}

// Client returns an rp client wired to the server.
func (s *Server) Client(t testing.TB) *rp.Client {
	t.Helper()
	client, err := rp.New(s.URL, "test-token", rp.WithHTTPClient(s.server.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return client
}

// Project returns the scope of the served project.
func (s *Server) Project(t testing.TB) *rp.ProjectScope {
	t.Helper()
	return s.Client(t).Project(Project)
}

// AddLaunch registers a launch that already exists on the server.
func (s *Server) AddLaunch(uuid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.launches[uuid] = &Launch{ID: s.nextID, UUID: uuid, Name: uuid}
	return s.nextID
}

// AddItem registers an item that already exists on the server.
func (s *Server) AddItem(launchUUID, name string, typ rp.ItemType, parent *Item) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	parentID := 0
	if parent != nil {
		parentID = parent.ID
	}
	launchID := 0
	if l := s.launches[launchUUID]; l != nil {
		launchID = l.ID
	}
	return s.addItemLocked(launchID, name, typ, parentID)
}

func (s *Server) addItemLocked(launchID int, name string, typ rp.ItemType, parent int) *Item {
	s.nextID++
	it := &Item{
		ID:       s.nextID,
		UUID:     fmt.Sprintf("item-%d", s.nextID),
		Name:     name,
		Type:     typ,
		Parent:   parent,
		LaunchID: launchID,
	}
	s.items = append(s.items, it)
	return it
}

// SetMalformedAcks answers the next n batch posts with a truncated body.
func (s *Server) SetMalformedAcks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformedAcks = n
}

// SetBatchStatus fails every batch post with status; 0 restores success.
func (s *Server) SetBatchStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchStatus = status
}

// FailCreate fails creation of items named name with status.
func (s *Server) FailCreate(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate[name] = status
}

// SetProjects replaces the names returned by the project list endpoint.
func (s *Server) SetProjects(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = names
}

// ProjectConfig returns the configuration last sent for project name.
func (s *Server) ProjectConfig(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[name]
}

// Calls returns a copy of the recorded requests.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns the number of recorded calls with method whose path starts
// with prefix.
func (s *Server) Count(method, prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, prefix) {
			n++
		}
	}
	return n
}

// Batches returns the decoded multipart log batches.
func (s *Server) Batches() []*Batch {
	var out []*Batch
	for _, c := range s.Calls() {
		if c.Batch != nil {
			out = append(out, c.Batch)
		}
	}
	return out
}

// ItemCreates returns the decoded start-item requests.
func (s *Server) ItemCreates(t testing.TB) []CreatedItem {
	t.Helper()
	prefix := "/api/v2/" + Project + "/item"
	var out []CreatedItem
	for _, c := range s.Calls() {
		if c.Method != http.MethodPost || !strings.HasPrefix(c.Path, prefix) {
			continue
		}
		var rq rp.StartTestItemRQ
		if err := json.Unmarshal(c.Body, &rq); err != nil {
			t.Fatalf("decode start item: %v", err)
		}
		out = append(out, CreatedItem{
			Name:   rq.Name,
			Parent: strings.TrimPrefix(strings.TrimPrefix(c.Path, prefix), "/"),
			RQ:     rq,
		})
	}
	return out
}

// ByUUID returns the item with uuid, or nil.
func (s *Server) ByUUID(uuid string) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byUUID(uuid)
}

// ItemByName returns the first item named name, or nil.
func (s *Server) ItemByName(name string) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Name == name {
			return it
		}
	}
	return nil
}

// LaunchByUUID returns the launch with uuid, or nil.
func (s *Server) LaunchByUUID(uuid string) *Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches[uuid]
}

func (s *Server) byUUID(uuid string) *Item {
	for _, it := range s.items {
		if it.UUID == uuid {
			return it
		}
	}
	return nil
}

func (s *Server) byID(id int) *Item {
	for _, it := range s.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (it *Item) resource() rp.TestItemResource {
	return rp.TestItemResource{
		ID:       it.ID,
		UUID:     it.UUID,
		Name:     it.Name,
		Type:     string(it.Type),
		Status:   it.Status,
		Parent:   it.Parent,
		LaunchID: it.LaunchID,
		Issue:    it.Issue,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		b, err := readBatch(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.Batch = b
	} else {
		c.Body, _ = io.ReadAll(r.Body)
	}
	s.calls = append(s.calls, c)

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if r.Method == http.MethodGet && strings.Join(parts, "/") == "api/v1/project/names" {
		writeJSON(w, s.projects)
		return
	}
	if len(parts) >= 3 && strings.Join(parts[:3], "/") == "api/v1/project" {
		s.handleProject(w, r.Method, parts[3:], c.Body)
		return
	}
	if len(parts) < 4 || parts[0] != "api" || parts[2] != Project {
		writeError(w, http.StatusNotFound, 40400, "no route")
		return
	}
	version, rest := parts[1], parts[3:]
	route := version + " " + r.Method + " " + rest[0]

	switch {
	case route == "v2 POST launch":
		var rq rp.StartLaunchRQ
		json.Unmarshal(c.Body, &rq)
		s.nextID++
		uuid := fmt.Sprintf("launch-%d", s.nextID)
		s.launches[uuid] = &Launch{ID: s.nextID, UUID: uuid, Name: rq.Name}
		writeJSON(w, rp.EntryCreatedRS{ID: uuid, Number: 1})

	case route == "v1 PUT launch" && len(rest) == 3 && rest[2] == "finish":
		l, ok := s.launches[rest[1]]
		if !ok {
			writeError(w, http.StatusNotFound, 40410, "Launch not found")
			return
		}
		var rq rp.FinishExecutionRQ
		json.Unmarshal(c.Body, &rq)
		l.Finished, l.Status = true, string(rq.Status)
		writeJSON(w, rp.FinishLaunchRS{ID: rest[1], Number: 1})

	case route == "v1 GET launch" && len(rest) == 3 && rest[1] == "uuid":
		l, ok := s.launches[rest[2]]
		if !ok {
			writeError(w, http.StatusNotFound, 40410, "Launch not found")
			return
		}
		writeJSON(w, rp.LaunchResource{ID: l.ID, UUID: l.UUID, Name: l.Name, Number: 1, Status: l.Status})

	case route == "v2 POST item":
		var rq rp.StartTestItemRQ
		json.Unmarshal(c.Body, &rq)
		if status, ok := s.failCreate[rq.Name]; ok {
			writeError(w, status, 5000, "cannot create "+rq.Name)
			return
		}
		parent := 0
		if len(rest) == 2 {
			p := s.byUUID(rest[1])
			if p == nil {
				writeError(w, http.StatusNotFound, 40413, "Parent item not found")
				return
			}
			parent = p.ID
		}
		launchID := 0
		if l := s.launches[rq.LaunchUUID]; l != nil {
			launchID = l.ID
		}
		it := s.addItemLocked(launchID, rq.Name, rq.Type, parent)
		writeJSON(w, rp.EntryCreatedRS{ID: it.UUID})

	case route == "v2 PUT item" && len(rest) == 2:
		it := s.byUUID(rest[1])
		if it == nil {
			writeError(w, http.StatusNotFound, 40413, "Test Item not found")
			return
		}
		if it.Finished {
			writeError(w, http.StatusNotAcceptable, 40018, "Test Item already finished")
			return
		}
		var rq rp.FinishTestItemRQ
		json.Unmarshal(c.Body, &rq)
		it.Finished, it.Status, it.Issue = true, string(rq.Status), rq.Issue
		writeJSON(w, rp.OperationCompletionRS{Message: "finished " + it.UUID})

	case route == "v1 PUT item" && len(rest) == 3 && rest[2] == "update":
		writeJSON(w, rp.OperationCompletionRS{Message: "updated " + rest[1]})

	case route == "v1 GET item" && len(rest) == 1:
		writeJSON(w, rp.PagedItems{Content: s.filter(c.Query)})

	case route == "v1 GET item" && len(rest) == 3 && rest[1] == "uuid":
		it := s.byUUID(rest[2])
		if it == nil {
			writeError(w, http.StatusNotFound, 40413, "Test Item not found")
			return
		}
		writeJSON(w, it.resource())

	case route == "v1 GET item" && len(rest) == 2:
		id, _ := strconv.Atoi(rest[1])
		it := s.byID(id)
		if it == nil {
			writeError(w, http.StatusNotFound, 40413, "Test Item not found")
			return
		}
		writeJSON(w, it.resource())

	case route == "v2 POST log" && c.Batch != nil:
		if s.batchStatus != 0 {
			writeError(w, s.batchStatus, 5000, "batch rejected")
			return
		}
		if s.malformedAcks > 0 {
			s.malformedAcks--
			w.Write([]byte(`{"responses": [`))
			return
		}
		var rs rp.BatchSaveOperatingRS
		for range c.Batch.Entries {
			s.logs++
			rs.Responses = append(rs.Responses, rp.BatchElementCreatedRS{ID: fmt.Sprintf("log-%d", s.logs)})
		}
		writeJSON(w, rs)

	case route == "v2 POST log":
		s.logs++
		writeJSON(w, rp.EntryCreatedRS{ID: fmt.Sprintf("log-%d", s.logs)})

	case route == "v1 GET settings":
		writeJSON(w, rp.ProjectSettingsResource{ProjectID: 1})

	default:
		writeError(w, http.StatusNotFound, 40400, "no route for "+route)
	}
}

// filter serves a single page; later pages are empty.
func (s *Server) handleProject(w http.ResponseWriter, method string, rest []string, body []byte) {
	switch {
	case method == http.MethodPost && len(rest) == 0:
		var rq rp.CreateProjectRQ
		json.Unmarshal(body, &rq)
		if slices.Contains(s.projects, rq.ProjectName) {
			writeError(w, http.StatusConflict, 40901, "Project '"+rq.ProjectName+"' already exists")
			return
		}
		s.projects = append(s.projects, rq.ProjectName)
		s.nextID++
		writeJSON(w, map[string]int{"id": s.nextID})

	case method == http.MethodPut && len(rest) == 1:
		if !slices.Contains(s.projects, rest[0]) {
			writeError(w, http.StatusNotFound, 40404, "Project '"+rest[0]+"' not found")
			return
		}
		var rq rp.UpdateProjectRQ
		json.Unmarshal(body, &rq)
		s.settings[rest[0]] = rq.Configuration
		writeJSON(w, rp.OperationCompletionRS{Message: "Project with name = '" + rest[0] + "' is successfully updated."})

	default:
		writeError(w, http.StatusNotFound, 40400, "no route")
	}
}

func (s *Server) filter(q url.Values) []rp.TestItemResource {
	if q.Get("page.page") != "" && q.Get("page.page") != "1" {
		return nil
	}
	var out []rp.TestItemResource
	for _, it := range s.items {
		if v := q.Get("filter.eq.launchId"); v != "" && v != strconv.Itoa(it.LaunchID) {
			continue
		}
		if v := q.Get("filter.eq.type"); v != "" && v != string(it.Type) {
			continue
		}
		if v := q.Get("filter.eq.parentId"); v != "" && v != strconv.Itoa(it.Parent) {
			continue
		}
		if v := q.Get("filter.eq.name"); v != "" && v != it.Name {
			continue
		}
		if v := q.Get("filter.eq.status"); v != "" && v != it.Status {
			continue
		}
		out = append(out, it.resource())
	}
	return out
}

func readBatch(r *http.Request) (*Batch, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, err
	}
	vals := r.MultipartForm.Value[rp.JSONPartName]
	if len(vals) != 1 {
		return nil, fmt.Errorf("want one %s part, got %d", rp.JSONPartName, len(vals))
	}
	b := &Batch{JSON: []byte(vals[0])}
	if err := json.Unmarshal(b.JSON, &b.Entries); err != nil {
		return nil, err
	}
	for _, fh := range r.MultipartForm.File[rp.FilePartName] {
		fr, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(fr)
		fr.Close()
		if err != nil {
			return nil, err
		}
		b.Files = append(b.Files, FilePart{Name: fh.Filename, MIME: fh.Header.Get("Content-Type"), Data: string(data)})
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(rp.ErrorRS{ErrorCode: code, Message: msg})
}
