package rp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestProject(t *testing.T, h http.HandlerFunc) *ProjectScope {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	client, err := New(server.URL, "test-token", WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return client.Project("demo")
}

// --- Launch tests ---

func TestLaunchScope_Start(t *testing.T) {
	var received map[string]any
	var auth string
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/demo/launch" && r.Method == "POST" {
			auth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&received)
			json.NewEncoder(w).Encode(EntryCreatedRS{ID: "launch-uuid", Number: 7})
			return
		}
		http.NotFound(w, r)
	})

	start := time.UnixMilli(1771104069000)
	uuid, err := project.Launches().Start(context.Background(), StartLaunchRQ{
		Name:      "nightly",
		StartTime: EpochMillis(start),
		Mode:      "DEFAULT",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if uuid != "launch-uuid" {
		t.Errorf("uuid = %q, want launch-uuid", uuid)
	}
	if auth != "Bearer test-token" {
		t.Errorf("Authorization = %q", auth)
	}
	if received["startTime"] != float64(1771104069000) {
		t.Errorf("startTime = %v, want epoch millis", received["startTime"])
	}
	if received["name"] != "nightly" || received["mode"] != "DEFAULT" {
		t.Errorf("unexpected body: %+v", received)
	}
}

func TestLaunchScope_Start_MissingID(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number": 3}`))
	})
	_, err := project.Launches().Start(context.Background(), StartLaunchRQ{Name: "x"})
	var created *EntryCreatedError
	if !errors.As(err, &created) {
		t.Fatalf("expected EntryCreatedError, got %v", err)
	}
}

func TestLaunchScope_Finish(t *testing.T) {
	var method, path string
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(FinishLaunchRS{ID: "launch-uuid", Number: 7})
	})

	rs, err := project.Launches().Finish(context.Background(), "launch-uuid", FinishExecutionRQ{Status: StatusPassed})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if method != "PUT" || path != "/api/v1/demo/launch/launch-uuid/finish" {
		t.Errorf("got %s %s", method, path)
	}
	if rs.ID != "launch-uuid" {
		t.Errorf("ack id = %q", rs.ID)
	}
}

func TestLaunchScope_GetByUUID_NotFound(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorRS{ErrorCode: 40410, Message: "Launch not found"})
	})
	_, err := project.Launches().GetByUUID(context.Background(), "nope")
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got: %v", err)
	}
	if !HasErrorCode(err, 40410) {
		t.Errorf("expected error code 40410, got: %v", err)
	}
}

// --- Item tests ---

func TestItemScope_Start_WithParent(t *testing.T) {
	var path string
	var received map[string]any
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(EntryCreatedRS{ID: "child-uuid"})
	})

	uuid, err := project.Items().Start(context.Background(), "parent-uuid", StartTestItemRQ{
		Name:       "login",
		Type:       TypeTest,
		LaunchUUID: "launch-uuid",
		HasStats:   false,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if uuid != "child-uuid" {
		t.Errorf("uuid = %q", uuid)
	}
	if path != "/api/v2/demo/item/parent-uuid" {
		t.Errorf("path = %q", path)
	}
	if v, ok := received["hasStats"]; !ok || v != false {
		t.Errorf("hasStats must be sent explicitly, body: %+v", received)
	}
}

func TestItemScope_Start_Root(t *testing.T) {
	var path string
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(EntryCreatedRS{ID: "root-uuid"})
	})
	if _, err := project.Items().Start(context.Background(), "", StartTestItemRQ{Name: "root", Type: TypeSuite}); err != nil {
		t.Fatal(err)
	}
	if path != "/api/v2/demo/item" {
		t.Errorf("path = %q", path)
	}
}

func TestItemScope_Finish_MissingMessage(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	})
	_, err := project.Items().Finish(context.Background(), "item-uuid", FinishTestItemRQ{Status: StatusPassed})
	var oc *OperationCompletionError
	if !errors.As(err, &oc) {
		t.Fatalf("expected OperationCompletionError, got %v", err)
	}
}

func TestItemScope_Update(t *testing.T) {
	var path string
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(OperationCompletionRS{Message: "updated"})
	})
	if _, err := project.Items().Update(context.Background(), 42, UpdateTestItemRQ{Description: "d"}); err != nil {
		t.Fatal(err)
	}
	if path != "/api/v1/demo/item/42/update" {
		t.Errorf("path = %q", path)
	}
}

func TestItemScope_List_Filters(t *testing.T) {
	var query map[string]string
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{}
		for k, v := range r.URL.Query() {
			query[k] = v[0]
		}
		json.NewEncoder(w).Encode(PagedItems{Content: []TestItemResource{{ID: 1, Name: "a"}}})
	})

	if _, err := project.Items().List(context.Background(),
		WithLaunchID(33), WithParentID(7), WithItemType(TypeSuite)); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"filter.eq.launchId": "33",
		"filter.eq.parentId": "7",
		"filter.eq.type":     "SUITE",
	}
	if diff := cmp.Diff(want, query); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestItemScope_ListAll_Paginates(t *testing.T) {
	var pages []string
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page.page")
		pages = append(pages, page)
		var content []TestItemResource
		n := 200
		if page == "2" {
			n = 3
		}
		for i := 0; i < n; i++ {
			content = append(content, TestItemResource{ID: i})
		}
		json.NewEncoder(w).Encode(PagedItems{Content: content})
	})

	all, err := project.Items().ListAll(context.Background(), WithLaunchID(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 203 {
		t.Errorf("got %d items, want 203", len(all))
	}
	if diff := cmp.Diff([]string{"1", "2"}, pages); diff != "" {
		t.Errorf("pages (-want +got):\n%s", diff)
	}
}

// --- Log tests ---

func TestLogScope_Save(t *testing.T) {
	var received SaveLogRQ
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/demo/log" || r.Header.Get("Content-Type") != "application/json" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(EntryCreatedRS{ID: "log-uuid"})
	})
	id, err := project.Logs().Save(context.Background(), SaveLogRQ{
		LaunchUUID: "l", ItemUUID: "i", Message: "hello", Level: LevelInfo,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "log-uuid" || received.Message != "hello" || received.Level != LevelInfo {
		t.Errorf("id=%q received=%+v", id, received)
	}
}

func TestLogScope_SaveBatch_Multipart(t *testing.T) {
	var jsonPart string
	var fileNames, fileTypes []string
	var fileBodies []string
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonPart = r.MultipartForm.Value[JSONPartName][0]
		for _, fh := range r.MultipartForm.File[FilePartName] {
			fileNames = append(fileNames, fh.Filename)
			fileTypes = append(fileTypes, fh.Header.Get("Content-Type"))
			f, _ := fh.Open()
			b, _ := io.ReadAll(f)
			f.Close()
			fileBodies = append(fileBodies, string(b))
		}
		json.NewEncoder(w).Encode(BatchSaveOperatingRS{Responses: []BatchElementCreatedRS{{ID: "a"}, {ID: "b"}}})
	})

	entries := []SaveLogRQ{
		{LaunchUUID: "l", ItemUUID: "i", Message: "plain"},
		{LaunchUUID: "l", ItemUUID: "i", Message: "with file", File: &FileRef{Name: "shot.png"}},
	}
	files := []FilePart{{Name: "shot.png", Content: []byte("PNGDATA"), MIME: "image/png"}}

	rs, err := project.Logs().SaveBatch(context.Background(), entries, files)
	if err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if len(rs.Responses) != 2 {
		t.Errorf("responses = %d", len(rs.Responses))
	}

	var decoded []SaveLogRQ
	if err := json.Unmarshal([]byte(jsonPart), &decoded); err != nil {
		t.Fatalf("json part: %v", err)
	}
	if len(decoded) != 2 || decoded[1].File == nil || decoded[1].File.Name != "shot.png" {
		t.Errorf("unexpected json part: %s", jsonPart)
	}
	if diff := cmp.Diff([]string{"shot.png"}, fileNames); diff != "" {
		t.Errorf("file names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"image/png"}, fileTypes); diff != "" {
		t.Errorf("file types (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"PNGDATA"}, fileBodies); diff != "" {
		t.Errorf("file bodies (-want +got):\n%s", diff)
	}
}

func TestLogScope_SaveBatch_AckClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"empty body", http.StatusOK, "", true},
		{"truncated json", http.StatusOK, `{"responses": [`, true},
		{"missing responses", http.StatusOK, `{}`, true},
		{"short responses", http.StatusOK, `{"responses": []}`, true},
		{"entry error code", http.StatusOK, `{"responses": [{"errorCode": 4001, "message": "bad item"}]}`, false},
		{"server error", http.StatusInternalServerError, `{"errorCode": 5000, "message": "boom"}`, false},
		{"unauthorized", http.StatusUnauthorized, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := project.Logs().SaveBatch(context.Background(), []SaveLogRQ{{Message: "m"}}, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsTransientAck(err); got != tt.transient {
				t.Errorf("IsTransientAck = %v, want %v (err: %v)", got, tt.transient, err)
			}
		})
	}
}

// --- Settings & admin ---

func TestProjectScope_Settings(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/demo/settings" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"project": 5, "subTypes": {"NO_DEFECT": [{"id": 1, "locator": "nd001", "shortName": "ND"}]}}`))
	})
	s, err := project.Settings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.ProjectID != 5 || s.SubTypes["NO_DEFECT"][0].Locator != "nd001" {
		t.Errorf("unexpected settings: %+v", s)
	}
}

func TestAdminScope_ProjectNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/project/names" {
			w.Write([]byte(`["alpha", "beta"]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client, _ := New(server.URL, "admin-token", WithHTTPClient(server.Client()))
	names, err := client.Admin().ProjectNames(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alpha", "beta"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
}

func TestAdminScope_DeleteProject(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(OperationCompletionRS{Message: "deleted"})
	}))
	defer server.Close()

	client, _ := New(server.URL, "admin-token", WithHTTPClient(server.Client()))
	if _, err := client.Admin().DeleteProject(context.Background(), 12); err != nil {
		t.Fatal(err)
	}
	if method != "DELETE" || path != "/api/v1/project/12" {
		t.Errorf("got %s %s", method, path)
	}
}

func TestAdminScope_CreateProject(t *testing.T) {
	var method, path string
	var got CreateProjectRQ
	reply := `{"id": 31}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(reply))
	}))
	defer server.Close()

	client, _ := New(server.URL, "admin-token", WithHTTPClient(server.Client()))
	id, err := client.Admin().CreateProject(context.Background(), CreateProjectRQ{ProjectName: "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if id != 31 || method != "POST" || path != "/api/v1/project" {
		t.Errorf("got id %d from %s %s", id, method, path)
	}
	if diff := cmp.Diff(CreateProjectRQ{ProjectName: "gamma", EntryType: "INTERNAL"}, got); diff != "" {
		t.Errorf("request (-want +got):\n%s", diff)
	}

	if _, err := client.Admin().CreateProject(context.Background(), CreateProjectRQ{ProjectName: "u", EntryType: "UPSA"}); err != nil {
		t.Fatal(err)
	}
	if got.EntryType != "UPSA" {
		t.Errorf("explicit entry type replaced: %q", got.EntryType)
	}

	reply = `{}`
	_, err = client.Admin().CreateProject(context.Background(), CreateProjectRQ{ProjectName: "delta"})
	var ece *EntryCreatedError
	if !errors.As(err, &ece) {
		t.Errorf("got %v, want EntryCreatedError", err)
	}
}

func TestAdminScope_UpdateProject(t *testing.T) {
	var method, path string
	var got UpdateProjectRQ
	reply := `{"message": "updated"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(reply))
	}))
	defer server.Close()

	client, _ := New(server.URL, "admin-token", WithHTTPClient(server.Client()))
	rq := UpdateProjectRQ{Configuration: map[string]any{"keepLogs": "3 months"}}
	rs, err := client.Admin().UpdateProject(context.Background(), "gamma", rq)
	if err != nil {
		t.Fatal(err)
	}
	if rs.Message != "updated" || method != "PUT" || path != "/api/v1/project/gamma" {
		t.Errorf("got %q from %s %s", rs.Message, method, path)
	}
	if diff := cmp.Diff(rq, got); diff != "" {
		t.Errorf("request (-want +got):\n%s", diff)
	}

	reply = `{}`
	_, err = client.Admin().UpdateProject(context.Background(), "gamma", rq)
	if !IsTransientAck(err) {
		t.Errorf("got %v, want OperationCompletionError", err)
	}
}

// --- Error tests ---

func TestResponseError_ErrorString(t *testing.T) {
	err := newResponseError("get launch", 404, []ErrorRS{{ErrorCode: 40410, Message: "Launch not found"}}, "")
	expected := "get launch: HTTP 404: [40410] Launch not found"
	if err.Error() != expected {
		t.Errorf("error string: got %q, want %q", err.Error(), expected)
	}

	errNoCode := newResponseError("list", 500, nil, "Internal Server Error")
	expectedNoCode := "list: HTTP 500: Internal Server Error"
	if errNoCode.Error() != expectedNoCode {
		t.Errorf("error string: got %q, want %q", errNoCode.Error(), expectedNoCode)
	}

	multi := newResponseError("batch", 200, []ErrorRS{{ErrorCode: 1, Message: "a"}, {ErrorCode: 2, Message: "b"}}, "")
	expectedMulti := "batch: HTTP 200: multiple errors:\n  - [1] a\n  - [2] b"
	if multi.Error() != expectedMulti {
		t.Errorf("error string: got %q, want %q", multi.Error(), expectedMulti)
	}
}

func TestResponseError_Predicates(t *testing.T) {
	err404 := fmt.Errorf("wrapped: %w", newResponseError("get launch", 404, []ErrorRS{{ErrorCode: 40410}}, ""))
	err401 := newResponseError("list", 401, nil, "unauthorized")
	err403 := newResponseError("update", 403, nil, "forbidden")

	if !IsNotFound(err404) {
		t.Error("expected IsNotFound for 404")
	}
	if IsNotFound(err401) {
		t.Error("did not expect IsNotFound for 401")
	}
	if !IsUnauthorized(err401) {
		t.Error("expected IsUnauthorized for 401")
	}
	if !IsForbidden(err403) {
		t.Error("expected IsForbidden for 403")
	}
	if !HasErrorCode(err404, 40410) {
		t.Error("expected HasErrorCode(40410)")
	}
	if !IsNotFound(&NotFoundError{Entity: "item", Key: "x"}) {
		t.Error("expected IsNotFound for NotFoundError")
	}
}

func TestDecodeResponse_ErrorCodeOnSuccessStatus(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errorCode": 40018, "message": "Item already finished"}`))
	})
	_, err := project.Items().Finish(context.Background(), "x", FinishTestItemRQ{})
	if !HasErrorCode(err, 40018) {
		t.Errorf("expected error code 40018, got %v", err)
	}
}

// --- Client construction tests ---

func TestNew_EmptyBaseURL(t *testing.T) {
	_, err := New("", "token")
	if err == nil {
		t.Error("expected error for empty baseURL")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	client, err := New("https://rp.example.com/", "token")
	if err != nil {
		t.Fatal(err)
	}
	if client.baseURL != "https://rp.example.com" {
		t.Errorf("baseURL not trimmed: %q", client.baseURL)
	}
}

func TestClient_EndpointEscapesSegments(t *testing.T) {
	client, _ := New("https://rp.example.com", "token")
	got := client.Project("my project").v1("item", "uuid", "a/b")
	want := "https://rp.example.com/api/v1/my%20project/item/uuid/a%2Fb"
	if got != want {
		t.Errorf("endpoint = %q, want %q", got, want)
	}
}

func TestReadAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".rp-api-key")
	if err := os.WriteFile(path, []byte("  secret-token \nignored\n"), 0600); err != nil {
		t.Fatal(err)
	}
	key, err := ReadAPIKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if key != "secret-token" {
		t.Errorf("key = %q", key)
	}
	if _, err := ReadAPIKey("/nonexistent/path"); err == nil {
		t.Error("expected error for missing file")
	}
}

// --- Retry tests ---

func TestRetryPolicy_DoesNotRetryHTTPErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := New(server.URL, "token",
		WithHTTPClient(server.Client()),
		WithRetryPolicy(RetryPolicy{MaxRetries: 3, WaitMin: time.Millisecond, WaitMax: time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Project("demo").Launches().GetByUUID(context.Background(), "x")
	if !HasStatusCode(err, http.StatusInternalServerError) {
		t.Fatalf("expected HTTP 500, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestRetryConnectionErrors(t *testing.T) {
	ctx := context.Background()
	if retry, _ := retryConnectionErrors(ctx, nil, errors.New("connection reset")); !retry {
		t.Error("expected retry on transport error")
	}
	if retry, _ := retryConnectionErrors(ctx, &http.Response{StatusCode: 503}, nil); retry {
		t.Error("did not expect retry on HTTP response")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if retry, err := retryConnectionErrors(cancelled, nil, errors.New("x")); retry || err == nil {
		t.Error("expected no retry and ctx error after cancellation")
	}
}

func TestNew_RejectsNegativeRetries(t *testing.T) {
	if _, err := New("https://rp.example.com", "t", WithRetryPolicy(RetryPolicy{MaxRetries: -1})); err == nil {
		t.Error("expected error for negative retries")
	}
}

// --- EpochMillis test ---

func TestEpochMillis_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		year  int
	}{
		{"milliseconds", "1771104069000", 2026},
		{"microseconds", "1771104069000000", 2026},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e EpochMillis
			if err := e.UnmarshalJSON([]byte(tt.input)); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if e.Time().Year() != tt.year {
				t.Errorf("expected year %d, got %d (time=%v)", tt.year, e.Time().Year(), e.Time())
			}
		})
	}
}

func TestItemType_Valid(t *testing.T) {
	if !TypeBeforeMethod.Valid() || ItemType("FIXTURE").Valid() {
		t.Error("unexpected ItemType.Valid result")
	}
}
