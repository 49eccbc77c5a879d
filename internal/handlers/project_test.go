package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ALOK9821/replit-clone/internal/config"
	"github.com/ALOK9821/replit-clone/internal/database"
	"github.com/ALOK9821/replit-clone/internal/mirror"
)

// fakeStore is a single-page in-memory mirror.Store.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]string
	copyFail error
}

func newFakeStore(keys ...string) *fakeStore {
	s := &fakeStore{objects: make(map[string]string)}
	for _, k := range keys {
		s.objects[k] = "data:" + k
	}
	return s
}

func (s *fakeStore) List(ctx context.Context, prefix, token string) (mirror.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return mirror.ListPage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var page mirror.ListPage
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			page.Keys = append(page.Keys, k)
		}
	}
	sort.Strings(page.Keys)
	return page, nil
}

func (s *fakeStore) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyFail != nil {
		return s.copyFail
	}
	s.objects[dst] = s.objects[src]
	return nil
}

func (s *fakeStore) Put(ctx context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = string(body)
	return nil
}

func (s *fakeStore) keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func setupTestDB(t *testing.T) {
	t.Helper()
	config.Cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	if err := database.Init(); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		database.DB = nil
	})
}

func setupMirror(t *testing.T, store mirror.Store) {
	t.Helper()
	Mirror = mirror.New(store)
	t.Cleanup(func() { Mirror = nil })
}

func postProject(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/project", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	CreateProject(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

func TestCreateProject_Success(t *testing.T) {
	setupTestDB(t)
	store := newFakeStore("base/python/main.py", "base/python/lib/util.py", "base/python2/legacy.py", "base/node/index.js")
	setupMirror(t, store)

	w := postProject(t, `{"sessionTemplateId":"python","newSessionId":"abc123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["message"]; got != "Project created successfully" {
		t.Errorf("message = %q", got)
	}

	got := store.keys("code/")
	want := []string{"code/abc123/lib/util.py", "code/abc123/main.py"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("copied keys = %v, want %v", got, want)
	}

	p, err := database.GetProject("abc123")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.Status != database.StatusReady || p.Template != "python" {
		t.Errorf("ledger = %+v", p)
	}
}

func TestCreateProject_DefaultTemplateAndLegacyFields(t *testing.T) {
	store := newFakeStore("base/default/README.md", "base/go/main.go")
	setupMirror(t, store)

	if w := postProject(t, `{"newSessionId":"s1"}`); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if keys := store.keys("code/s1/"); len(keys) != 1 || keys[0] != "code/s1/README.md" {
		t.Errorf("default template keys = %v", keys)
	}

	if w := postProject(t, `{"language":"go","replId":"s2"}`); w.Code != http.StatusCreated {
		t.Fatalf("legacy status = %d", w.Code)
	}
	if keys := store.keys("code/s2/"); len(keys) != 1 || keys[0] != "code/s2/main.go" {
		t.Errorf("legacy keys = %v", keys)
	}
}

func TestCreateProject_EmptyTemplateCreatesEmptyProject(t *testing.T) {
	store := newFakeStore()
	setupMirror(t, store)

	if w := postProject(t, `{"sessionTemplateId":"missing","newSessionId":"s3"}`); w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
}

func TestCreateProject_BadRequests(t *testing.T) {
	setupMirror(t, newFakeStore())

	tests := []struct {
		name string
		body string
	}{
		{"missing session id", `{"sessionTemplateId":"python"}`},
		{"blank session id", `{"newSessionId":"  "}`},
		{"malformed json", `{"newSessionId":`},
		{"session id with slash", `{"newSessionId":"../other"}`},
		{"template with slash", `{"sessionTemplateId":"a/b","newSessionId":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postProject(t, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if decodeBody(t, w)["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestCreateProject_CopyFailure(t *testing.T) {
	setupTestDB(t)
	store := newFakeStore("base/python/main.py")
	store.copyFail = errors.New("access denied")
	setupMirror(t, store)

	w := postProject(t, `{"sessionTemplateId":"python","newSessionId":"abc"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "Failed to create project" {
		t.Errorf("error = %q", got)
	}

	p, err := database.GetProject("abc")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.Status != database.StatusFailed || !strings.Contains(p.Error, "access denied") {
		t.Errorf("ledger = %+v", p)
	}
}

func TestCreateProject_ClientDisconnectDoesNotAbortCopy(t *testing.T) {
	setupTestDB(t)
	store := newFakeStore("base/python/main.py", "base/python/lib/util.py")
	setupMirror(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/project", strings.NewReader(`{"sessionTemplateId":"python","newSessionId":"gone"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	CreateProject(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if keys := store.keys("code/gone/"); len(keys) != 2 {
		t.Errorf("copied keys = %v, want 2", keys)
	}
	p, err := database.GetProject("gone")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.Status != database.StatusReady {
		t.Errorf("ledger status = %q, want ready", p.Status)
	}
}

func TestGetProject(t *testing.T) {
	setupTestDB(t)
	setupMirror(t, newFakeStore("base/default/a.txt"))
	postProject(t, `{"newSessionId":"known"}`)

	r := chi.NewRouter()
	r.Get("/project/{id}", GetProject)

	req := httptest.NewRequest("GET", "/project/known", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var p database.Project
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.SessionID != "known" || p.Status != database.StatusReady || p.Template != DefaultTemplate {
		t.Errorf("project = %+v", p)
	}

	req = httptest.NewRequest("GET", "/project/unknown", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	setupTestDB(t)
	setupMirror(t, newFakeStore())

	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" || body["database"] != "connected" || body["object_store"] != "configured" {
		t.Errorf("health = %v", body)
	}
}
