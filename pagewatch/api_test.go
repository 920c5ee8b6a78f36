package pagewatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/scheduler"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

func TestAPI_Routes(t *testing.T) {
	// WHAT: the operator API answers with JSON and maps engine errors to
	// HTTP status codes.
	e, _ := newTestEngine(t, Config{})
	e.SetTasks([]task.Descriptor{notices(t.TempDir())})
	srv := httptest.NewServer(e.Handler(nil))
	defer srv.Close()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/api/tasks", http.StatusOK},
		{http.MethodGet, "/api/tasks/notices", http.StatusOK},
		{http.MethodGet, "/api/tasks/missing", http.StatusNotFound},
		{http.MethodPost, "/api/tasks/missing/unblock", http.StatusNotFound},
		{http.MethodPost, "/api/tasks/notices/unblock", http.StatusConflict},
		{http.MethodPost, "/api/tasks/notices/check", http.StatusConflict},
		{http.MethodGet, "/api/changes?limit=5", http.StatusOK},
		{http.MethodPost, "/api/external/refresh", http.StatusOK},
	}
	for _, c := range cases {
		req, _ := http.NewRequest(c.method, srv.URL+c.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Errorf("%s %s: status %d, want %d", c.method, c.path, resp.StatusCode, c.want)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s %s: content type %q", c.method, c.path, ct)
		}
	}
}

func TestAPI_TasksBody(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	e.SetTasks([]task.Descriptor{notices(t.TempDir())})
	srv := httptest.NewServer(e.Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tasks")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []scheduler.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "task:notices" || got[0].Source != "builtin" || !got[0].Enabled {
		t.Fatalf("tasks = %+v", got)
	}
}

func TestAPI_StartStop(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	srv := httptest.NewServer(e.Handler(nil))
	defer srv.Close()

	post := func(path string) Snapshot {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var s Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			t.Fatal(err)
		}
		return s
	}
	if s := post("/api/start"); !s.Running {
		t.Fatalf("after start: %+v", s)
	}
	if s := post("/api/stop"); s.Running {
		t.Fatalf("after stop: %+v", s)
	}
}

func TestAPI_Metrics(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	e.SetTasks([]task.Descriptor{notices(t.TempDir())})
	srv := httptest.NewServer(e.Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `pagewatch_tasks{state="total"} 1`) {
		t.Fatalf("metrics body:\n%s", body)
	}
}

func TestAPI_AuditsOperatorActions(t *testing.T) {
	// WHAT: mutating calls land in the audit trail with transport and
	// outcome, reads do not.
	db := dbopen.OpenMemory(t)
	e, err := New(context.Background(), Config{StartDelay: 10 * time.Millisecond},
		WithPool(&fakePool{page: &fakePage{html: pageV1}}), WithAuditDB(db))
	if err != nil {
		t.Fatal(err)
	}
	e.SetTasks([]task.Descriptor{notices(t.TempDir())})
	srv := httptest.NewServer(e.Handler(nil))
	defer srv.Close()

	http.Get(srv.URL + "/api/tasks")
	resp, err := http.Post(srv.URL+"/api/tasks/notices/unblock", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := e.AuditTrail(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	got := entries[0]
	if got.Action != "unblock" || got.Transport != "http" || got.Status != "error" || got.Parameters != `{"id":"notices"}` {
		t.Fatalf("entry = %+v", got)
	}
	if got.RequestID == "" || got.RemoteAddr == "" {
		t.Fatalf("entry missing request context: %+v", got)
	}
}

func TestAPI_CheckDisabledTaskConflicts(t *testing.T) {
	// WHAT: a check request for a disabled task is refused with 409.
	// WHY: answering "queued" would promise a check that never runs.
	e, _ := newTestEngine(t, Config{})
	off := notices(t.TempDir())
	off.Enabled = false
	e.SetTasks([]task.Descriptor{off})
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.CheckNow("notices"); !errors.Is(err, ErrNotSchedulable) {
		t.Fatalf("check disabled: %v", err)
	}

	srv := httptest.NewServer(e.Handler(nil))
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/api/tasks/notices/check", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}
