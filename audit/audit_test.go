package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/idgen"
	"github.com/hazyhaar/pagewatch/kit"
)

var ignoreVolatile = cmpopts.IgnoreFields(Entry{}, "EntryID", "Timestamp", "DurationMs")

func newLogger(t *testing.T, opts ...Option) *SQLiteLogger {
	t.Helper()
	l := NewSQLiteLogger(dbopen.OpenMemory(t), opts...)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func recent(t *testing.T, l *SQLiteLogger, limit int) []Entry {
	t.Helper()
	got, err := l.Recent(context.Background(), limit)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestLog_FillsDefaults(t *testing.T) {
	// WHAT: a bare entry gets an id, a timestamp, transport http, empty
	// parameters and a status derived from its error.
	l := newLogger(t, WithIDGenerator(idgen.Sequence("a")))
	ctx := context.Background()

	ok := &Entry{Action: "unblock", Parameters: `{"id":"notices"}`}
	failed := &Entry{Action: "check_now", Error: "engine is not running"}
	for _, e := range []*Entry{ok, failed} {
		if err := l.Log(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if ok.EntryID == "" || ok.EntryID[0] != 'a' || ok.Timestamp == 0 {
		t.Fatalf("defaults not applied: %+v", ok)
	}

	want := []Entry{
		{Action: "check_now", Transport: "http", Parameters: "{}", Status: "error", Error: "engine is not running"},
		{Action: "unblock", Transport: "http", Parameters: `{"id":"notices"}`, Status: "success"},
	}
	got := recent(t, l, 10)
	// Both entries may share a millisecond; compare as a set.
	sortByAction := cmpopts.SortSlices(func(a, b Entry) bool { return a.Action < b.Action })
	if diff := cmp.Diff(want, got, ignoreVolatile, sortByAction); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
}

func TestLogAsync_FlushedOnClose(t *testing.T) {
	// WHAT: buffered entries reach the table on Close, and entries logged
	// after Close are written directly instead of being dropped.
	l := newLogger(t, WithIDGenerator(idgen.Sequence("b")))
	for i := range 50 {
		l.LogAsync(&Entry{Action: "refresh_external", Timestamp: int64(1000 + i)})
	}
	l.Close()
	l.LogAsync(&Entry{Action: "stop", Timestamp: 5000})

	got := recent(t, l, 100)
	if len(got) != 51 {
		t.Fatalf("entries = %d, want 51", len(got))
	}
	if got[0].Action != "stop" || got[1].Timestamp != 1049 || got[50].Timestamp != 1000 {
		t.Fatalf("order: first=%+v second=%+v last=%+v", got[0], got[1], got[50])
	}
	if n := len(recent(t, l, 5)); n != 5 {
		t.Fatalf("limit 5 returned %d", n)
	}
}

func TestClose_Idempotent(t *testing.T) {
	l := newLogger(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMiddleware_RecordsCall(t *testing.T) {
	// WHAT: the middleware records call metadata, JSON parameters and the
	// outcome of the wrapped endpoint without altering it.
	l := newLogger(t)
	errNotBlocked := errors.New("task is not blocked")

	ok := Middleware(l, "check_now")(func(context.Context, any) (any, error) { return "queued", nil })
	fail := Middleware(l, "unblock")(func(context.Context, any) (any, error) { return nil, errNotBlocked })

	ctx := kit.WithTransport(context.Background(), "mcp")
	ctx = kit.WithRemoteAddr(ctx, "10.0.0.1")
	ctx = kit.WithRequestID(ctx, "req_abc")

	resp, err := ok(ctx, map[string]string{"id": "notices"})
	if err != nil || resp != "queued" {
		t.Fatalf("ok endpoint: resp=%v err=%v", resp, err)
	}
	if _, err := fail(context.Background(), nil); !errors.Is(err, errNotBlocked) {
		t.Fatalf("fail endpoint: err=%v", err)
	}
	l.Close()

	want := []Entry{
		{Action: "check_now", Transport: "mcp", RemoteAddr: "10.0.0.1", RequestID: "req_abc",
			Parameters: `{"id":"notices"}`, Status: "success"},
		{Action: "unblock", Transport: "http", Parameters: "{}", Status: "error", Error: "task is not blocked"},
	}
	sortByAction := cmpopts.SortSlices(func(a, b Entry) bool { return a.Action < b.Action })
	if diff := cmp.Diff(want, recent(t, l, 10), ignoreVolatile, sortByAction); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
}
