package legacy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

const script = `package main

func Tasks() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":            "Notices",
			"url":             "https://example.com/notices",
			"interval":        900,
			"region":          "#list",
			"ignoreSelectors": []string{".ad", ".clock"},
			"requiredKeyword": "tender",
			"wait":            "networkidle",
			"extraWait":       2,
		},
		{
			"url":     "https://example.com/other",
			"enabled": false,
		},
	}
}
`

func TestEval_ConvertsTasks(t *testing.T) {
	// WHAT: a script's Tasks output becomes external descriptors.
	ds, err := Eval(context.Background(), script, Options{OutputRoot: "/srv/out"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 2 {
		t.Fatalf("len = %d", len(ds))
	}
	a := ds[0]
	if a.Source != task.SourceExternal || a.Name != "Notices" || a.IntervalSeconds() != 900 {
		t.Fatalf("a = %+v", a)
	}
	if a.Extraction.Region != "#list" || len(a.Extraction.IgnoreSelectors) != 2 || a.RequiredKeyword != "tender" {
		t.Fatalf("extraction = %+v", a.Extraction)
	}
	if a.Navigation.Wait != task.WaitNetworkIdle || a.Navigation.ExtraWait != 2*time.Second {
		t.Fatalf("navigation = %+v", a.Navigation)
	}
	if !a.Enabled || a.OutputDir != filepath.Join("/srv/out", "legacy-0") {
		t.Fatalf("a = %+v", a)
	}
	b := ds[1]
	if b.Enabled || b.Name != b.URL || b.IntervalSeconds() != task.DefaultIntervalSeconds {
		t.Fatalf("b = %+v", b)
	}
}

func TestEval_InvalidSources(t *testing.T) {
	// WHAT: broken scripts return an error, never a partial list.
	// WHY: the engine keeps running with an empty legacy set.
	cases := map[string]string{
		"syntax":    "package main\nfunc Tasks( {",
		"no tasks":  "package main\nfunc Other() int { return 1 }\n",
		"wrong sig": "package main\nfunc Tasks() int { return 1 }\n",
		"no url":    "package main\nfunc Tasks() []map[string]interface{} { return []map[string]interface{}{{\"name\": \"x\"}} }\n",
		"panic":     "package main\nfunc Tasks() []map[string]interface{} { panic(\"boom\") }\n",
	}
	for name, src := range cases {
		ds, err := Eval(context.Background(), src, Options{})
		if err == nil || ds != nil {
			t.Errorf("%s: ds=%v err=%v", name, ds, err)
		}
	}
	if _, err := Eval(context.Background(), cases["no tasks"], Options{}); !errors.Is(err, ErrNoTasksFunc) {
		t.Fatalf("err = %v, want ErrNoTasksFunc", err)
	}
}

func TestConvert_Capabilities(t *testing.T) {
	// WHAT: interval and fetch funcs are carried as capabilities.
	n := 0
	raw := []map[string]interface{}{{
		"url":      "https://example.com/",
		"interval": func() int { n++; return 60 + n },
		"fetch": func(id string) (string, []byte, error) {
			return id + ".pdf", []byte("pdf"), nil
		},
		"resourcePattern": `id=(\d+)`,
	}}
	ds, err := Convert(raw, Options{})
	if err != nil {
		t.Fatal(err)
	}
	d := ds[0]
	if d.IntervalSeconds() != 61 || d.IntervalSeconds() != 62 {
		t.Fatal("interval func not re-evaluated")
	}
	res, err := d.Fetcher.Fetch(context.Background(), "7")
	if err != nil || res.Name != "7.pdf" {
		t.Fatalf("fetch = %+v, %v", res, err)
	}
	if d.Extraction.ResourcePattern == nil || d.Extraction.ResourcePattern.String() != `id=(\d+)` {
		t.Fatal("pattern not compiled")
	}

	if _, err := Convert([]map[string]interface{}{{"url": "u", "ignoreText": "("}}, Options{}); err == nil {
		t.Fatal("bad regexp accepted")
	}
	tpl, _ := Convert([]map[string]interface{}{{"url": "https://example.com/", "urlTemplate": "/dl/{id}"}}, Options{})
	if tpl[0].Fetcher == nil {
		t.Fatal("urlTemplate should yield an HTTP fetcher")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "none.go"), Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.go")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var reloads atomic.Int32
	w := NewWatcher(path, 20*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(context.Context) { reloads.Add(1) }) }()

	deadline := time.Now().Add(5 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		// keep writing until the watcher is installed and sees a change
		os.WriteFile(path, []byte(script+"\n"), 0o644)
		os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644)
		time.Sleep(50 * time.Millisecond)
	}
	if reloads.Load() == 0 {
		t.Fatal("no reload after writes")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
