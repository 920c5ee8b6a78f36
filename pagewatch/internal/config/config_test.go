package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

const sample = `
mode: managed
headless: false
max_concurrency: 3
start_delay: 5s
output_root: /srv/watch
tasks:
  - id: notices
    name: Public notices
    url: https://example.com/notices
    interval: 600
    wait: networkidle
    wait_selector: "#list"
    extra_wait: 1.5
    region: "#list"
    ignore_selectors: [".ad"]
    ignore_text: '\d+ visitors'
    required_keyword: tender
    resources:
      selector: a.pdf
      pattern: 'doc=(\d+)'
      url_template: /download?doc={id}
  - id: jittered
    url: https://example.com/j
    interval: 60
    interval_jitter: 30
    enabled: false
`

func TestParse_SampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if *cfg.Headless || cfg.MaxConcurrency != 3 || cfg.StartDelay != 5*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.NavigationTimeout != task.DefaultTimeout {
		t.Fatalf("navigation timeout default = %v", cfg.NavigationTimeout)
	}

	ds, err := cfg.Descriptors(nil)
	if err != nil {
		t.Fatal(err)
	}
	n := ds[0]
	if n.OutputDir != filepath.Join("/srv/watch", "notices") || !n.Enabled || n.IntervalSeconds() != 600 {
		t.Fatalf("notices = %+v", n)
	}
	if n.Navigation.ExtraWait != 1500*time.Millisecond || n.Navigation.Timeout != task.DefaultTimeout {
		t.Fatalf("navigation = %+v", n.Navigation)
	}
	if n.Extraction.IgnoreText == nil || n.Extraction.ResourcePattern == nil || n.Fetcher == nil {
		t.Fatalf("extraction = %+v", n.Extraction)
	}

	j := ds[1]
	if j.Enabled || j.Name != "jittered" {
		t.Fatalf("jittered = %+v", j)
	}
	for i := 0; i < 50; i++ {
		if s := j.IntervalSeconds(); s < 60 || s > 90 {
			t.Fatalf("interval %d outside [60,90]", s)
		}
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg := Default()
	if cfg.Mode != "managed" || !*cfg.Headless || cfg.MaxConcurrency != 2 || cfg.StartDelay != 2*time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"attached without url": "mode: attached\n",
		"unknown mode":         "mode: cloud\n",
		"missing url":          "tasks:\n  - id: a\n",
		"duplicate id":         "tasks:\n  - {id: a, url: u}\n  - {id: a, url: v}\n",
		"bad yaml":             "tasks: [",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}

	cfg, _ := Parse([]byte("tasks:\n  - {id: a, url: u, ignore_text: '('}\n"))
	if _, err := cfg.Descriptors(nil); err == nil {
		t.Error("bad regexp accepted")
	}
	cfg, _ = Parse([]byte("tasks:\n  - {id: a, url: u, wait: forever}\n"))
	if _, err := cfg.Descriptors(nil); err == nil {
		t.Error("bad wait accepted")
	}
	cfg, _ = Parse([]byte("tasks:\n  - {id: a, url: u, region: 'div['}\n"))
	if _, err := cfg.Descriptors(nil); err == nil || !strings.Contains(err.Error(), "region") {
		t.Errorf("bad region selector: err = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagewatch.yaml")
	os.WriteFile(path, []byte(sample), 0o644)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("tasks = %d", len(cfg.Tasks))
	}
}

func TestDBTasks_RoundTrip(t *testing.T) {
	// WHAT: rows written through UpsertDBTask load back as task entries.
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))

	off := false
	if err := UpsertDBTask(ctx, db, TaskConfig{ID: "b", URL: "https://b.example", Interval: 120, Enabled: &off}); err != nil {
		t.Fatal(err)
	}
	if err := UpsertDBTask(ctx, db, TaskConfig{ID: "a", URL: "https://a.example", Region: "main"}); err != nil {
		t.Fatal(err)
	}

	tasks, err := LoadDBTasks(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if !*tasks[0].Enabled || *tasks[1].Enabled || tasks[1].Interval != 120 || tasks[0].Region != "main" {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestWatchTasks_FiresOnUpsert(t *testing.T) {
	// WHAT: an upsert into watch_tasks triggers the reload action.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))

	fired := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchTasks(db, nil).OnChange(ctx, func(context.Context) error {
			select {
			case fired <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	if err := UpsertDBTask(ctx, db, TaskConfig{ID: "a", URL: "https://a.example"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("watcher did not fire")
	}
	cancel()
	<-done
}
