// CLAUDE:SUMMARY pagewatch YAML configuration: runtime/browser settings and built-in task entries, with defaults and descriptor conversion.
// Package config loads pagewatch configuration from a YAML file and,
// optionally, built-in tasks from a SQLite table.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/fetcher"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// Seconds is a duration written as a number of seconds in YAML.
type Seconds float64

// Duration converts s.
func (s Seconds) Duration() time.Duration { return time.Duration(float64(s) * float64(time.Second)) }

// Config is the top-level pagewatch configuration.
type Config struct {
	Mode            string        `yaml:"mode"` // managed | attached
	RemoteURL       string        `yaml:"remote_url"`
	Headless        *bool         `yaml:"headless"`
	ProfileDir      string        `yaml:"profile_dir"`
	XvfbDisplay     string        `yaml:"xvfb_display"`
	BlockResources  []string      `yaml:"block_resources"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`

	MaxConcurrency    int           `yaml:"max_concurrency"`
	UserAgent         string        `yaml:"user_agent"`
	AcceptLanguage    string        `yaml:"accept_language"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	StartDelay        time.Duration `yaml:"start_delay"`

	OutputRoot   string `yaml:"output_root"`
	LegacyScript string `yaml:"legacy_script"`
	ChangesDB    string `yaml:"changes_db"`
	TasksDB      string `yaml:"tasks_db"`
	Listen       string `yaml:"listen"`

	Tasks []TaskConfig `yaml:"tasks"`
}

// TaskConfig is one built-in task entry.
type TaskConfig struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	URL             string   `yaml:"url" json:"url"`
	Interval        int      `yaml:"interval" json:"interval"`
	IntervalJitter  int      `yaml:"interval_jitter" json:"interval_jitter"`
	Wait            string   `yaml:"wait" json:"wait"`
	WaitSelector    string   `yaml:"wait_selector" json:"wait_selector"`
	ExtraWait       Seconds  `yaml:"extra_wait" json:"extra_wait"`
	Timeout         Seconds  `yaml:"timeout" json:"timeout"`
	Region          string   `yaml:"region" json:"region"`
	IgnoreSelectors []string `yaml:"ignore_selectors" json:"ignore_selectors"`
	IgnoreText      string   `yaml:"ignore_text" json:"ignore_text"`
	RequiredKeyword string   `yaml:"required_keyword" json:"required_keyword"`
	OutputDir       string   `yaml:"output_dir" json:"output_dir"`
	Enabled         *bool    `yaml:"enabled" json:"enabled"`

	Resources ResourceConfig `yaml:"resources" json:"resources"`
	Scripts   ScriptConfig   `yaml:"scripts" json:"scripts"`
}

// ResourceConfig selects resource ids and how to download them.
type ResourceConfig struct {
	Selector    string `yaml:"selector" json:"selector"`
	Attr        string `yaml:"attr" json:"attr"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	URLTemplate string `yaml:"url_template" json:"url_template"`
}

// ScriptConfig holds in-page JavaScript function expressions.
type ScriptConfig struct {
	ComparableText string `yaml:"comparable_text" json:"comparable_text"`
	ResourceIDs    string `yaml:"resource_ids" json:"resource_ids"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no tasks.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "managed"
	}
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = task.DefaultTimeout
	}
	if c.StartDelay <= 0 {
		c.StartDelay = 2 * time.Second
	}
	if c.OutputRoot == "" {
		c.OutputRoot = "output"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8790"
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case "managed":
	case "attached":
		if c.RemoteURL == "" {
			return errors.New("config: attached mode requires remote_url")
		}
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	seen := map[string]bool{}
	for i, t := range c.Tasks {
		if t.ID == "" || t.URL == "" {
			return fmt.Errorf("config: task %d: id and url are required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("config: duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Descriptors converts the task entries. http serves url_template
// downloads.
func (c *Config) Descriptors(http *fetcher.Fetcher) ([]task.Descriptor, error) {
	out := make([]task.Descriptor, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		d, err := t.Descriptor(c.OutputRoot, c.NavigationTimeout, http)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Descriptor converts one entry. outputRoot and timeout supply defaults.
func (t TaskConfig) Descriptor(outputRoot string, timeout time.Duration, http *fetcher.Fetcher) (task.Descriptor, error) {
	d := task.Descriptor{
		ID:              t.ID,
		Source:          task.SourceBuiltin,
		Name:            t.Name,
		URL:             t.URL,
		OutputDir:       t.OutputDir,
		Enabled:         t.Enabled == nil || *t.Enabled,
		RequiredKeyword: t.RequiredKeyword,
		Navigation: task.Navigation{
			Wait:         task.WaitStrategy(t.Wait),
			WaitSelector: t.WaitSelector,
			ExtraWait:    t.ExtraWait.Duration(),
			Timeout:      t.Timeout.Duration(),
		},
		Extraction: task.Extraction{
			Region:           t.Region,
			IgnoreSelectors:  t.IgnoreSelectors,
			ResourceSelector: t.Resources.Selector,
			ResourceAttr:     t.Resources.Attr,
			ComparableScript: t.Scripts.ComparableText,
			ResourceScript:   t.Scripts.ResourceIDs,
		},
	}
	if d.Name == "" {
		d.Name = t.ID
	}
	if d.OutputDir == "" {
		d.OutputDir = filepath.Join(outputRoot, t.ID)
	}
	if d.Navigation.Timeout <= 0 {
		d.Navigation.Timeout = timeout
	}
	switch d.Navigation.Wait {
	case "", task.WaitLoad, task.WaitDOMContentLoaded, task.WaitNetworkIdle, task.WaitNone:
	default:
		return d, fmt.Errorf("config: task %s: unknown wait %q", t.ID, t.Wait)
	}

	if err := checkSelectors(t); err != nil {
		return d, err
	}

	var err error
	if d.Extraction.IgnoreText, err = compile(t.ID, "ignore_text", t.IgnoreText); err != nil {
		return d, err
	}
	if d.Extraction.ResourcePattern, err = compile(t.ID, "resources.pattern", t.Resources.Pattern); err != nil {
		return d, err
	}

	switch {
	case t.IntervalJitter > 0:
		base := t.Interval
		if base <= 0 {
			base = task.DefaultIntervalSeconds
		}
		d.Interval = task.RandomInterval{Min: base, Max: base + t.IntervalJitter}
	case t.Interval > 0:
		d.Interval = task.FixedInterval(t.Interval)
	}

	if t.Resources.URLTemplate != "" {
		if http == nil {
			http = fetcher.New()
		}
		d.Fetcher = http.Template(t.Resources.URLTemplate, t.URL)
	}
	return d, nil
}

func compile(id, field, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("config: task %s: %s: %w", id, field, err)
	}
	return re, nil
}

// checkSelectors rejects CSS selectors that would silently match nothing.
func checkSelectors(t TaskConfig) error {
	type field struct{ name, sel string }
	fields := []field{
		{"region", t.Region},
		{"wait_selector", t.WaitSelector},
		{"resources.selector", t.Resources.Selector},
	}
	for i, sel := range t.IgnoreSelectors {
		fields = append(fields, field{fmt.Sprintf("ignore_selectors[%d]", i), sel})
	}
	for _, f := range fields {
		if f.sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(f.sel); err != nil {
			return fmt.Errorf("config: task %s: %s: %w", t.ID, f.name, err)
		}
	}
	return nil
}
