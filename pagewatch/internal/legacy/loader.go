// CLAUDE:SUMMARY Loads legacy task scripts (interpreted Go exposing Tasks() []map[string]interface{}) into standard task descriptors.
// Package legacy loads operator-written task scripts. A script is a Go
// source file in package main, interpreted with yaegi, exposing
//
//	func Tasks() []map[string]interface{}
//
// Each map uses the keys documented on Convert. The interpreted code never
// reaches the engine: its output is converted into plain descriptors, and
// only optional interval and fetch funcs are carried as capabilities.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/fetcher"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// ErrNoTasksFunc is returned when a script does not define Tasks with the
// expected signature.
var ErrNoTasksFunc = errors.New("legacy: script has no func Tasks() []map[string]interface{}")

// Options tunes conversion.
type Options struct {
	// OutputRoot holds default output directories (legacy-<n>). Default: "output".
	OutputRoot string
	// HTTP serves "urlTemplate" resource fetches.
	HTTP *fetcher.Fetcher
	// Timeout bounds the Tasks() call. Default: 10s.
	Timeout time.Duration
}

func (o *Options) defaults() {
	if o.OutputRoot == "" {
		o.OutputRoot = "output"
	}
	if o.HTTP == nil {
		o.HTTP = fetcher.New()
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
}

// LoadFile reads and evaluates the script at path.
func LoadFile(ctx context.Context, path string, opts Options) ([]task.Descriptor, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("legacy: read %s: %w", path, err)
	}
	return Eval(ctx, string(src), opts)
}

// Eval interprets src and converts what its Tasks function returns.
func Eval(ctx context.Context, src string, opts Options) ([]task.Descriptor, error) {
	opts.defaults()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("legacy: load stdlib: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("legacy: evaluate script: %w", err)
	}
	v, err := i.Eval("main.Tasks")
	if err != nil {
		return nil, ErrNoTasksFunc
	}
	tasksFn, ok := v.Interface().(func() []map[string]interface{})
	if !ok {
		return nil, ErrNoTasksFunc
	}

	raw, err := call(ctx, opts.Timeout, tasksFn)
	if err != nil {
		return nil, err
	}
	return Convert(raw, opts)
}

func call(ctx context.Context, timeout time.Duration, fn func() []map[string]interface{}) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		raw []map[string]interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("legacy: Tasks panicked: %v", r)}
			}
		}()
		done <- result{raw: fn()}
	}()

	select {
	case r := <-done:
		return r.raw, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("legacy: Tasks did not return: %w", ctx.Err())
	}
}

// Convert turns raw task maps into descriptors. Recognised keys:
//
//	name, url, outputDir, enabled (default true), interval (seconds or
//	func() int), wait, waitSelector, extraWait, timeout (seconds), region,
//	ignoreSelectors, ignoreText, requiredKeyword, resourceSelector,
//	resourceAttr, resourcePattern, comparableScript, resourceScript,
//	urlTemplate, fetch (func(id string) (name string, data []byte, err error))
//
// An entry without a url is an error; the whole list is rejected so a
// broken script never half-applies.
func Convert(raw []map[string]interface{}, opts Options) ([]task.Descriptor, error) {
	opts.defaults()
	out := make([]task.Descriptor, 0, len(raw))
	for i, m := range raw {
		d, err := convertOne(i, m, opts)
		if err != nil {
			return nil, fmt.Errorf("legacy: task %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func convertOne(i int, m map[string]interface{}, opts Options) (task.Descriptor, error) {
	f := fields(m)
	d := task.Descriptor{
		ID:              fmt.Sprintf("%d", i),
		Source:          task.SourceExternal,
		Name:            f.str("name"),
		URL:             f.str("url"),
		OutputDir:       f.str("outputDir"),
		Enabled:         f.boolean("enabled", true),
		RequiredKeyword: f.str("requiredKeyword"),
		Navigation: task.Navigation{
			Wait:         task.WaitStrategy(f.str("wait")),
			WaitSelector: f.str("waitSelector"),
			ExtraWait:    f.seconds("extraWait"),
			Timeout:      f.seconds("timeout"),
		},
		Extraction: task.Extraction{
			Region:           f.str("region"),
			IgnoreSelectors:  f.strs("ignoreSelectors"),
			ResourceSelector: f.str("resourceSelector"),
			ResourceAttr:     f.str("resourceAttr"),
			ComparableScript: f.str("comparableScript"),
			ResourceScript:   f.str("resourceScript"),
		},
	}
	if d.URL == "" {
		return d, errors.New("missing url")
	}
	if d.Name == "" {
		d.Name = d.URL
	}
	if d.OutputDir == "" {
		d.OutputDir = filepath.Join(opts.OutputRoot, fmt.Sprintf("legacy-%d", i))
	}

	var err error
	if d.Extraction.IgnoreText, err = f.regexp("ignoreText"); err != nil {
		return d, err
	}
	if d.Extraction.ResourcePattern, err = f.regexp("resourcePattern"); err != nil {
		return d, err
	}

	switch v := m["interval"].(type) {
	case func() int:
		d.Interval = task.IntervalFunc(v)
	default:
		if n, ok := toInt(v); ok && n > 0 {
			d.Interval = task.FixedInterval(n)
		}
	}

	switch fn := m["fetch"].(type) {
	case func(string) (string, []byte, error):
		d.Fetcher = task.FetcherFunc(func(_ context.Context, id string) (task.Resource, error) {
			name, data, err := fn(id)
			return task.Resource{Name: name, Data: data}, err
		})
	default:
		if tpl := f.str("urlTemplate"); tpl != "" {
			d.Fetcher = opts.HTTP.Template(tpl, d.URL)
		}
	}
	return d, nil
}

type fields map[string]interface{}

func (f fields) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f fields) boolean(key string, def bool) bool {
	if b, ok := f[key].(bool); ok {
		return b
	}
	return def
}

func (f fields) strs(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func (f fields) seconds(key string) time.Duration {
	switch v := f[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case float32:
		return time.Duration(float64(v) * float64(time.Second))
	}
	if n, ok := toInt(f[key]); ok {
		return time.Duration(n) * time.Second
	}
	return 0
}

func (f fields) regexp(key string) (*regexp.Regexp, error) {
	s := f.str(key)
	if s == "" {
		return nil, nil
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return re, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
