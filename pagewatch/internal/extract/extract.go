// CLAUDE:SUMMARY Turns page HTML into the full Markdown snapshot, normalised comparable text and resource ids of a task.
// Package extract evaluates a task.Extraction against rendered page HTML.
//
// The full snapshot is the region HTML sanitised with bluemonday and
// converted to Markdown. Comparable text is the visible text of the region
// with ignored nodes and ignore-text spans removed, normalised per line.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// ErrRegionNotFound is returned when the region selector matches nothing.
var ErrRegionNotFound = errors.New("extract: region selector matched nothing")

// Result is one extraction.
type Result struct {
	Snapshot  string
	Text      string
	Resources []string
}

// Extractor is safe for concurrent use.
type Extractor struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Extract runs e against rawHTML. pageURL resolves relative resource links.
func (x *Extractor) Extract(e task.Extraction, rawHTML, pageURL string) (Result, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Result{}, fmt.Errorf("extract: parse html: %w", err)
	}

	for _, sel := range e.IgnoreSelectors {
		for _, n := range querySelectorAll(doc, sel) {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		}
	}

	region := []*html.Node{doc}
	if e.Region != "" {
		region = outermost(querySelectorAll(doc, e.Region))
		if len(region) == 0 {
			return Result{}, fmt.Errorf("%w: %q", ErrRegionNotFound, e.Region)
		}
	}

	var raw strings.Builder
	for i, n := range region {
		if i > 0 {
			raw.WriteString("\n\n")
		}
		collectText(&raw, n)
	}

	res := Result{
		Text:     Normalize(raw.String(), e.IgnoreText),
		Snapshot: x.snapshot(region, pageURL),
	}
	if e.ResourceSelector != "" {
		res.Resources = resourceIDs(doc, e, pageURL)
	}
	return res, nil
}

func (x *Extractor) snapshot(region []*html.Node, pageURL string) string {
	var buf bytes.Buffer
	for _, n := range region {
		if n.Type == html.DocumentNode {
			if body := findBody(n); body != nil {
				n = body
			}
		}
		html.Render(&buf, n)
		buf.WriteByte('\n')
	}
	clean := x.policy.Sanitize(buf.String())
	md, err := x.md.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		var text strings.Builder
		for _, n := range region {
			collectText(&text, n)
		}
		return Normalize(text.String(), nil)
	}
	return strings.TrimSpace(md)
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// collectText writes the visible text of n, breaking lines at block
// elements so per-line normalisation keeps the page structure.
func collectText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head, atom.Svg:
			return
		case atom.Br:
			sb.WriteByte('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	if block {
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(sb, c)
	}
	if block {
		sb.WriteByte('\n')
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Address, atom.Article, atom.Aside, atom.Blockquote, atom.Dd, atom.Details,
		atom.Div, atom.Dl, atom.Dt, atom.Fieldset, atom.Figcaption, atom.Figure,
		atom.Footer, atom.Form, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Header, atom.Hr, atom.Li, atom.Main, atom.Nav, atom.Ol, atom.P, atom.Pre,
		atom.Section, atom.Summary, atom.Table, atom.Tr, atom.Td, atom.Th, atom.Ul,
		atom.Body, atom.Html, atom.Option, atom.Caption:
		return true
	}
	return false
}

var spaceRun = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)

// Normalize removes ignore spans, zero-width characters and blank lines,
// and collapses horizontal whitespace within each line.
func Normalize(text string, ignore *regexp.Regexp) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		case '\r':
			return '\n'
		}
		return r
	}, text)
	if ignore != nil {
		text = ignore.ReplaceAllString(text, "")
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func resourceIDs(doc *html.Node, e task.Extraction, pageURL string) []string {
	key := e.ResourceAttr
	if key == "" {
		key = "href"
	}
	base, _ := url.Parse(pageURL)

	var values []string
	for _, n := range querySelectorAll(doc, e.ResourceSelector) {
		v, ok := lookupAttr(n, key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if (key == "href" || key == "src") && base != nil {
			if ref, err := url.Parse(v); err == nil {
				v = base.ResolveReference(ref).String()
			}
		}
		values = append(values, v)
	}
	return FilterIDs(values, e.ResourcePattern)
}

// FilterIDs applies pattern to raw values (keeping the first capture group
// when the pattern has one) and removes duplicates, preserving order.
func FilterIDs(values []string, pattern *regexp.Regexp) []string {
	seen := map[string]bool{}
	ids := []string{}
	for _, v := range values {
		if pattern != nil {
			m := pattern.FindStringSubmatch(v)
			if m == nil {
				continue
			}
			if len(m) > 1 && m[1] != "" {
				v = m[1]
			}
		}
		if !seen[v] {
			seen[v] = true
			ids = append(ids, v)
		}
	}
	return ids
}
