// Package report renders the self-contained HTML diff report written for
// every reportable change.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/hazyhaar/pagewatch/worddiff"
)

// Data is everything a report shows.
type Data struct {
	TaskName   string
	URL        string
	Detected   time.Time
	Diff       worddiff.Result
	Snapshot   string
	Capture    string // file name of the visual capture, relative to the report
	Truncation []string
}

type chunkView struct {
	Op   string
	Text string
}

type view struct {
	Data
	Percent string
	Chunks  []chunkView
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Change: {{.TaskName}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:960px;margin:2em auto;padding:0 1em;color:#222}
header p{margin:.2em 0;color:#555}
.diff{white-space:pre-wrap;font-family:ui-monospace,monospace;font-size:14px;border:1px solid #ddd;padding:1em;border-radius:4px}
ins{background:#d4f8d4;text-decoration:none}
del{background:#fbd3d3}
.notice{background:#fff4cc;border:1px solid #e6d58a;padding:.5em 1em;margin:1em 0}
img{max-width:100%;border:1px solid #ddd}
pre.snapshot{white-space:pre-wrap}
</style>
</head>
<body>
<header>
<h1>{{.TaskName}}</h1>
<p><a href="{{.URL}}">{{.URL}}</a></p>
<p>Detected {{.Detected.Format "2006-01-02 15:04:05 MST"}} · similarity {{.Percent}}% · +{{.Diff.AddedChars}} / -{{.Diff.RemovedChars}} chars</p>
</header>
{{range .Truncation}}<div class="notice">{{.}}</div>
{{end}}<div class="diff">{{range .Chunks}}{{if eq .Op "added"}}<ins>{{.Text}}</ins>{{else if eq .Op "removed"}}<del>{{.Text}}</del>{{else}}{{.Text}}{{end}}{{end}}</div>
{{if .Capture}}<h2>Capture</h2>
<p><img src="{{.Capture}}" alt="page capture"></p>
{{end}}{{if .Snapshot}}<details>
<summary>Full snapshot</summary>
<pre class="snapshot">{{.Snapshot}}</pre>
</details>
{{end}}</body>
</html>
`))

// Percent formats a similarity ratio as used in report file names.
func Percent(similarity float64) string {
	return fmt.Sprintf("%.1f", similarity*100)
}

// Render returns the HTML document for d.
func Render(d Data) ([]byte, error) {
	v := view{Data: d, Percent: Percent(d.Diff.Similarity)}
	for _, c := range d.Diff.Chunks {
		v.Chunks = append(v.Chunks, chunkView{Op: c.Op.String(), Text: c.Text})
	}
	if d.Diff.InputTruncated {
		v.Truncation = append(v.Truncation,
			fmt.Sprintf("Input truncated: each side was cut to %d characters before diffing.", worddiff.MaxInputChars))
	}
	if d.Diff.OutputTruncated {
		v.Truncation = append(v.Truncation,
			fmt.Sprintf("Output truncated: the diff below stops after %d characters.", worddiff.MaxOutputChars))
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("report: render: %w", err)
	}
	return buf.Bytes(), nil
}
