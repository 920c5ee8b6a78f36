// CLAUDE:SUMMARY Word-level Myers diff with whitespace-preserving tokens, run merging, similarity ratio and bounded input/output.
// Package worddiff computes a minimal word-level edit script between two
// texts and a similarity ratio derived from it.
//
// Tokens are alternating runs of whitespace and non-whitespace, so joining
// the Equal+Added chunks reproduces the current text byte for byte, and
// joining Equal+Removed reproduces the previous one.
package worddiff

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Op classifies a chunk of diff output.
type Op int

const (
	Equal Op = iota
	Added
	Removed
)

func (o Op) String() string {
	switch o {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "equal"
	}
}

// Chunk is a run of consecutive tokens sharing the same Op.
type Chunk struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

const (
	// MaxInputChars caps each side before diffing.
	MaxInputChars = 120_000
	// MaxOutputChars caps the total text carried by the returned chunks.
	MaxOutputChars = 90_000
)

// Result is the outcome of Compare.
type Result struct {
	Chunks          []Chunk `json:"chunks"`
	Similarity      float64 `json:"similarity"`
	AddedChars      int     `json:"added_chars"`
	RemovedChars    int     `json:"removed_chars"`
	InputTruncated  bool    `json:"input_truncated"`
	OutputTruncated bool    `json:"output_truncated"`
}

var tokenRe = regexp.MustCompile(`\s+|\S+`)

// Tokenize splits s into alternating whitespace / non-whitespace runs.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	return tokenRe.FindAllString(s, -1)
}

// Compare diffs previous against current. Both inputs are cut to
// MaxInputChars first, and the chunk text is cut to MaxOutputChars after
// similarity has been measured; either cut is flagged on the result.
//
// Similarity is measured on the truncated inputs, previous first, so it is
// only defined in the previous → current direction.
func Compare(previous, current string) Result {
	prev, prevCut := truncateRunes(previous, MaxInputChars)
	cur, curCut := truncateRunes(current, MaxInputChars)

	chunks := Diff(Tokenize(prev), Tokenize(cur))

	var added, removed int
	for _, c := range chunks {
		switch c.Op {
		case Added:
			added += utf8.RuneCountInString(c.Text)
		case Removed:
			removed += utf8.RuneCountInString(c.Text)
		}
	}

	capped, outCut := capChunks(chunks, MaxOutputChars)

	return Result{
		Chunks:          capped,
		Similarity:      ratio(added, removed, utf8.RuneCountInString(prev), utf8.RuneCountInString(cur)),
		AddedChars:      added,
		RemovedChars:    removed,
		InputTruncated:  prevCut || curCut,
		OutputTruncated: outCut,
	}
}

// Similarity returns Compare(previous, current).Similarity.
func Similarity(previous, current string) float64 {
	return Compare(previous, current).Similarity
}

func ratio(added, removed, lenPrev, lenCur int) float64 {
	total := lenPrev + lenCur
	if total == 0 {
		return 1
	}
	s := 1 - float64(added+removed)/float64(total)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Previous rebuilds the previous text from Equal and Removed chunks.
func Previous(chunks []Chunk) string {
	return join(chunks, Removed)
}

// Current rebuilds the current text from Equal and Added chunks.
func Current(chunks []Chunk) string {
	return join(chunks, Added)
}

func join(chunks []Chunk, side Op) string {
	var sb strings.Builder
	for _, c := range chunks {
		if c.Op == Equal || c.Op == side {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// Diff returns the merged shortest edit script turning a into b.
func Diff(a, b []string) []Chunk {
	d := &differ{ta: a, tb: b}
	d.a, d.b = intern(a, b)
	d.diff(0, len(a), 0, len(b))
	return d.m.done()
}

// intern maps tokens to small integers so the inner loops compare ints.
func intern(a, b []string) ([]int32, []int32) {
	ids := make(map[string]int32, len(a))
	conv := func(toks []string) []int32 {
		out := make([]int32, len(toks))
		for i, t := range toks {
			id, ok := ids[t]
			if !ok {
				id = int32(len(ids))
				ids[t] = id
			}
			out[i] = id
		}
		return out
	}
	return conv(a), conv(b)
}

// differ runs Myers' linear-space refinement: find the middle snake of an
// optimal path, then solve both halves recursively. Time is O((N+M)·D) and
// memory O(N+M).
type differ struct {
	a, b   []int32
	ta, tb []string
	m      merger
}

func (d *differ) emit(op Op, toks []string) {
	for _, t := range toks {
		d.m.add(op, t)
	}
}

// diff emits the edit script for a[a0:a1] against b[b0:b1].
func (d *differ) diff(a0, a1, b0, b1 int) {
	for a0 < a1 && b0 < b1 && d.a[a0] == d.b[b0] {
		d.m.add(Equal, d.ta[a0])
		a0++
		b0++
	}
	suf := 0
	for a1-suf > a0 && b1-suf > b0 && d.a[a1-suf-1] == d.b[b1-suf-1] {
		suf++
	}
	ae, be := a1-suf, b1-suf

	switch {
	case a0 == ae:
		d.emit(Added, d.tb[b0:be])
	case b0 == be:
		d.emit(Removed, d.ta[a0:ae])
	default:
		x, y, ok := d.bisect(a0, ae, b0, be)
		if !ok || (x == a0 && y == b0) || (x == ae && y == be) {
			d.emit(Removed, d.ta[a0:ae])
			d.emit(Added, d.tb[b0:be])
			break
		}
		d.diff(a0, x, b0, y)
		d.diff(x, ae, y, be)
	}
	d.emit(Equal, d.ta[ae:a1])
}

// bisect walks forward from the top-left and backward from the
// bottom-right corner of a[a0:a1] × b[b0:b1] until the paths overlap and
// returns the split point, in absolute indices, where they meet.
func (d *differ) bisect(a0, a1, b0, b1 int) (int, int, bool) {
	a, b := d.a[a0:a1], d.b[b0:b1]
	n, m := len(a), len(b)
	maxD := (n + m + 1) / 2
	off := maxD
	size := 2*maxD + 2
	vf := make([]int, size)
	vb := make([]int, size)
	for i := range vf {
		vf[i], vb[i] = -1, -1
	}
	vf[off+1], vb[off+1] = 0, 0

	delta := n - m
	// With an odd delta the forward path is the one that detects overlap.
	front := delta%2 != 0
	var kfStart, kfEnd, kbStart, kbEnd int

	for step := 0; step < maxD; step++ {
		for k := -step + kfStart; k <= step-kfEnd; k += 2 {
			i := off + k
			var x int
			if k == -step || (k != step && vf[i-1] < vf[i+1]) {
				x = vf[i+1]
			} else {
				x = vf[i-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			vf[i] = x
			switch {
			case x > n:
				kfEnd += 2
			case y > m:
				kfStart += 2
			case front:
				j := off + delta - k
				if j >= 0 && j < size && vb[j] != -1 && x >= n-vb[j] {
					return a0 + x, b0 + y, true
				}
			}
		}

		for k := -step + kbStart; k <= step-kbEnd; k += 2 {
			i := off + k
			var x int
			if k == -step || (k != step && vb[i-1] < vb[i+1]) {
				x = vb[i+1]
			} else {
				x = vb[i-1] + 1
			}
			y := x - k
			for x < n && y < m && a[n-1-x] == b[m-1-y] {
				x++
				y++
			}
			vb[i] = x
			switch {
			case x > n:
				kbEnd += 2
			case y > m:
				kbStart += 2
			case !front:
				j := off + delta - k
				if j >= 0 && j < size && vf[j] != -1 {
					fx := vf[j]
					fy := fx - (j - off)
					if fx >= n-x {
						return a0 + fx, b0 + fy, true
					}
				}
			}
		}
	}
	return 0, 0, false
}

// merger folds consecutive same-op tokens into one chunk.
type merger struct {
	out []Chunk
	op  Op
	buf strings.Builder
}

func (m *merger) add(op Op, text string) {
	if text == "" {
		return
	}
	if m.buf.Len() > 0 && op != m.op {
		m.flush()
	}
	m.op = op
	m.buf.WriteString(text)
}

func (m *merger) flush() {
	if m.buf.Len() == 0 {
		return
	}
	m.out = append(m.out, Chunk{Op: m.op, Text: m.buf.String()})
	m.buf.Reset()
}

func (m *merger) done() []Chunk {
	m.flush()
	return m.out
}

func truncateRunes(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	i, n := 0, 0
	for i < len(s) && n < max {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n++
	}
	return s[:i], true
}

func capChunks(chunks []Chunk, max int) ([]Chunk, bool) {
	var out []Chunk
	remaining := max
	for _, c := range chunks {
		n := utf8.RuneCountInString(c.Text)
		if n <= remaining {
			out = append(out, c)
			remaining -= n
			continue
		}
		if remaining > 0 {
			text, _ := truncateRunes(c.Text, remaining)
			out = append(out, Chunk{Op: c.Op, Text: text})
		}
		return out, true
	}
	return out, false
}
