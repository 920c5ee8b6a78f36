// Package horosafe guards what pagewatch writes to disk: resource file names
// derived from page content, paths joined under a task output directory,
// and bounded reads of downloaded bodies.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// MaxResourceBytes is the default cap for a downloaded resource (20 MiB).
const MaxResourceBytes int64 = 20 << 20

// maxNameLen bounds a sanitised file name in bytes.
const maxNameLen = 120

// ErrPathTraversal is returned when a joined path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("horosafe: body exceeds limit")

var reserved = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename turns an arbitrary resource id into a single safe path
// element. Path separators, control characters and characters refused by
// common filesystems become '_'. A stem equal to a reserved device name
// (case-insensitive, with or without extension) is prefixed with '_'.
// The result is never empty, ".", or "..".
func SanitizeFilename(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			sb.WriteRune('_')
		case unicode.IsControl(r):
			sb.WriteRune('_')
		case strings.ContainsRune(`<>:"|?*`, r):
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}
	out := strings.TrimRight(strings.TrimSpace(sb.String()), ". ")
	out = strings.TrimLeft(out, ".")
	if out == "" {
		out = "resource"
	}

	stem := out
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	if reserved[strings.ToUpper(stem)] {
		out = "_" + out
	}

	if len(out) > maxNameLen {
		ext := filepath.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		cut := maxNameLen - len(ext)
		for cut > 0 && !isRuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + ext
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// UniqueName returns name, or name with a numeric suffix before the
// extension ("a.pdf" → "a_2.pdf", "a_3.pdf", ...) when taken reports the
// candidate is already used. Comparison is up to the caller; pagewatch
// passes a case-insensitive set so names also stay distinct on
// case-folding filesystems.
func UniqueName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ext
		if !taken(candidate) {
			return candidate
		}
	}
}

// SafePath joins elem under base and verifies the result stays inside base.
func SafePath(base, elem string) (string, error) {
	for _, part := range strings.FieldsFunc(elem, isSeparator) {
		if part == ".." {
			return "", ErrPathTraversal
		}
	}
	root := filepath.Clean(base)
	cleaned := filepath.Join(root, filepath.Clean("/"+elem))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }

// LimitedReadAll reads at most maxBytes from r and fails with ErrTooLarge
// past that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}
