package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"

	"bml-go/internal/bml"
)

// IgnoreFileName is read from the directory of a build manifest and adds to
// the configured ignore patterns.
const IgnoreFileName = ".bmlignore"

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern  string
	anchored bool // true = match against the absolute path and its ancestors; false = match any component
}

// IgnoreMatcher decides which traced paths are left out of the store.
//
// Patterns starting with '/' are anchored: they match the absolute path or
// any of its ancestors, so "/proc" drops everything below /proc. Other
// patterns match any single path component, so "*.tmp" drops /a/b.tmp and
// /a/b.tmp/c alike.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

var _ bml.PathFilter = (*IgnoreMatcher)(nil)

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines, lines starting with '#' and malformed globs are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if _, err := path.Match(raw, ""); err != nil {
			continue
		}
		anchored := strings.HasPrefix(raw, "/")
		if anchored {
			raw = path.Clean(raw)
		}
		patterns = append(patterns, ignorePattern{pattern: raw, anchored: anchored})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Len returns the number of usable patterns.
func (m *IgnoreMatcher) Len() int { return len(m.patterns) }

// ShouldIgnore reports whether the absolute path name should be dropped.
func (m *IgnoreMatcher) ShouldIgnore(name string) bool {
	if len(m.patterns) == 0 {
		return false
	}
	name = path.Clean("/" + name)

	for _, p := range m.patterns {
		if p.anchored {
			for cur := name; ; cur = path.Dir(cur) {
				if ok, _ := path.Match(p.pattern, cur); ok {
					return true
				}
				if cur == "/" {
					break
				}
			}
			continue
		}
		for _, part := range strings.Split(strings.TrimPrefix(name, "/"), "/") {
			if ok, _ := path.Match(p.pattern, part); ok {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
