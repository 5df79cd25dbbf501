package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines, comments and bad globs", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log", "[unclosed"})
		if m.Len() != 1 {
			t.Fatalf("expected 1 pattern, got %d", m.Len())
		}
		if m.patterns[0].pattern != "*.log" {
			t.Errorf("expected *.log, got %s", m.patterns[0].pattern)
		}
	})

	t.Run("classifies anchored vs component patterns", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"*.log", "/proc/"})
		if m.patterns[0].anchored {
			t.Error("*.log should not be anchored")
		}
		if !m.patterns[1].anchored || m.patterns[1].pattern != "/proc" {
			t.Errorf("/proc/ parsed as %+v, want anchored /proc", m.patterns[1])
		}
	})
}

func TestIgnoreMatcher_ShouldIgnore(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"component glob matches file", []string{"*.tmp"}, "/home/work/a.tmp", true},
		{"component glob matches directory above", []string{"*.tmp"}, "/home/x.tmp/inner", true},
		{"component glob misses other extension", []string{"*.tmp"}, "/home/work/a.c", false},
		{"anchored prefix matches itself", []string{"/proc"}, "/proc", true},
		{"anchored prefix matches descendants", []string{"/proc"}, "/proc/self/maps", true},
		{"anchored prefix does not match sibling", []string{"/proc"}, "/process/x", false},
		{"anchored prefix does not match nested name", []string{"/proc"}, "/home/proc", false},
		{"anchored glob", []string{"/home/*/build"}, "/home/work/build/out.o", true},
		{"no patterns", nil, "/anything", false},
		{"unclean input", []string{"/dev"}, "/usr/../dev/null", true},
		{"multiple patterns", []string{"/dev", "*.o"}, "/src/main.o", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewIgnoreMatcher(tt.patterns)
			if got := m.ShouldIgnore(tt.path); got != tt.want {
				t.Errorf("ShouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads patterns", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, IgnoreFileName)
		if err := os.WriteFile(p, []byte("# build junk\n*.o\n\n/tmp\n"), 0644); err != nil {
			t.Fatal(err)
		}

		patterns, err := ParseIgnoreFile(p)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 4 {
			t.Fatalf("got %d lines, want 4", len(patterns))
		}
		if m := NewIgnoreMatcher(patterns); m.Len() != 2 {
			t.Errorf("matcher has %d patterns, want 2", m.Len())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		patterns, err := ParseIgnoreFile(filepath.Join(t.TempDir(), "nope"))
		if err != nil || patterns != nil {
			t.Errorf("ParseIgnoreFile(missing) = %v, %v; want nil, nil", patterns, err)
		}
	})
}
