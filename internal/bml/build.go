package bml

import (
	"fmt"
	"path"
	"strings"
)

// BuildRecord is the trace of one build, as produced by a build tracer and
// loaded from a manifest file.
type BuildRecord struct {
	Actions []ActionRecord
	Groups  []GroupRecord
}

// ActionRecord is a traced command and the actions it spawned.
type ActionRecord struct {
	Command   string
	Directory string
	Accesses  []AccessRecord
	Children  []ActionRecord
}

// AccessRecord is a single file access made by an action.
type AccessRecord struct {
	Path      string
	Type      PathType
	Operation OperationType
}

// GroupRecord names a file group and the paths it references.
type GroupRecord struct {
	Name  string
	Paths []string
}

// PathFilter decides whether an accessed path is recorded at all.
type PathFilter interface {
	ShouldIgnore(path string) bool
}

// ImportSummary counts what an import added to the store.
type ImportSummary struct {
	Actions  int
	Accesses int
	Ignored  int
	Groups   int
}

// CleanPath normalizes a user supplied absolute path name.
func CleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is not absolute", ErrBadPath, p)
	}
	return path.Clean(p), nil
}

func importActions(db Database, parentID int, records []ActionRecord, filter PathFilter, sum *ImportSummary) error {
	for _, rec := range records {
		dir := rec.Directory
		if dir == "" {
			dir = "/"
		}
		dir, err := CleanPath(dir)
		if err != nil {
			return fmt.Errorf("action %q: %w", rec.Command, err)
		}
		dirID, err := db.AddDirectory(dir)
		if err != nil {
			return fmt.Errorf("adding working directory %s: %w", dir, err)
		}

		actionID, err := db.AddShellCommandAction(parentID, dirID, rec.Command)
		if err != nil {
			return fmt.Errorf("adding action %q: %w", rec.Command, err)
		}
		sum.Actions++

		for _, acc := range rec.Accesses {
			name, err := CleanPath(acc.Path)
			if err != nil {
				return fmt.Errorf("action %q: %w", rec.Command, err)
			}
			if filter != nil && filter.ShouldIgnore(name) {
				sum.Ignored++
				continue
			}

			var pathID int
			switch acc.Type {
			case PathTypeDirectory:
				pathID, err = db.AddDirectory(name)
			case PathTypeSymlink:
				pathID, err = db.AddSymlink(name)
			default:
				pathID, err = db.AddFile(name)
			}
			if err != nil {
				return fmt.Errorf("adding path %s: %w", name, err)
			}
			if err := db.AddFileAccess(actionID, pathID, acc.Operation); err != nil {
				return fmt.Errorf("recording %s of %s: %w", acc.Operation, name, err)
			}
			sum.Accesses++
		}

		if err := importActions(db, actionID, rec.Children, filter, sum); err != nil {
			return err
		}
	}
	return nil
}
