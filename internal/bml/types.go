package bml

import "fmt"

// PathType is the kind of a path in the provenance store.
type PathType int

const (
	PathTypeInvalid PathType = iota
	PathTypeDirectory
	PathTypeFile
	PathTypeSymlink
)

func (t PathType) String() string {
	switch t {
	case PathTypeDirectory:
		return "directory"
	case PathTypeFile:
		return "file"
	case PathTypeSymlink:
		return "symlink"
	default:
		return "invalid"
	}
}

// ParsePathType converts a manifest/CLI kind name into a PathType.
func ParsePathType(s string) (PathType, error) {
	switch s {
	case "directory", "dir":
		return PathTypeDirectory, nil
	case "file", "":
		return PathTypeFile, nil
	case "symlink", "link":
		return PathTypeSymlink, nil
	default:
		return PathTypeInvalid, fmt.Errorf("unknown path type: %q", s)
	}
}

// OperationType describes how an action accessed a path.
// OpUnspecified is also used as the "match everything" filter in queries.
type OperationType int

const (
	OpUnspecified OperationType = iota
	OpRead
	OpWrite
	OpModify
	OpDelete
)

func (o OperationType) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unspecified"
	}
}

// ParseOperationType converts a manifest/CLI operation name into an OperationType.
func ParseOperationType(s string) (OperationType, error) {
	switch s {
	case "read", "r":
		return OpRead, nil
	case "write", "w":
		return OpWrite, nil
	case "modify", "m":
		return OpModify, nil
	case "delete", "d":
		return OpDelete, nil
	case "unspecified", "":
		return OpUnspecified, nil
	default:
		return OpUnspecified, fmt.Errorf("unknown operation type: %q", s)
	}
}

// IsReadType reports whether the access consumes the path. Read, Modify and
// Delete all depend on the path existing before the action ran.
func (o OperationType) IsReadType() bool {
	return o == OpRead || o == OpModify || o == OpDelete
}

// IsWriteType reports whether the access generated the path.
func (o OperationType) IsWriteType() bool {
	return o == OpWrite
}

// Matches reports whether o passes the given query filter.
func (o OperationType) Matches(filter OperationType) bool {
	return filter == OpUnspecified || filter == o
}

// Path is a single entry in the hierarchical path namespace.
// The root path is its own parent.
type Path struct {
	ID       int
	ParentID int
	Name     string
	Type     PathType
	Trashed  bool
}

// IsRoot reports whether p is the root of the path tree.
func (p *Path) IsRoot() bool {
	return p.ParentID == p.ID
}

// IsDir reports whether p is a directory.
func (p *Path) IsDir() bool {
	return p.Type == PathTypeDirectory
}

// Action is a single build command. Actions form a tree rooted at a synthetic
// root action; an action that was decomposed into sub-commands has children.
type Action struct {
	ID          int
	ParentID    int
	DirectoryID int // working directory path
	Command     string
	Trashed     bool
}

// IsRoot reports whether a is the synthetic root action.
func (a *Action) IsRoot() bool {
	return a.ParentID == a.ID
}

// FileAccess records that an action accessed a path in a particular way.
type FileAccess struct {
	ActionID  int
	PathID    int
	Operation OperationType
}

func (fa FileAccess) String() string {
	return fmt.Sprintf("action %d %s path %d", fa.ActionID, fa.Operation, fa.PathID)
}
