package bml

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates an unknown ID, or a trash request for an entry
	// that is already trashed.
	ErrNotFound = errors.New("not found")

	// ErrCannotRevive indicates a revive request for an unknown ID.
	ErrCannotRevive = errors.New("cannot revive")

	// ErrBadPath indicates a malformed path name or a parent that is not a directory.
	ErrBadPath = errors.New("bad path")

	// ErrStalePlan indicates the store changed between planning and commit.
	ErrStalePlan = errors.New("store changed since the plan was made")

	// ErrInconsistentStore indicates the store rejected an edit that the
	// planner had already certified as safe.
	ErrInconsistentStore = errors.New("provenance store is inconsistent")

	// ErrTransactionState indicates commit or rollback was called in the wrong state.
	ErrTransactionState = errors.New("invalid transaction state")

	// ErrConflictingPlan indicates two logs in one transaction edit the same entity.
	ErrConflictingPlan = errors.New("conflicting plans in transaction")

	// ErrNothingToUndo indicates the history has no applied entry.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo indicates the history has no undone entry.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Cause identifies why a refactoring was refused.
type Cause int

const (
	CauseInvalidPath Cause = iota + 1
	CauseDirectoryNotEmpty
	CausePathInUse
	CausePathIsGenerated
	CauseActionNotAtomic
	CauseActionInUse
	CauseDirectoryContainsActions
	CauseStillReferenced
)

func (c Cause) String() string {
	switch c {
	case CauseInvalidPath:
		return "invalid path"
	case CauseDirectoryNotEmpty:
		return "directory not empty"
	case CausePathInUse:
		return "path in use"
	case CausePathIsGenerated:
		return "path is generated"
	case CauseActionNotAtomic:
		return "action not atomic"
	case CauseActionInUse:
		return "action in use"
	case CauseDirectoryContainsActions:
		return "directory contains actions"
	case CauseStillReferenced:
		return "still referenced by file group"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// Sentinels that match a RefactorError of the corresponding cause via errors.Is.
var (
	ErrInvalidPath              = &RefactorError{cause: CauseInvalidPath}
	ErrDirectoryNotEmpty        = &RefactorError{cause: CauseDirectoryNotEmpty}
	ErrPathInUse                = &RefactorError{cause: CausePathInUse}
	ErrPathIsGenerated          = &RefactorError{cause: CausePathIsGenerated}
	ErrActionNotAtomic          = &RefactorError{cause: CauseActionNotAtomic}
	ErrActionInUse              = &RefactorError{cause: CauseActionInUse}
	ErrDirectoryContainsActions = &RefactorError{cause: CauseDirectoryContainsActions}
	ErrStillReferenced          = &RefactorError{cause: CauseStillReferenced}
)

// RefactorError reports why the Refactorer refused a change. The IDs are the
// offending entities: path IDs for InvalidPath, DirectoryNotEmpty and
// ActionInUse; action IDs for PathInUse, PathIsGenerated, ActionNotAtomic and
// DirectoryContainsActions; group IDs for StillReferenced.
type RefactorError struct {
	cause Cause
	ids   []int
}

// NewRefactorError creates a RefactorError carrying a copy of ids.
func NewRefactorError(cause Cause, ids ...int) *RefactorError {
	return &RefactorError{cause: cause, ids: append([]int(nil), ids...)}
}

// Cause returns the reason for the refusal.
func (e *RefactorError) Cause() Cause { return e.cause }

// IDs returns the offending IDs.
func (e *RefactorError) IDs() []int { return append([]int(nil), e.ids...) }

func (e *RefactorError) Error() string {
	if len(e.ids) == 0 {
		return "cannot refactor: " + e.cause.String()
	}
	parts := make([]string, len(e.ids))
	for i, id := range e.ids {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("cannot refactor: %s [%s]", e.cause, strings.Join(parts, ", "))
}

// Is matches any RefactorError with the same cause, so callers can write
// errors.Is(err, bml.ErrPathInUse).
func (e *RefactorError) Is(target error) bool {
	t, ok := target.(*RefactorError)
	return ok && t.cause == e.cause
}

// AsRefactorError extracts a RefactorError from err's chain.
func AsRefactorError(err error) (*RefactorError, bool) {
	var rerr *RefactorError
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}
