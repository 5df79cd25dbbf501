package bml

// PathStore provides access to the hierarchical path namespace.
// Trash and revive only flip the trashed flag of a single row; they never
// cascade and never check whether the path is still in use. That policy
// belongs to the Refactorer.
type PathStore interface {
	// Path creation (used by importers and tests)

	// RootPath returns the ID of the "/" path.
	RootPath() (int, error)

	// AddFile adds a file, creating any missing parent directories.
	// If the file already exists its existing ID is returned.
	AddFile(fullPath string) (int, error)

	// AddDirectory adds a directory, creating any missing parent directories.
	AddDirectory(fullPath string) (int, error)

	// AddSymlink adds a symlink, creating any missing parent directories.
	AddSymlink(fullPath string) (int, error)

	// AddChildOfPath adds a single child below parentID, returning the existing
	// child if one with the same name and type is already present.
	AddChildOfPath(parentID int, pathType PathType, name string) (int, error)

	// Path queries

	// FindPath returns the path with the given ID, trashed or not.
	// Returns nil if the ID is unknown.
	FindPath(id int) (*Path, error)

	// LookupPath resolves a full path name to a live path ID.
	// Returns ErrNotFound if no live path has that name.
	LookupPath(fullPath string) (int, error)

	// PathName returns the full "/a/b/c" name of a path.
	PathName(id int) (string, error)

	// ChildPaths returns the live children of a path, ordered by name.
	ChildPaths(id int) ([]*Path, error)

	// IsDirectoryEmpty reports whether a directory has no live children.
	IsDirectoryEmpty(id int) (bool, error)

	// IsAncestorOf reports whether ancestor is a proper ancestor of id.
	IsAncestorOf(ancestor, id int) (bool, error)

	// IsPathTrashed reports whether the path is in the trash.
	// Unknown IDs are reported as not trashed.
	IsPathTrashed(id int) (bool, error)

	// Trash lifecycle

	// TrashPath marks a live path as trashed. Returns ErrNotFound if the
	// ID is unknown or already trashed.
	TrashPath(id int) error

	// RevivePath clears the trashed flag. Returns ErrCannotRevive if the
	// ID is unknown.
	RevivePath(id int) error
}

// ActionStore provides access to the action tree and the file-access relation.
type ActionStore interface {
	// Action creation

	// RootAction returns the ID of the synthetic root action.
	RootAction() (int, error)

	// AddShellCommandAction adds a child action of parentID that ran command
	// inside the working directory directoryID.
	AddShellCommandAction(parentID, directoryID int, command string) (int, error)

	// Action queries

	// FindAction returns the action with the given ID, trashed or not.
	// Returns nil if the ID is unknown.
	FindAction(id int) (*Action, error)

	// ChildActions returns the live children of an action, ordered by ID.
	ChildActions(id int) ([]*Action, error)

	// IsActionAtomic reports whether an action has no live children.
	IsActionAtomic(id int) (bool, error)

	// IsActionTrashed reports whether the action is in the trash.
	IsActionTrashed(id int) (bool, error)

	// ActionsInDirectory returns the live actions whose working directory is dirID.
	ActionsInDirectory(dirID int) ([]int, error)

	// File access relation

	// AddFileAccess records that actionID accessed pathID with op. Both ends
	// must be live. Adding an existing link is a no-op.
	AddFileAccess(actionID, pathID int, op OperationType) error

	// RemoveFileAccess removes exactly the (actionID, pathID, op) link.
	// Returns ErrNotFound if there is no such link.
	RemoveFileAccess(actionID, pathID int, op OperationType) error

	// FileAccesses returns the links of actionID matching the filter
	// (OpUnspecified matches every operation), ordered by path then operation.
	FileAccesses(actionID int, filter OperationType) ([]FileAccess, error)

	// PathAccesses returns the links to pathID from live actions matching
	// the filter, ordered by action then operation.
	PathAccesses(pathID int, filter OperationType) ([]FileAccess, error)

	// ActionsAccessing returns the distinct live actions that access pathID
	// with an operation matching the filter.
	ActionsAccessing(pathID int, filter OperationType) ([]int, error)

	// Trash lifecycle

	// TrashAction marks a live action as trashed. Returns ErrNotFound if
	// the ID is unknown or already trashed.
	TrashAction(id int) error

	// ReviveAction clears the trashed flag. Returns ErrCannotRevive if the
	// ID is unknown.
	ReviveAction(id int) error
}

// MembershipOracle answers whether a path is still referenced by an external
// grouping (file groups). The Refactorer consults it but never changes it.
type MembershipOracle interface {
	// GroupsContainingPath returns the sorted IDs of the groups that still
	// reference pathID. An empty result means the path is unreferenced.
	GroupsContainingPath(pathID int) ([]int, error)
}

// Database is the provenance store: paths, actions and their access links,
// plus the concurrency discipline the Refactorer relies on.
type Database interface {
	PathStore
	ActionStore

	// Generation returns a counter that changes on every store mutation.
	// Plans record it so a stale plan can be rejected at commit time.
	Generation() (int64, error)

	// View runs fn with a consistent read view of the store. No mutation may
	// interleave with fn. fn must not mutate the store.
	View(fn func(Database) error) error

	// Update runs fn inside a single exclusive write transaction. If fn
	// returns an error every edit made by fn is discarded.
	Update(fn func(Database) error) error

	// Close closes the database connection.
	Close() error
}

// HistoryStore persists committed transactions so they can be undone and
// redone by later invocations of the CLI.
type HistoryStore interface {
	// AppendHistory records a newly committed transaction and discards every
	// undone entry (a new commit invalidates the redo stack).
	AppendHistory(entry *HistoryEntry) (*HistoryEntry, error)

	// LatestApplied returns the newest applied entry, or nil.
	LatestApplied() (*HistoryEntry, error)

	// EarliestUndone returns the oldest undone entry, or nil.
	EarliestUndone() (*HistoryEntry, error)

	// SetHistoryState updates the state of an entry together with the store
	// generation its undo or redo left behind. That generation is recorded
	// on every undone entry, so the next redo checks against it.
	SetHistoryState(id int64, state HistoryState, generation int64) error

	// ListHistory returns the newest entries first, at most limit of them.
	ListHistory(limit int) ([]*HistoryEntry, error)

	// DiscardUndone deletes every undone entry. Called whenever the store is
	// changed outside the history (imports), since the recorded plans would
	// no longer be safe to redo.
	DiscardUndone() (int, error)

	// MaxHistoryID returns the highest history ID, or 0 when empty.
	MaxHistoryID() (int64, error)
}

// GroupStore maintains file groups: named sets of paths that other tools
// depend on. A path in any group cannot be deleted.
type GroupStore interface {
	MembershipOracle

	// CreateFileGroup creates a named group, or returns the existing one.
	CreateFileGroup(name string) (int, error)

	// AddPathToGroup adds a live path to a group. Adding twice is a no-op.
	AddPathToGroup(groupID, pathID int) error

	// RemovePathFromGroup removes a path from a group.
	// Returns ErrNotFound if the path is not a member.
	RemovePathFromGroup(groupID, pathID int) error

	// FindFileGroup returns the ID of the named group, or ErrNotFound.
	FindFileGroup(name string) (int, error)
}
