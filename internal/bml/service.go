package bml

import (
	"errors"
	"fmt"
)

// BMLService is the orchestration layer used by the CLI. It ties the store,
// the Refactorer and the persisted undo/redo history together.
type BMLService struct {
	database   Database
	history    HistoryStore
	groups     GroupStore
	refactorer *Refactorer
	logger     Logger
	clock      Clock
	idgen      IDGenerator
}

// NewBMLService creates a new BMLService with the provided dependencies.
// groups may be nil, in which case no path is ever protected by a file group.
// History entries are written inside the write transaction of database, so a
// history kept in a separate store must not take database's lock.
func NewBMLService(database Database, history HistoryStore, groups GroupStore, logger Logger, clock Clock, idgen IDGenerator) *BMLService {
	var oracle MembershipOracle
	if groups != nil {
		oracle = groups
	}
	return &BMLService{
		database:   database,
		history:    history,
		groups:     groups,
		refactorer: NewRefactorer(database, oracle, logger),
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
	}
}

// Refactorer returns the planner bound to the service's store.
func (s *BMLService) Refactorer() *Refactorer {
	return s.refactorer
}

// DeleteRequest describes a user initiated deletion. The flags apply to every
// path; PerPath switches options on for single paths only.
type DeleteRequest struct {
	Paths         []string
	Tree          bool
	DeleteActions bool
	Detach        bool
	PerPath       map[string]PathOptions
}

// PathOptions are the deletion options that can be enabled for one path.
type PathOptions struct {
	Tree          bool
	DeleteActions bool
	Detach        bool
}

// optionsFor merges the request wide flags with the ones set for name.
func (req DeleteRequest) optionsFor(name string) PathOptions {
	o := req.PerPath[name]
	o.Tree = o.Tree || req.Tree
	o.DeleteActions = o.DeleteActions || req.DeleteActions
	o.Detach = o.Detach || req.Detach
	return o
}

// DeleteError reports which path of a DeleteRequest was refused.
type DeleteError struct {
	Path string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("deleting %s: %v", e.Path, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// DeletePaths plans a deletion for every requested path, commits them as a
// single transaction and records it in the history. Each path is planned on
// top of the edits of the paths before it, so overlapping paths are fine.
// Nothing is changed if any path is refused; the returned *DeleteError then
// names the path and wraps the *RefactorError.
func (s *BMLService) DeletePaths(req DeleteRequest) (*HistoryEntry, error) {
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("no paths given")
	}

	tx := s.refactorer.NewTransaction()
	for _, name := range req.Paths {
		pathID, err := s.LookupPath(name)
		if err != nil {
			return nil, &DeleteError{Path: name, Err: err}
		}
		o := req.optionsFor(name)
		if o.Tree {
			err = s.refactorer.DeletePathTree(tx, pathID, o.DeleteActions, o.Detach)
		} else {
			err = s.refactorer.DeletePath(tx, pathID, o.DeleteActions, o.Detach)
		}
		if err != nil {
			return nil, &DeleteError{Path: name, Err: err}
		}
	}

	return s.commit(tx)
}

// Commit commits a caller assembled transaction and records it in the history.
func (s *BMLService) Commit(tx *Transaction) (*HistoryEntry, error) {
	return s.commit(tx)
}

func (s *BMLService) commit(tx *Transaction) (*HistoryEntry, error) {
	var entry *HistoryEntry
	err := tx.commit(func(db Database, generation int64) error {
		if tx.IsEmpty() {
			return nil
		}
		now := s.clock.Now()
		stored, err := s.historyIn(db).AppendHistory(&HistoryEntry{
			TxnID:       s.idgen.New(),
			Description: tx.Description(),
			Logs:        tx.Logs(),
			State:       HistoryApplied,
			Generation:  generation,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("recording history: %w", err)
		}
		entry = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	s.logger.Info("refactoring committed", "txn_id", entry.TxnID, "ops", entry.OpCount())
	return entry, nil
}

// historyIn returns the history store to use inside the write transaction
// db. When the history lives in the provenance store itself, entries are
// written in the same SQL transaction as the edits they describe.
func (s *BMLService) historyIn(db Database) HistoryStore {
	if h, ok := db.(HistoryStore); ok && any(s.history) == any(s.database) {
		return h
	}
	return s.history
}

// Undo rolls back the most recently applied history entry.
func (s *BMLService) Undo() (*HistoryEntry, error) {
	entry, err := s.history.LatestApplied()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if entry == nil {
		return nil, ErrNothingToUndo
	}

	tx := RestoreTransaction(s.database, s.logger, entry.Logs, true, entry.Generation)
	err = tx.rollback(func(db Database, generation int64) error {
		if err := s.historyIn(db).SetHistoryState(entry.ID, HistoryUndone, generation); err != nil {
			return fmt.Errorf("updating history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("undoing %s: %w", entry.TxnID, err)
	}
	entry.State = HistoryUndone
	entry.Generation = tx.Generation()

	s.logger.Info("refactoring undone", "txn_id", entry.TxnID)
	return entry, nil
}

// Redo re-applies the oldest undone history entry.
func (s *BMLService) Redo() (*HistoryEntry, error) {
	entry, err := s.history.EarliestUndone()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if entry == nil {
		return nil, ErrNothingToRedo
	}

	tx := RestoreTransaction(s.database, s.logger, entry.Logs, false, entry.Generation)
	err = tx.commit(func(db Database, generation int64) error {
		if err := s.historyIn(db).SetHistoryState(entry.ID, HistoryApplied, generation); err != nil {
			return fmt.Errorf("updating history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redoing %s: %w", entry.TxnID, err)
	}
	entry.State = HistoryApplied
	entry.Generation = tx.Generation()

	s.logger.Info("refactoring redone", "txn_id", entry.TxnID)
	return entry, nil
}

// GetHistory returns the most recent history entries, newest first.
func (s *BMLService) GetHistory(limit int) ([]*HistoryEntry, error) {
	entries, err := s.history.ListHistory(limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// LookupPath resolves a full path name to a live path ID.
func (s *BMLService) LookupPath(name string) (int, error) {
	clean, err := CleanPath(name)
	if err != nil {
		return 0, err
	}
	id, err := s.database.LookupPath(clean)
	if err != nil {
		return 0, fmt.Errorf("looking up %s: %w", clean, err)
	}
	return id, nil
}

// PathEntry is a path together with its full name.
type PathEntry struct {
	*Path
	FullName string
}

// ListDirectory returns the live children of a directory.
func (s *BMLService) ListDirectory(name string) ([]*PathEntry, error) {
	id, err := s.LookupPath(name)
	if err != nil {
		return nil, err
	}
	children, err := s.database.ChildPaths(id)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}
	entries := make([]*PathEntry, 0, len(children))
	for _, c := range children {
		full, err := s.database.PathName(c.ID)
		if err != nil {
			return nil, fmt.Errorf("naming path %d: %w", c.ID, err)
		}
		entries = append(entries, &PathEntry{Path: c, FullName: full})
	}
	return entries, nil
}

// ActionDetails describes an action and the paths it accessed.
type ActionDetails struct {
	Action    *Action
	Directory string
	Accesses  []AccessDetail
	Children  []*Action
}

// AccessDetail is a FileAccess with the path name resolved.
type AccessDetail struct {
	FileAccess
	PathName string
}

// DescribeAction returns the details of a live or trashed action.
func (s *BMLService) DescribeAction(id int) (*ActionDetails, error) {
	action, err := s.database.FindAction(id)
	if err != nil {
		return nil, fmt.Errorf("finding action %d: %w", id, err)
	}
	if action == nil {
		return nil, fmt.Errorf("action %d: %w", id, ErrNotFound)
	}

	dir, err := s.database.PathName(action.DirectoryID)
	if err != nil {
		return nil, fmt.Errorf("naming directory of action %d: %w", id, err)
	}
	accesses, err := s.database.FileAccesses(id, OpUnspecified)
	if err != nil {
		return nil, fmt.Errorf("listing accesses of action %d: %w", id, err)
	}
	children, err := s.database.ChildActions(id)
	if err != nil {
		return nil, fmt.Errorf("listing children of action %d: %w", id, err)
	}

	details := &ActionDetails{Action: action, Directory: dir, Children: children}
	for _, fa := range accesses {
		name, err := s.database.PathName(fa.PathID)
		if err != nil {
			return nil, fmt.Errorf("naming path %d: %w", fa.PathID, err)
		}
		details.Accesses = append(details.Accesses, AccessDetail{FileAccess: fa, PathName: name})
	}
	return details, nil
}

// UnusedFiles lists the live files below root that no live action accesses.
// These are the natural candidates for deletion.
func (s *BMLService) UnusedFiles(root string) ([]string, error) {
	rootID, err := s.LookupPath(root)
	if err != nil {
		return nil, err
	}

	var unused []string
	var walk func(id int) error
	walk = func(id int) error {
		children, err := s.database.ChildPaths(id)
		if err != nil {
			return fmt.Errorf("listing children of path %d: %w", id, err)
		}
		for _, c := range children {
			if c.IsDir() {
				if err := walk(c.ID); err != nil {
					return err
				}
				continue
			}
			users, err := s.database.ActionsAccessing(c.ID, OpUnspecified)
			if err != nil {
				return fmt.Errorf("listing users of path %d: %w", c.ID, err)
			}
			if len(users) == 0 {
				name, err := s.database.PathName(c.ID)
				if err != nil {
					return fmt.Errorf("naming path %d: %w", c.ID, err)
				}
				unused = append(unused, name)
			}
		}
		return nil
	}
	if err := s.database.View(func(Database) error { return walk(rootID) }); err != nil {
		return nil, err
	}
	return unused, nil
}

// ImportBuild adds a traced build to the store below the root action.
// Paths rejected by filter are skipped. Importing changes the store outside
// the refactoring history, so any undone entries are discarded.
func (s *BMLService) ImportBuild(rec *BuildRecord, filter PathFilter) (*ImportSummary, error) {
	sum := &ImportSummary{}
	err := s.database.Update(func(tx Database) error {
		*sum = ImportSummary{}
		rootID, err := tx.RootAction()
		if err != nil {
			return fmt.Errorf("finding root action: %w", err)
		}
		return importActions(tx, rootID, rec.Actions, filter, sum)
	})
	if err != nil {
		return nil, fmt.Errorf("importing build: %w", err)
	}

	if len(rec.Groups) > 0 && s.groups == nil {
		return nil, fmt.Errorf("build declares file groups but no group store is configured")
	}
	for _, g := range rec.Groups {
		if err := s.importGroup(g); err != nil {
			return nil, err
		}
		sum.Groups++
	}

	discarded, err := s.history.DiscardUndone()
	if err != nil {
		return nil, fmt.Errorf("discarding redo history: %w", err)
	}
	if discarded > 0 {
		s.logger.Warn("import discarded undone refactorings", "count", discarded)
	}

	s.logger.Info("build imported", "actions", sum.Actions, "accesses", sum.Accesses, "ignored", sum.Ignored)
	return sum, nil
}

func (s *BMLService) importGroup(g GroupRecord) error {
	groupID, err := s.groups.CreateFileGroup(g.Name)
	if err != nil {
		return fmt.Errorf("creating file group %s: %w", g.Name, err)
	}
	for _, name := range g.Paths {
		pathID, err := s.LookupPath(name)
		if err != nil {
			return fmt.Errorf("file group %s: %w", g.Name, err)
		}
		if err := s.groups.AddPathToGroup(groupID, pathID); err != nil {
			return fmt.Errorf("adding %s to file group %s: %w", name, g.Name, err)
		}
	}
	return nil
}

// ReleaseFromGroup removes a path from a file group so it can be deleted.
func (s *BMLService) ReleaseFromGroup(group, name string) error {
	if s.groups == nil {
		return fmt.Errorf("no group store is configured")
	}
	groupID, err := s.groups.FindFileGroup(group)
	if err != nil {
		return fmt.Errorf("finding file group %s: %w", group, err)
	}
	pathID, err := s.LookupPath(name)
	if err != nil {
		return err
	}
	if err := s.groups.RemovePathFromGroup(groupID, pathID); err != nil {
		return fmt.Errorf("removing %s from file group %s: %w", name, group, err)
	}
	return nil
}

// Remedy is a change of delete options that may let a refused deletion through.
type Remedy int

const (
	RemedyNone Remedy = iota
	RemedyTree
	RemedyDeleteActions
	RemedyDetach
)

func (r Remedy) String() string {
	switch r {
	case RemedyTree:
		return "delete the whole subtree"
	case RemedyDeleteActions:
		return "also delete the generating actions"
	case RemedyDetach:
		return "detach the path from the actions reading it"
	default:
		return "none"
	}
}

// SuggestRemedy maps a refusal to the option that would resolve it, if any.
// Refusals that need the user to change the build itself map to RemedyNone.
func SuggestRemedy(err error) Remedy {
	switch {
	case errors.Is(err, ErrDirectoryNotEmpty):
		return RemedyTree
	case errors.Is(err, ErrPathIsGenerated):
		return RemedyDeleteActions
	case errors.Is(err, ErrPathInUse):
		return RemedyDetach
	default:
		return RemedyNone
	}
}

// Apply returns req with the remedy's option switched on for the path name
// only. The PerPath map of req is copied, not modified.
func (r Remedy) Apply(req DeleteRequest, name string) DeleteRequest {
	perPath := make(map[string]PathOptions, len(req.PerPath)+1)
	for k, v := range req.PerPath {
		perPath[k] = v
	}
	o := perPath[name]
	switch r {
	case RemedyTree:
		o.Tree = true
	case RemedyDeleteActions:
		o.DeleteActions = true
	case RemedyDetach:
		o.Detach = true
	}
	perPath[name] = o
	req.PerPath = perPath
	return req
}
