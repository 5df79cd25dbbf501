package bml

import (
	"fmt"
	"slices"
)

// Refactorer validates destructive edits to an imported build and compiles
// them into OperationLogs. Planning never writes to the store: the returned
// log must be appended to a Transaction and committed to take effect.
type Refactorer struct {
	db     Database
	groups MembershipOracle
	logger Logger
}

// NewRefactorer creates a Refactorer over db. groups is consulted before any
// path is deleted; a nil oracle means no path is ever referenced by a group.
func NewRefactorer(db Database, groups MembershipOracle, logger Logger) *Refactorer {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Refactorer{db: db, groups: groups, logger: logger}
}

// NewTransaction creates an empty Transaction bound to the Refactorer's store.
func (r *Refactorer) NewTransaction() *Transaction {
	return NewTransaction(r.db, r.logger)
}

// PlanDeletePath plans the deletion of a single path.
//
// alsoDeleteActions allows the (atomic) actions that generated the path to be
// deleted along with it. detachFromReaders allows the path to be deleted even
// though actions read it; those access links are removed instead.
//
// The returned error is a *RefactorError for every policy refusal.
func (r *Refactorer) PlanDeletePath(pathID int, alsoDeleteActions, detachFromReaders bool) (*OperationLog, error) {
	return r.plan(pathID, alsoDeleteActions, detachFromReaders, false, newOverlay())
}

// PlanDeletePathTree plans the deletion of pathID and everything below it.
// Paths are visited in post-order, so every directory is handled after its
// contents. The first refusal anywhere aborts the whole plan.
func (r *Refactorer) PlanDeletePathTree(rootID int, alsoDeleteActions, detachFromReaders bool) (*OperationLog, error) {
	return r.plan(rootID, alsoDeleteActions, detachFromReaders, true, newOverlay())
}

// DeletePath plans a single path deletion on top of the edits already in tx
// and appends it. A path that tx already removes is skipped.
func (r *Refactorer) DeletePath(tx *Transaction, pathID int, alsoDeleteActions, detachFromReaders bool) error {
	return r.extend(tx, pathID, alsoDeleteActions, detachFromReaders, false)
}

// DeletePathTree plans a subtree deletion on top of the edits already in tx
// and appends it.
func (r *Refactorer) DeletePathTree(tx *Transaction, rootID int, alsoDeleteActions, detachFromReaders bool) error {
	return r.extend(tx, rootID, alsoDeleteActions, detachFromReaders, true)
}

func (r *Refactorer) extend(tx *Transaction, pathID int, alsoDeleteActions, detachFromReaders, tree bool) error {
	pending := tx.pending()
	if pending.paths[pathID] {
		r.logger.Debug("path already removed by the transaction", "path_id", pathID)
		return nil
	}
	log, err := r.plan(pathID, alsoDeleteActions, detachFromReaders, tree, pending)
	if err != nil {
		return err
	}
	return tx.Append(log)
}

func (r *Refactorer) plan(pathID int, alsoDeleteActions, detachFromReaders, tree bool, pending overlay) (*OperationLog, error) {
	var result *OperationLog
	err := r.db.View(func(view Database) error {
		gen, err := view.Generation()
		if err != nil {
			return fmt.Errorf("reading store generation: %w", err)
		}

		name, err := view.PathName(pathID)
		if err != nil {
			name = fmt.Sprintf("#%d", pathID)
		}
		desc := "delete path " + name
		if tree {
			desc = "delete path tree " + name
		}

		p := &planner{
			db:                view,
			groups:            r.groups,
			alsoDeleteActions: alsoDeleteActions,
			detachFromReaders: detachFromReaders,
			log:               NewOperationLog(gen, desc),
			trashedPaths:      pending.paths,
			trashedActions:    pending.actions,
			removedLinks:      pending.links,
		}
		if tree {
			err = p.deleteTree(pathID)
		} else {
			err = p.deletePath(pathID)
		}
		if err != nil {
			return err
		}
		result = p.log
		return nil
	})
	if err != nil {
		if rerr, ok := AsRefactorError(err); ok {
			r.logger.Debug("refactoring refused", "path_id", pathID, "cause", rerr.Cause().String(), "ids", rerr.IDs())
		}
		return nil, err
	}

	r.logger.Debug("refactoring planned", "path_id", pathID, "ops", result.Len())
	return result, nil
}

// overlay is a set of edits a plan is built on top of: the ops of the logs
// already in a transaction, plus the ops planned so far in the current call.
type overlay struct {
	paths   map[int]bool
	actions map[int]bool
	links   map[FileAccess]bool
}

func newOverlay() overlay {
	return overlay{
		paths:   make(map[int]bool),
		actions: make(map[int]bool),
		links:   make(map[FileAccess]bool),
	}
}

func (o overlay) add(op ItemOp) {
	switch op.Kind {
	case ItemRemovePath:
		o.paths[op.PathID] = true
	case ItemRemoveAction:
		o.actions[op.ActionID] = true
	case ItemRemoveAccessLink:
		o.links[FileAccess{ActionID: op.ActionID, PathID: op.PathID, Operation: op.Operation}] = true
	}
}

// planner holds the state of a single planning call. The overlay maps start
// out with the transaction's pending edits and record the edits planned so
// far, so later checks see the store as it will be once the earlier ops are
// applied.
type planner struct {
	db                Database
	groups            MembershipOracle
	alsoDeleteActions bool
	detachFromReaders bool

	log            *OperationLog
	trashedPaths   map[int]bool
	trashedActions map[int]bool
	removedLinks   map[FileAccess]bool
}

func (p *planner) deleteTree(pathID int) error {
	path, err := p.livePath(pathID)
	if err != nil {
		return err
	}
	if path == nil {
		return NewRefactorError(CauseInvalidPath, pathID)
	}

	if path.IsDir() {
		children, err := p.liveChildren(pathID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := p.deleteTree(child.ID); err != nil {
				return err
			}
		}
	}
	return p.deletePath(pathID)
}

func (p *planner) deletePath(pathID int) error {
	path, err := p.livePath(pathID)
	if err != nil {
		return err
	}
	if path == nil || path.IsRoot() {
		return NewRefactorError(CauseInvalidPath, pathID)
	}

	if path.IsDir() {
		children, err := p.liveChildren(pathID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return NewRefactorError(CauseDirectoryNotEmpty, pathID)
		}

		busy, err := p.actionsInDirectory(pathID)
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			return NewRefactorError(CauseDirectoryContainsActions, busy...)
		}
	}

	// Group membership can't be undone by this engine, so it is checked
	// before anything that the engine could resolve itself.
	if p.groups != nil {
		groups, err := p.groups.GroupsContainingPath(pathID)
		if err != nil {
			return fmt.Errorf("checking file groups for path %d: %w", pathID, err)
		}
		if len(groups) > 0 {
			return NewRefactorError(CauseStillReferenced, groups...)
		}
	}

	accesses, err := p.pathAccesses(pathID)
	if err != nil {
		return err
	}
	var reads, writes []FileAccess
	for _, fa := range accesses {
		if fa.Operation.IsWriteType() {
			writes = append(writes, fa)
		} else {
			reads = append(reads, fa)
		}
	}

	if len(reads) > 0 {
		if !p.detachFromReaders {
			return NewRefactorError(CausePathInUse, actionIDs(reads)...)
		}
		for _, fa := range reads {
			p.removeLink(fa)
		}
	}

	if len(writes) > 0 {
		if !p.alsoDeleteActions {
			return NewRefactorError(CausePathIsGenerated, actionIDs(writes)...)
		}
		for _, actionID := range actionIDs(writes) {
			if err := p.deleteGeneratingAction(actionID, pathID); err != nil {
				return err
			}
		}
	}

	p.log.Add(RemovePathOp(pathID))
	p.trashedPaths[pathID] = true
	return nil
}

// deleteGeneratingAction plans the removal of an action that wrote pathID.
// The action must be atomic, and none of its other outputs may still be read
// by another action, otherwise those outputs would lose their producer.
func (p *planner) deleteGeneratingAction(actionID, pathID int) error {
	if p.trashedActions[actionID] {
		return nil
	}

	atomic, err := p.isAtomic(actionID)
	if err != nil {
		return err
	}
	if !atomic {
		return NewRefactorError(CauseActionNotAtomic, actionID)
	}

	links, err := p.actionAccesses(actionID)
	if err != nil {
		return err
	}

	var inUse []int
	for _, fa := range links {
		if !fa.Operation.IsWriteType() || fa.PathID == pathID {
			continue
		}
		readers, err := p.pathAccesses(fa.PathID)
		if err != nil {
			return err
		}
		for _, other := range readers {
			if other.ActionID != actionID && !other.Operation.IsWriteType() {
				inUse = append(inUse, fa.PathID)
				break
			}
		}
	}
	if len(inUse) > 0 {
		slices.Sort(inUse)
		return NewRefactorError(CauseActionInUse, slices.Compact(inUse)...)
	}

	for _, fa := range links {
		p.removeLink(fa)
	}
	p.log.Add(RemoveActionOp(actionID))
	p.trashedActions[actionID] = true
	return nil
}

func (p *planner) removeLink(fa FileAccess) {
	if p.removedLinks[fa] {
		return
	}
	p.log.Add(RemoveAccessLinkOp(fa.ActionID, fa.PathID, fa.Operation))
	p.removedLinks[fa] = true
}

// Overlay-aware store queries.

func (p *planner) livePath(id int) (*Path, error) {
	path, err := p.db.FindPath(id)
	if err != nil {
		return nil, fmt.Errorf("finding path %d: %w", id, err)
	}
	if path == nil || path.Trashed || p.trashedPaths[id] {
		return nil, nil
	}
	return path, nil
}

func (p *planner) liveChildren(id int) ([]*Path, error) {
	children, err := p.db.ChildPaths(id)
	if err != nil {
		return nil, fmt.Errorf("listing children of path %d: %w", id, err)
	}
	live := children[:0]
	for _, c := range children {
		if !p.trashedPaths[c.ID] {
			live = append(live, c)
		}
	}
	return live, nil
}

func (p *planner) pathAccesses(pathID int) ([]FileAccess, error) {
	links, err := p.db.PathAccesses(pathID, OpUnspecified)
	if err != nil {
		return nil, fmt.Errorf("listing accesses of path %d: %w", pathID, err)
	}
	live := links[:0]
	for _, fa := range links {
		if !p.trashedActions[fa.ActionID] && !p.removedLinks[fa] {
			live = append(live, fa)
		}
	}
	return live, nil
}

func (p *planner) actionAccesses(actionID int) ([]FileAccess, error) {
	links, err := p.db.FileAccesses(actionID, OpUnspecified)
	if err != nil {
		return nil, fmt.Errorf("listing accesses of action %d: %w", actionID, err)
	}
	live := links[:0]
	for _, fa := range links {
		if !p.removedLinks[fa] {
			live = append(live, fa)
		}
	}
	return live, nil
}

func (p *planner) isAtomic(actionID int) (bool, error) {
	children, err := p.db.ChildActions(actionID)
	if err != nil {
		return false, fmt.Errorf("listing children of action %d: %w", actionID, err)
	}
	for _, c := range children {
		if !p.trashedActions[c.ID] {
			return false, nil
		}
	}
	return true, nil
}

func (p *planner) actionsInDirectory(dirID int) ([]int, error) {
	ids, err := p.db.ActionsInDirectory(dirID)
	if err != nil {
		return nil, fmt.Errorf("listing actions in directory %d: %w", dirID, err)
	}
	live := ids[:0]
	for _, id := range ids {
		if !p.trashedActions[id] {
			live = append(live, id)
		}
	}
	return live, nil
}

// actionIDs returns the sorted, distinct action IDs of the given links.
func actionIDs(links []FileAccess) []int {
	ids := make([]int, 0, len(links))
	for _, fa := range links {
		ids = append(ids, fa.ActionID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
