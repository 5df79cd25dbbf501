package bml

import "fmt"

// ItemOpKind is the type of a primitive, reversible store edit.
type ItemOpKind string

const (
	// ItemRemovePath sends a path to the trash. Inverse: revive the path.
	ItemRemovePath ItemOpKind = "remove_path"

	// ItemRemoveAction sends an action to the trash. Inverse: revive the action.
	ItemRemoveAction ItemOpKind = "remove_action"

	// ItemRemoveAccessLink removes one action/path/operation link.
	// Inverse: add the identical link back.
	ItemRemoveAccessLink ItemOpKind = "remove_access_link"
)

// ItemOp is a single primitive edit. Only the fields relevant to Kind are set.
type ItemOp struct {
	Kind      ItemOpKind    `json:"kind"`
	PathID    int           `json:"path_id,omitempty"`
	ActionID  int           `json:"action_id,omitempty"`
	Operation OperationType `json:"operation,omitempty"`
}

// RemovePathOp returns an op that trashes pathID.
func RemovePathOp(pathID int) ItemOp {
	return ItemOp{Kind: ItemRemovePath, PathID: pathID}
}

// RemoveActionOp returns an op that trashes actionID.
func RemoveActionOp(actionID int) ItemOp {
	return ItemOp{Kind: ItemRemoveAction, ActionID: actionID}
}

// RemoveAccessLinkOp returns an op that removes one access link. The
// operation kind is kept so undo restores exactly the original link.
func RemoveAccessLinkOp(actionID, pathID int, op OperationType) ItemOp {
	return ItemOp{Kind: ItemRemoveAccessLink, ActionID: actionID, PathID: pathID, Operation: op}
}

func (op ItemOp) String() string {
	switch op.Kind {
	case ItemRemovePath:
		return fmt.Sprintf("remove path %d", op.PathID)
	case ItemRemoveAction:
		return fmt.Sprintf("remove action %d", op.ActionID)
	case ItemRemoveAccessLink:
		return fmt.Sprintf("remove %s link action %d -> path %d", op.Operation, op.ActionID, op.PathID)
	default:
		return fmt.Sprintf("unknown op %q", string(op.Kind))
	}
}

// key identifies the entity an op edits. Two ops with the same key in one
// transaction would trash (or unlink) the same thing twice.
func (op ItemOp) key() string {
	switch op.Kind {
	case ItemRemovePath:
		return fmt.Sprintf("p%d", op.PathID)
	case ItemRemoveAction:
		return fmt.Sprintf("a%d", op.ActionID)
	default:
		return fmt.Sprintf("l%d/%d/%d", op.ActionID, op.PathID, op.Operation)
	}
}

// Editor is the subset of the store that primitive ops act on.
type Editor interface {
	TrashPath(id int) error
	RevivePath(id int) error
	TrashAction(id int) error
	ReviveAction(id int) error
	AddFileAccess(actionID, pathID int, op OperationType) error
	RemoveFileAccess(actionID, pathID int, op OperationType) error
}

// OperationLog is an ordered list of primitive edits forming one indivisible
// logical change. Apply runs the ops in order; Reverse runs the inverse of
// each op in reverse order.
type OperationLog struct {
	ops         []ItemOp
	generation  int64
	description string
}

// NewOperationLog creates an empty log planned against the given store generation.
func NewOperationLog(generation int64, description string) *OperationLog {
	return &OperationLog{generation: generation, description: description}
}

// Add appends an op to the end of the log.
func (l *OperationLog) Add(op ItemOp) {
	l.ops = append(l.ops, op)
}

// Append appends every op of other, preserving order.
func (l *OperationLog) Append(other *OperationLog) {
	l.ops = append(l.ops, other.ops...)
}

// Ops returns a copy of the op list.
func (l *OperationLog) Ops() []ItemOp {
	return append([]ItemOp(nil), l.ops...)
}

// Len returns the number of ops.
func (l *OperationLog) Len() int { return len(l.ops) }

// Generation returns the store generation the log was planned against.
func (l *OperationLog) Generation() int64 { return l.generation }

// Description returns the human readable summary of the change.
func (l *OperationLog) Description() string { return l.description }

// Apply performs (or re-performs) every op in order. The ops were proven safe
// when planned, so any failure means the store no longer matches the plan and
// is reported wrapped in ErrInconsistentStore.
func (l *OperationLog) Apply(ed Editor, logger Logger) error {
	for _, op := range l.ops {
		var err error
		switch op.Kind {
		case ItemRemovePath:
			logger.Debug("moving path to trash", "path_id", op.PathID)
			err = ed.TrashPath(op.PathID)
		case ItemRemoveAction:
			logger.Debug("moving action to trash", "action_id", op.ActionID)
			err = ed.TrashAction(op.ActionID)
		case ItemRemoveAccessLink:
			logger.Debug("removing file access", "action_id", op.ActionID, "path_id", op.PathID, "operation", op.Operation.String())
			err = ed.RemoveFileAccess(op.ActionID, op.PathID, op.Operation)
		default:
			err = fmt.Errorf("unrecognized op kind %q", string(op.Kind))
		}
		if err != nil {
			return fmt.Errorf("%w: applying %s: %w", ErrInconsistentStore, op, err)
		}
	}
	return nil
}

// Reverse undoes a previously applied log by walking the ops backwards and
// performing the inverse of each one.
func (l *OperationLog) Reverse(ed Editor, logger Logger) error {
	for i := len(l.ops) - 1; i >= 0; i-- {
		op := l.ops[i]
		var err error
		switch op.Kind {
		case ItemRemovePath:
			logger.Debug("reviving path from trash", "path_id", op.PathID)
			err = ed.RevivePath(op.PathID)
		case ItemRemoveAction:
			logger.Debug("reviving action from trash", "action_id", op.ActionID)
			err = ed.ReviveAction(op.ActionID)
		case ItemRemoveAccessLink:
			logger.Debug("re-adding file access", "action_id", op.ActionID, "path_id", op.PathID, "operation", op.Operation.String())
			err = ed.AddFileAccess(op.ActionID, op.PathID, op.Operation)
		default:
			err = fmt.Errorf("unrecognized op kind %q", string(op.Kind))
		}
		if err != nil {
			return fmt.Errorf("%w: reversing %s: %w", ErrInconsistentStore, op, err)
		}
	}
	return nil
}
