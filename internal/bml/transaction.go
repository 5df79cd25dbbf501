package bml

import (
	"errors"
	"fmt"
)

type txState int

const (
	txPending txState = iota
	txCommitted
	txRolledBack
	txBroken
)

func (s txState) String() string {
	switch s {
	case txPending:
		return "pending"
	case txCommitted:
		return "committed"
	case txRolledBack:
		return "rolled back"
	default:
		return "broken"
	}
}

// Transaction groups one or more OperationLogs into a single undo/redo unit.
// It is an ordinary caller-owned value: it can be built up, inspected and
// discarded without ever touching the store. Commit applies the logs in
// insertion order; Rollback reverses them in the opposite order.
type Transaction struct {
	db     Database
	logger Logger
	logs   []*OperationLog
	keys   map[string]bool
	state  txState

	// Planned logs are only safe against the generation they were planned at,
	// and a rolled back transaction only against the generation its rollback
	// left behind. Commit refuses to run on any other generation.
	checkGeneration bool
	generation      int64
}

// NewTransaction creates an empty transaction against db.
func NewTransaction(db Database, logger Logger) *Transaction {
	return &Transaction{
		db:     db,
		logger: logger,
		keys:   make(map[string]bool),
	}
}

// RestoreTransaction rebuilds a transaction from logs recorded in history.
// committed tells whether the logs are currently applied to the store.
// generation is the store generation recorded right after the logs were last
// applied or reversed; re-applying them requires the store to still be there.
func RestoreTransaction(db Database, logger Logger, logs []*OperationLog, committed bool, generation int64) *Transaction {
	t := NewTransaction(db, logger)
	t.logs = logs
	t.generation = generation
	for _, l := range logs {
		for _, op := range l.ops {
			t.keys[op.key()] = true
		}
	}
	if committed {
		t.state = txCommitted
	} else {
		t.state = txRolledBack
		t.checkGeneration = true
	}
	return t
}

// Append adds a planned log to the transaction. Logs can only be added before
// the first commit, must all be planned against the same store generation,
// and must not edit an entity that an earlier log already edits. Plans made
// with Refactorer.DeletePath and DeletePathTree already account for the
// pending edits and never conflict.
func (t *Transaction) Append(log *OperationLog) error {
	if t.state != txPending {
		return fmt.Errorf("%w: cannot append to a %s transaction", ErrTransactionState, t.state)
	}
	if len(t.logs) == 0 {
		t.generation = log.generation
		t.checkGeneration = true
	} else if log.generation != t.generation {
		return fmt.Errorf("%w: log planned at generation %d, transaction at %d", ErrStalePlan, log.generation, t.generation)
	}

	for _, op := range log.ops {
		if t.keys[op.key()] {
			return fmt.Errorf("%w: %s", ErrConflictingPlan, op)
		}
	}
	for _, op := range log.ops {
		t.keys[op.key()] = true
	}
	t.logs = append(t.logs, log)
	return nil
}

// pending collects the edits of every appended log.
func (t *Transaction) pending() overlay {
	o := newOverlay()
	for _, l := range t.logs {
		for _, op := range l.ops {
			o.add(op)
		}
	}
	return o
}

// Logs returns the logs in insertion order.
func (t *Transaction) Logs() []*OperationLog {
	return append([]*OperationLog(nil), t.logs...)
}

// IsEmpty reports whether the transaction contains no ops at all. An empty
// transaction is a no-op and need not be recorded in any history.
func (t *Transaction) IsEmpty() bool {
	for _, l := range t.logs {
		if l.Len() > 0 {
			return false
		}
	}
	return true
}

// Generation returns the store generation the transaction was planned at, or
// the one it left behind after its last commit or rollback.
func (t *Transaction) Generation() int64 {
	return t.generation
}

// Committed reports whether the transaction's edits are currently applied.
func (t *Transaction) Committed() bool {
	return t.state == txCommitted
}

// Description joins the descriptions of the contained logs.
func (t *Transaction) Description() string {
	desc := ""
	for i, l := range t.logs {
		if i > 0 {
			desc += "; "
		}
		desc += l.description
	}
	return desc
}

// Commit applies every log in insertion order inside one exclusive write
// section. Calling Commit again after Rollback redoes the change and yields
// the identical store state, provided nothing else changed the store in
// between; otherwise ErrStalePlan is returned and nothing is applied.
func (t *Transaction) Commit() error {
	return t.commit(nil)
}

// commit applies the logs and then runs record, if set, in the same write
// section with the generation the logs left behind. A failing record undoes
// the whole commit.
func (t *Transaction) commit(record func(tx Database, generation int64) error) error {
	if t.state != txPending && t.state != txRolledBack {
		return fmt.Errorf("%w: cannot commit a %s transaction", ErrTransactionState, t.state)
	}
	if t.IsEmpty() {
		t.state = txCommitted
		return nil
	}

	var after int64
	err := t.db.Update(func(tx Database) error {
		if t.checkGeneration {
			gen, err := tx.Generation()
			if err != nil {
				return fmt.Errorf("reading store generation: %w", err)
			}
			if gen != t.generation {
				return fmt.Errorf("%w: expected generation %d, store is at %d", ErrStalePlan, t.generation, gen)
			}
		}
		for _, l := range t.logs {
			if err := l.Apply(tx, t.logger); err != nil {
				return err
			}
		}
		var err error
		if after, err = tx.Generation(); err != nil {
			return err
		}
		if record != nil {
			return record(tx, after)
		}
		return nil
	})
	if err != nil {
		t.fail(err)
		return fmt.Errorf("committing transaction: %w", err)
	}

	t.checkGeneration = false
	t.generation = after
	t.state = txCommitted
	t.logger.Info("transaction committed", "logs", len(t.logs), "description", t.Description())
	return nil
}

// Rollback reverses every log in reverse insertion order inside one
// exclusive write section, restoring the store exactly.
func (t *Transaction) Rollback() error {
	return t.rollback(nil)
}

func (t *Transaction) rollback(record func(tx Database, generation int64) error) error {
	if t.state != txCommitted {
		return fmt.Errorf("%w: cannot roll back a %s transaction", ErrTransactionState, t.state)
	}
	if t.IsEmpty() {
		t.state = txRolledBack
		return nil
	}

	var after int64
	err := t.db.Update(func(tx Database) error {
		for i := len(t.logs) - 1; i >= 0; i-- {
			if err := t.logs[i].Reverse(tx, t.logger); err != nil {
				return err
			}
		}
		var err error
		if after, err = tx.Generation(); err != nil {
			return err
		}
		if record != nil {
			return record(tx, after)
		}
		return nil
	})
	if err != nil {
		t.fail(err)
		return fmt.Errorf("rolling back transaction: %w", err)
	}

	t.checkGeneration = true
	t.generation = after
	t.state = txRolledBack
	t.logger.Info("transaction rolled back", "logs", len(t.logs), "description", t.Description())
	return nil
}

// fail marks the transaction unusable when the store contradicted the plan.
// A stale plan is recoverable by re-planning, so it leaves the state alone.
func (t *Transaction) fail(err error) {
	if errors.Is(err, ErrInconsistentStore) {
		t.logger.Error("store rejected a certified edit", "error", err.Error())
		t.state = txBroken
	}
}
