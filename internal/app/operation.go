package app

import "time"

// Operation tracks the CLI command being run. Commands that change the store
// mark it mutated, and only mutated operations archive the store on Close.
type Operation struct {
	ID         string // correlates the log lines of one invocation
	Name       string
	Parameters string
	Status     string // "success" or "error"
	mutated    bool
}

// NewOperation creates an operation started at now.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         now.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		Status:     "success",
	}
}

// Record notes the outcome of one step. Status follows the latest step, so a
// command that retries after a refusal finishes as a success. A successful
// mutating step marks the operation mutated.
func (op *Operation) Record(mutating bool, err error) {
	if err != nil {
		op.Status = "error"
		return
	}
	op.Status = "success"
	if mutating {
		op.mutated = true
	}
}

// Mutated reports whether any step changed the store.
func (op *Operation) Mutated() bool {
	return op.mutated
}
