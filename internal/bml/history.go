package bml

import (
	"encoding/json"
	"fmt"
	"time"
)

// HistoryState tells whether a recorded transaction is currently applied.
type HistoryState string

const (
	HistoryApplied HistoryState = "applied"
	HistoryUndone  HistoryState = "undone"
)

// HistoryEntry is one committed transaction as recorded in the store.
type HistoryEntry struct {
	ID          int64
	TxnID       string
	Description string
	Logs        []*OperationLog
	State       HistoryState
	Generation  int64 // store generation after the entry last changed state
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OpCount returns the total number of primitive ops in the entry.
func (e *HistoryEntry) OpCount() int {
	n := 0
	for _, l := range e.Logs {
		n += l.Len()
	}
	return n
}

type storedLog struct {
	Description string   `json:"description"`
	Generation  int64    `json:"generation"`
	Ops         []ItemOp `json:"ops"`
}

// EncodeLogs serializes logs for the history table.
func EncodeLogs(logs []*OperationLog) ([]byte, error) {
	stored := make([]storedLog, len(logs))
	for i, l := range logs {
		stored[i] = storedLog{Description: l.description, Generation: l.generation, Ops: l.ops}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encoding operation logs: %w", err)
	}
	return data, nil
}

// DecodeLogs is the inverse of EncodeLogs.
func DecodeLogs(data []byte) ([]*OperationLog, error) {
	var stored []storedLog
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decoding operation logs: %w", err)
	}
	logs := make([]*OperationLog, len(stored))
	for i, s := range stored {
		logs[i] = &OperationLog{ops: s.Ops, generation: s.Generation, description: s.Description}
	}
	return logs, nil
}
