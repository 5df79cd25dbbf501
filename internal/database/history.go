package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bml-go/internal/bml"
)

const historyColumns = "id, txn_id, description, logs, state, generation, created_at, updated_at"

func scanHistory(row interface{ Scan(...any) error }) (*bml.HistoryEntry, error) {
	var (
		e    bml.HistoryEntry
		logs string
	)
	if err := row.Scan(&e.ID, &e.TxnID, &e.Description, &logs, &e.State, &e.Generation, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	decoded, err := bml.DecodeLogs([]byte(logs))
	if err != nil {
		return nil, fmt.Errorf("history entry %d: %w", e.ID, err)
	}
	e.Logs = decoded
	return &e, nil
}

// AppendHistory records a committed transaction and drops the redo stack in
// the same SQL transaction.
func (s *SQLiteDatabase) AppendHistory(entry *bml.HistoryEntry) (*bml.HistoryEntry, error) {
	logs, err := bml.EncodeLogs(entry.Logs)
	if err != nil {
		return nil, err
	}

	stored := *entry
	err = s.mutate(false, func(q querier) error {
		ctx := context.Background()
		if _, err := q.ExecContext(ctx, "DELETE FROM refactor_history WHERE state = ?", bml.HistoryUndone); err != nil {
			return fmt.Errorf("discarding undone history: %w", err)
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO refactor_history (txn_id, description, logs, state, generation, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.TxnID, entry.Description, string(logs), entry.State, entry.Generation, entry.CreatedAt, entry.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting history entry: %w", err)
		}
		stored.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *SQLiteDatabase) findHistory(query string, args ...any) (*bml.HistoryEntry, error) {
	e, err := scanHistory(s.q.QueryRowContext(context.Background(), query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return e, nil
}

func (s *SQLiteDatabase) LatestApplied() (*bml.HistoryEntry, error) {
	return s.findHistory("SELECT "+historyColumns+" FROM refactor_history WHERE state = ? ORDER BY id DESC LIMIT 1", bml.HistoryApplied)
}

func (s *SQLiteDatabase) EarliestUndone() (*bml.HistoryEntry, error) {
	return s.findHistory("SELECT "+historyColumns+" FROM refactor_history WHERE state = ? ORDER BY id ASC LIMIT 1", bml.HistoryUndone)
}

// SetHistoryState also restamps the rest of the redo stack: undo and redo
// only move between recorded states, so every undone entry stays redoable
// at the generation this change leaves behind.
func (s *SQLiteDatabase) SetHistoryState(id int64, state bml.HistoryState, generation int64) error {
	return s.mutate(false, func(q querier) error {
		ctx := context.Background()
		res, err := q.ExecContext(ctx,
			"UPDATE refactor_history SET state = ?, generation = ?, updated_at = ? WHERE id = ?", state, generation, time.Now(), id)
		if err != nil {
			return fmt.Errorf("updating history entry: %w", err)
		}
		if err := rowsAffected(res, fmt.Errorf("history entry %d: %w", id, bml.ErrNotFound)); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "UPDATE refactor_history SET generation = ? WHERE state = ?", generation, bml.HistoryUndone); err != nil {
			return fmt.Errorf("restamping undone history: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) ListHistory(limit int) ([]*bml.HistoryEntry, error) {
	rows, err := s.q.QueryContext(context.Background(),
		"SELECT "+historyColumns+" FROM refactor_history ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var result []*bml.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) DiscardUndone() (int, error) {
	var n int64
	err := s.mutate(false, func(q querier) error {
		res, err := q.ExecContext(context.Background(), "DELETE FROM refactor_history WHERE state = ?", bml.HistoryUndone)
		if err != nil {
			return fmt.Errorf("discarding undone history: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteDatabase) MaxHistoryID() (int64, error) {
	var id int64
	err := s.q.QueryRowContext(context.Background(), "SELECT COALESCE(MAX(id), 0) FROM refactor_history").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting max history ID: %w", err)
	}
	return id, nil
}
