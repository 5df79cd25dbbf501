package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bml-go/internal/bml"
)

const actionColumns = "id, parent_id, directory_id, command, trashed"

func scanAction(row interface{ Scan(...any) error }) (*bml.Action, error) {
	var a bml.Action
	if err := row.Scan(&a.ID, &a.ParentID, &a.DirectoryID, &a.Command, &a.Trashed); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAccesses(rows *sql.Rows) ([]bml.FileAccess, error) {
	defer rows.Close()
	var result []bml.FileAccess
	for rows.Next() {
		var fa bml.FileAccess
		if err := rows.Scan(&fa.ActionID, &fa.PathID, &fa.Operation); err != nil {
			return nil, fmt.Errorf("scanning file access: %w", err)
		}
		result = append(result, fa)
	}
	return result, rows.Err()
}

// Action creation

func (s *SQLiteDatabase) RootAction() (int, error) {
	var id int
	err := s.q.QueryRowContext(context.Background(), "SELECT id FROM actions WHERE id = parent_id LIMIT 1").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("finding root action: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) AddShellCommandAction(parentID, directoryID int, command string) (int, error) {
	var id int
	err := s.mutate(true, func(q querier) error {
		ctx := context.Background()

		parent, err := scanAction(q.QueryRowContext(ctx, "SELECT "+actionColumns+" FROM actions WHERE id = ?", parentID))
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parent.Trashed) {
			return fmt.Errorf("parent action %d: %w", parentID, bml.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("finding parent action: %w", err)
		}

		dir, err := scanPath(q.QueryRowContext(ctx, "SELECT "+pathColumns+" FROM paths WHERE id = ?", directoryID))
		if errors.Is(err, sql.ErrNoRows) || (err == nil && (dir.Trashed || !dir.IsDir())) {
			return fmt.Errorf("%w: working directory %d is not a live directory", bml.ErrBadPath, directoryID)
		}
		if err != nil {
			return fmt.Errorf("finding working directory: %w", err)
		}

		res, err := q.ExecContext(ctx, "INSERT INTO actions (parent_id, directory_id, command) VALUES (?, ?, ?)",
			parentID, directoryID, command)
		if err != nil {
			return fmt.Errorf("inserting action: %w", err)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading new action id: %w", err)
		}
		id = int(newID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Action queries

func (s *SQLiteDatabase) FindAction(id int) (*bml.Action, error) {
	a, err := scanAction(s.q.QueryRowContext(context.Background(), "SELECT "+actionColumns+" FROM actions WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding action: %w", err)
	}
	return a, nil
}

func (s *SQLiteDatabase) ChildActions(id int) ([]*bml.Action, error) {
	rows, err := s.q.QueryContext(context.Background(),
		"SELECT "+actionColumns+" FROM actions WHERE parent_id = ? AND id != parent_id AND trashed = 0 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("listing child actions: %w", err)
	}
	defer rows.Close()

	var result []*bml.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) IsActionAtomic(id int) (bool, error) {
	var n int
	err := s.q.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM actions WHERE parent_id = ? AND id != parent_id AND trashed = 0", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting child actions: %w", err)
	}
	return n == 0, nil
}

func (s *SQLiteDatabase) IsActionTrashed(id int) (bool, error) {
	a, err := s.FindAction(id)
	if err != nil || a == nil {
		return false, err
	}
	return a.Trashed, nil
}

func (s *SQLiteDatabase) ActionsInDirectory(dirID int) ([]int, error) {
	rows, err := s.q.QueryContext(context.Background(),
		"SELECT id FROM actions WHERE directory_id = ? AND id != parent_id AND trashed = 0 ORDER BY id", dirID)
	if err != nil {
		return nil, fmt.Errorf("listing actions in directory: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning action ids: %w", err)
	}
	return ids, nil
}

// File access relation

func (s *SQLiteDatabase) AddFileAccess(actionID, pathID int, op bml.OperationType) error {
	return s.mutate(true, func(q querier) error {
		ctx := context.Background()

		var live int
		err := q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM actions a, paths p
			WHERE a.id = ? AND p.id = ? AND a.trashed = 0 AND p.trashed = 0`, actionID, pathID).Scan(&live)
		if err != nil {
			return fmt.Errorf("checking link ends: %w", err)
		}
		if live == 0 {
			return fmt.Errorf("action %d or path %d: %w", actionID, pathID, bml.ErrNotFound)
		}

		_, err = q.ExecContext(ctx,
			"INSERT OR IGNORE INTO file_accesses (action_id, path_id, operation) VALUES (?, ?, ?)", actionID, pathID, op)
		if err != nil {
			return fmt.Errorf("inserting file access: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) RemoveFileAccess(actionID, pathID int, op bml.OperationType) error {
	return s.mutate(true, func(q querier) error {
		res, err := q.ExecContext(context.Background(),
			"DELETE FROM file_accesses WHERE action_id = ? AND path_id = ? AND operation = ?", actionID, pathID, op)
		if err != nil {
			return fmt.Errorf("deleting file access: %w", err)
		}
		return rowsAffected(res, fmt.Errorf("%s link action %d -> path %d: %w", op, actionID, pathID, bml.ErrNotFound))
	})
}

func (s *SQLiteDatabase) FileAccesses(actionID int, filter bml.OperationType) ([]bml.FileAccess, error) {
	rows, err := s.q.QueryContext(context.Background(), `
		SELECT action_id, path_id, operation FROM file_accesses
		WHERE action_id = ? AND (? = 0 OR operation = ?)
		ORDER BY path_id, operation`, actionID, filter, filter)
	if err != nil {
		return nil, fmt.Errorf("listing file accesses: %w", err)
	}
	return scanAccesses(rows)
}

func (s *SQLiteDatabase) PathAccesses(pathID int, filter bml.OperationType) ([]bml.FileAccess, error) {
	rows, err := s.q.QueryContext(context.Background(), `
		SELECT fa.action_id, fa.path_id, fa.operation FROM file_accesses fa
		JOIN actions a ON a.id = fa.action_id
		WHERE fa.path_id = ? AND a.trashed = 0 AND (? = 0 OR fa.operation = ?)
		ORDER BY fa.action_id, fa.operation`, pathID, filter, filter)
	if err != nil {
		return nil, fmt.Errorf("listing path accesses: %w", err)
	}
	return scanAccesses(rows)
}

func (s *SQLiteDatabase) ActionsAccessing(pathID int, filter bml.OperationType) ([]int, error) {
	rows, err := s.q.QueryContext(context.Background(), `
		SELECT DISTINCT fa.action_id FROM file_accesses fa
		JOIN actions a ON a.id = fa.action_id
		WHERE fa.path_id = ? AND a.trashed = 0 AND (? = 0 OR fa.operation = ?)
		ORDER BY fa.action_id`, pathID, filter, filter)
	if err != nil {
		return nil, fmt.Errorf("listing accessing actions: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning action ids: %w", err)
	}
	return ids, nil
}

// Trash lifecycle

func (s *SQLiteDatabase) TrashAction(id int) error {
	return s.mutate(true, func(q querier) error {
		res, err := q.ExecContext(context.Background(), "UPDATE actions SET trashed = 1 WHERE id = ? AND trashed = 0", id)
		if err != nil {
			return fmt.Errorf("trashing action: %w", err)
		}
		return rowsAffected(res, fmt.Errorf("action %d: %w", id, bml.ErrNotFound))
	})
}

func (s *SQLiteDatabase) ReviveAction(id int) error {
	return s.mutate(true, func(q querier) error {
		res, err := q.ExecContext(context.Background(), "UPDATE actions SET trashed = 0 WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("reviving action: %w", err)
		}
		return rowsAffected(res, fmt.Errorf("action %d: %w", id, bml.ErrCannotRevive))
	})
}
