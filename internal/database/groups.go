package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bml-go/internal/bml"
)

// File groups change which paths may be deleted, so every write here bumps
// the generation like an edit to the provenance data does.

func (s *SQLiteDatabase) CreateFileGroup(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("file group name is empty")
	}
	var id int
	err := s.mutate(true, func(q querier) error {
		ctx := context.Background()
		_, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO file_groups (name, created_at) VALUES (?, ?)", name, time.Now())
		if err != nil {
			return fmt.Errorf("inserting file group: %w", err)
		}
		if err := q.QueryRowContext(ctx, "SELECT id FROM file_groups WHERE name = ?", name).Scan(&id); err != nil {
			return fmt.Errorf("finding file group: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteDatabase) FindFileGroup(name string) (int, error) {
	var id int
	err := s.q.QueryRowContext(context.Background(), "SELECT id FROM file_groups WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("file group %s: %w", name, bml.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("finding file group: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) AddPathToGroup(groupID, pathID int) error {
	return s.mutate(true, func(q querier) error {
		ctx := context.Background()

		var live int
		err := q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM file_groups g, paths p
			WHERE g.id = ? AND p.id = ? AND p.trashed = 0`, groupID, pathID).Scan(&live)
		if err != nil {
			return fmt.Errorf("checking group member: %w", err)
		}
		if live == 0 {
			return fmt.Errorf("group %d or path %d: %w", groupID, pathID, bml.ErrNotFound)
		}

		_, err = q.ExecContext(ctx, "INSERT OR IGNORE INTO file_group_members (group_id, path_id) VALUES (?, ?)", groupID, pathID)
		if err != nil {
			return fmt.Errorf("inserting group member: %w", err)
		}
		return nil
	})
}

func (s *SQLiteDatabase) RemovePathFromGroup(groupID, pathID int) error {
	return s.mutate(true, func(q querier) error {
		res, err := q.ExecContext(context.Background(),
			"DELETE FROM file_group_members WHERE group_id = ? AND path_id = ?", groupID, pathID)
		if err != nil {
			return fmt.Errorf("deleting group member: %w", err)
		}
		return rowsAffected(res, fmt.Errorf("path %d in group %d: %w", pathID, groupID, bml.ErrNotFound))
	})
}

func (s *SQLiteDatabase) GroupsContainingPath(pathID int) ([]int, error) {
	rows, err := s.q.QueryContext(context.Background(),
		"SELECT group_id FROM file_group_members WHERE path_id = ? ORDER BY group_id", pathID)
	if err != nil {
		return nil, fmt.Errorf("listing groups for path: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning group ids: %w", err)
	}
	return ids, nil
}
