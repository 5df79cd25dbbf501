package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bml-go/internal/bml"
)

const pathColumns = "id, parent_id, name, path_type, trashed"

func scanPath(row interface{ Scan(...any) error }) (*bml.Path, error) {
	var p bml.Path
	if err := row.Scan(&p.ID, &p.ParentID, &p.Name, &p.Type, &p.Trashed); err != nil {
		return nil, err
	}
	return &p, nil
}

// splitPath breaks an absolute path name into its components.
func splitPath(fullPath string) ([]string, error) {
	clean, err := bml.CleanPath(fullPath)
	if err != nil {
		return nil, err
	}
	if clean == "/" {
		return nil, nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/"), nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// Path creation

func (s *SQLiteDatabase) RootPath() (int, error) {
	var id int
	err := s.q.QueryRowContext(context.Background(), "SELECT id FROM paths WHERE id = parent_id LIMIT 1").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("finding root path: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) AddFile(fullPath string) (int, error) {
	return s.addPath(fullPath, bml.PathTypeFile)
}

func (s *SQLiteDatabase) AddDirectory(fullPath string) (int, error) {
	return s.addPath(fullPath, bml.PathTypeDirectory)
}

func (s *SQLiteDatabase) AddSymlink(fullPath string) (int, error) {
	return s.addPath(fullPath, bml.PathTypeSymlink)
}

// addPath creates fullPath and every missing directory above it in one
// write transaction.
func (s *SQLiteDatabase) addPath(fullPath string, pathType bml.PathType) (int, error) {
	parts, err := splitPath(fullPath)
	if err != nil {
		return 0, err
	}

	var id int
	err = s.Update(func(db bml.Database) error {
		cur, err := db.RootPath()
		if err != nil {
			return err
		}
		if len(parts) == 0 {
			if pathType != bml.PathTypeDirectory {
				return fmt.Errorf("%w: / is a directory", bml.ErrBadPath)
			}
			id = cur
			return nil
		}
		for i, name := range parts {
			t := bml.PathTypeDirectory
			if i == len(parts)-1 {
				t = pathType
			}
			cur, err = db.AddChildOfPath(cur, t, name)
			if err != nil {
				return err
			}
		}
		id = cur
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("adding %s: %w", fullPath, err)
	}
	return id, nil
}

// AddChildOfPath returns the existing child when one with the same name and
// type is present. A trashed child is brought back rather than shadowed, so
// a name always maps to a single row.
func (s *SQLiteDatabase) AddChildOfPath(parentID int, pathType bml.PathType, name string) (int, error) {
	if !validName(name) {
		return 0, fmt.Errorf("%w: invalid name %q", bml.ErrBadPath, name)
	}
	if pathType == bml.PathTypeInvalid {
		return 0, fmt.Errorf("%w: invalid path type", bml.ErrBadPath)
	}

	var id int
	err := s.mutate(true, func(q querier) error {
		ctx := context.Background()

		parent, err := scanPath(q.QueryRowContext(ctx, "SELECT "+pathColumns+" FROM paths WHERE id = ?", parentID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: parent %d does not exist", bml.ErrBadPath, parentID)
		}
		if err != nil {
			return fmt.Errorf("finding parent: %w", err)
		}
		if !parent.IsDir() || parent.Trashed {
			return fmt.Errorf("%w: parent %d is not a live directory", bml.ErrBadPath, parentID)
		}

		existing, err := scanPath(q.QueryRowContext(ctx,
			"SELECT "+pathColumns+" FROM paths WHERE parent_id = ? AND name = ? AND id != parent_id", parentID, name))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := q.ExecContext(ctx, "INSERT INTO paths (parent_id, name, path_type) VALUES (?, ?, ?)", parentID, name, pathType)
			if err != nil {
				return fmt.Errorf("inserting path: %w", err)
			}
			newID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading new path id: %w", err)
			}
			id = int(newID)
			return nil
		case err != nil:
			return fmt.Errorf("finding child: %w", err)
		}

		if existing.Type != pathType {
			return fmt.Errorf("%w: %q exists as a %s", bml.ErrBadPath, name, existing.Type)
		}
		if existing.Trashed {
			if _, err := q.ExecContext(ctx, "UPDATE paths SET trashed = 0 WHERE id = ?", existing.ID); err != nil {
				return fmt.Errorf("reviving path: %w", err)
			}
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Path queries

func (s *SQLiteDatabase) FindPath(id int) (*bml.Path, error) {
	p, err := scanPath(s.q.QueryRowContext(context.Background(), "SELECT "+pathColumns+" FROM paths WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding path: %w", err)
	}
	return p, nil
}

func (s *SQLiteDatabase) LookupPath(fullPath string) (int, error) {
	parts, err := splitPath(fullPath)
	if err != nil {
		return 0, err
	}
	cur, err := s.RootPath()
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	for _, name := range parts {
		err := s.q.QueryRowContext(ctx,
			"SELECT id FROM paths WHERE parent_id = ? AND name = ? AND id != parent_id AND trashed = 0", cur, name).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", fullPath, bml.ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("looking up path: %w", err)
		}
	}
	return cur, nil
}

func (s *SQLiteDatabase) PathName(id int) (string, error) {
	var names []string
	cur := id
	for {
		p, err := s.FindPath(cur)
		if err != nil {
			return "", err
		}
		if p == nil {
			return "", fmt.Errorf("path %d: %w", cur, bml.ErrNotFound)
		}
		if p.IsRoot() {
			break
		}
		names = append(names, p.Name)
		cur = p.ParentID
	}

	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(names[i])
	}
	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

func (s *SQLiteDatabase) ChildPaths(id int) ([]*bml.Path, error) {
	rows, err := s.q.QueryContext(context.Background(),
		"SELECT "+pathColumns+" FROM paths WHERE parent_id = ? AND id != parent_id AND trashed = 0 ORDER BY name", id)
	if err != nil {
		return nil, fmt.Errorf("listing child paths: %w", err)
	}
	defer rows.Close()

	var result []*bml.Path
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning path: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) IsDirectoryEmpty(id int) (bool, error) {
	var n int
	err := s.q.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM paths WHERE parent_id = ? AND id != parent_id AND trashed = 0", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("counting child paths: %w", err)
	}
	return n == 0, nil
}

func (s *SQLiteDatabase) IsAncestorOf(ancestor, id int) (bool, error) {
	cur := id
	for {
		p, err := s.FindPath(cur)
		if err != nil {
			return false, err
		}
		if p == nil || p.IsRoot() {
			return false, nil
		}
		if p.ParentID == ancestor {
			return true, nil
		}
		cur = p.ParentID
	}
}

func (s *SQLiteDatabase) IsPathTrashed(id int) (bool, error) {
	p, err := s.FindPath(id)
	if err != nil || p == nil {
		return false, err
	}
	return p.Trashed, nil
}

// Trash lifecycle

func (s *SQLiteDatabase) TrashPath(id int) error {
	return s.mutate(true, func(q querier) error {
		res, err := q.ExecContext(context.Background(), "UPDATE paths SET trashed = 1 WHERE id = ? AND trashed = 0", id)
		if err != nil {
			return fmt.Errorf("trashing path: %w", err)
		}
		return rowsAffected(res, fmt.Errorf("path %d: %w", id, bml.ErrNotFound))
	})
}

func (s *SQLiteDatabase) RevivePath(id int) error {
	return s.mutate(true, func(q querier) error {
		res, err := q.ExecContext(context.Background(), "UPDATE paths SET trashed = 0 WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("reviving path: %w", err)
		}
		return rowsAffected(res, fmt.Errorf("path %d: %w", id, bml.ErrCannotRevive))
	})
}
