package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/avast/retry-go/v4"

	"bml-go/internal/bml"
	"bml-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var errReadOnly = errors.New("store mutation inside a read-only view")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type accessMode int

const (
	modeTop accessMode = iota
	modeView
	modeTx
)

// SQLiteDatabase implements bml.Database, bml.HistoryStore and bml.GroupStore
// using SQLite.
//
// Writes are serialized by an in-process RWMutex: every top-level mutation and
// every Update holds the write lock for the duration of one SQL transaction,
// and View holds the read lock. Plain reads take no lock. The copies handed to
// View and Update callbacks share the lock and run without re-acquiring it.
type SQLiteDatabase struct {
	db   *sql.DB
	q    querier
	path string
	mu   *sync.RWMutex
	mode accessMode
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
// The schema is not migrated; see migrations.MigrateUp.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path), nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:   db,
		q:    db,
		path: path,
		mu:   &sync.RWMutex{},
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
//
// The pool is limited to one connection: an in-memory database only exists on
// the connection that created it, and PRAGMAs are per connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// View runs fn against a copy of the store while holding the read lock.
func (s *SQLiteDatabase) View(fn func(bml.Database) error) error {
	if s.mode != modeTop {
		return fn(s)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := *s
	view.mode = modeView
	return fn(&view)
}

// Update runs fn against a copy of the store bound to a single SQL
// transaction. The transaction commits only if fn returns nil.
func (s *SQLiteDatabase) Update(fn func(bml.Database) error) error {
	switch s.mode {
	case modeTx:
		return fn(s)
	case modeView:
		return errReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *SQLiteDatabase) error { return fn(tx) })
}

// inTx runs fn in a new SQL transaction. The caller holds the write lock.
func (s *SQLiteDatabase) inTx(fn func(tx *SQLiteDatabase) error) error {
	ctx := context.Background()
	return retry.Do(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer tx.Rollback()

		bound := *s
		bound.q = tx
		bound.mode = modeTx
		if err := fn(&bound); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	}, writeRetryOptions(ctx)...)
}

// mutate runs a single write. Edits to the provenance data bump the
// generation counter in the same SQL transaction; bookkeeping writes
// (history) do not.
func (s *SQLiteDatabase) mutate(bump bool, fn func(q querier) error) error {
	run := func(tx *SQLiteDatabase) error {
		if err := fn(tx.q); err != nil {
			return err
		}
		if bump {
			return tx.bumpGeneration()
		}
		return nil
	}

	switch s.mode {
	case modeTx:
		return run(s)
	case modeView:
		return errReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(run)
}

func (s *SQLiteDatabase) bumpGeneration() error {
	_, err := s.q.ExecContext(context.Background(), "UPDATE store_state SET generation = generation + 1 WHERE id = 1")
	if err != nil {
		return fmt.Errorf("bumping generation: %w", err)
	}
	return nil
}

// Generation returns the store's mutation counter.
func (s *SQLiteDatabase) Generation() (int64, error) {
	var gen int64
	err := s.q.QueryRowContext(context.Background(), "SELECT generation FROM store_state WHERE id = 1").Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("reading generation: %w", err)
	}
	return gen, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
// The read lock keeps a concurrent Update from landing half way through.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.mode != modeTop {
		return fmt.Errorf("cannot close the store from inside View or Update")
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rowsAffected returns none when a write matched no rows.
func rowsAffected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}

func scanIDs(rows *sql.Rows) ([]int, error) {
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Compile-time checks
var (
	_ bml.Database     = (*SQLiteDatabase)(nil)
	_ bml.HistoryStore = (*SQLiteDatabase)(nil)
	_ bml.GroupStore   = (*SQLiteDatabase)(nil)
)
