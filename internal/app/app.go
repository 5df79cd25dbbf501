package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"bml-go/internal/bml"
	"bml-go/internal/config"
	"bml-go/internal/database"
	"bml-go/internal/encryption"
	"bml-go/internal/fs"
	"bml-go/internal/manifest"
	"bml-go/internal/vault"
)

// lockTimeout bounds how long a command waits for another bml process to
// release the store.
var lockTimeout = 10 * time.Second

// Options tune how a BMLApp is built.
type Options struct {
	// Verbose copies debug logging to stderr.
	Verbose bool
}

// BMLApp is the application layer between the CLI and BMLService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw path names, and archives the store on Close when the
// command changed it.
type BMLApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	vault     bml.Vault
	encryptor bml.Encryptor
	service   *bml.BMLService
	logger    bml.Logger
	op        *Operation
	lock      *flock.Flock
	logFile   *os.File
}

// NewBMLApp creates a fully wired BMLApp from the given config.
// operation identifies the CLI command being run (e.g. "rm", "import").
// The store is locked against other bml processes until Close is called.
func NewBMLApp(cfg *config.Config, operation, parameters string, opts Options) (*BMLApp, error) {
	op := NewOperation(operation, parameters, time.Now())

	var v bml.Vault
	if len(cfg.Vaults) > 0 {
		var err error
		v, err = vault.NewVaultFromConfig(cfg.Vaults[0])
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	lock, err := acquireLock(cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.StoreID)
	if err != nil {
		releaseLock(lock)
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Refuse to work on a store older than its last archive.
	if v != nil {
		archived, err := v.GetMetadataVersion(cfg.StoreID, archiveItem)
		if err != nil {
			db.Close()
			releaseLock(lock)
			return nil, fmt.Errorf("checking archive version: %w", err)
		}
		local, err := db.Generation()
		if err != nil {
			db.Close()
			releaseLock(lock)
			return nil, fmt.Errorf("checking local store version: %w", err)
		}
		if archived > local {
			db.Close()
			releaseLock(lock)
			return nil, fmt.Errorf("local store is behind its archive (local=%d, archive=%d): run `bml archive restore`", local, archived)
		}
	}

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Verbose)
	if err != nil {
		db.Close()
		releaseLock(lock)
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	svc := bml.NewBMLService(db, db, db, logger, bml.RealClock{}, bml.UUIDGenerator{})
	logger.Debug("operation started", "operation", op.Name, "parameters", op.Parameters)

	return &BMLApp{
		cfg:       cfg,
		db:        db,
		vault:     v,
		encryptor: enc,
		service:   svc,
		logger:    logger,
		op:        op,
		lock:      lock,
		logFile:   logFile,
	}, nil
}

// lockPath returns the lock file guarding the store, or "" for a store that
// lives only in memory.
func lockPath(cfg *config.Config) string {
	switch {
	case cfg.BaseDir != "":
		return filepath.Join(cfg.BaseDir, "bml.lock")
	case cfg.Database.Type == "sqlite":
		return filepath.Join(cfg.Database.DataDir, "bml.lock")
	default:
		return ""
	}
}

// acquireLock takes the cross-process lock on the store, waiting up to
// lockTimeout for a concurrent command to finish.
func acquireLock(cfg *config.Config) (*flock.Flock, error) {
	path := lockPath(cfg)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	lock := flock.New(path)
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("store is locked by another bml process (%s)", path)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if lock != nil {
		lock.Unlock()
	}
}

// Service returns the underlying service, for callers that assemble their
// own transactions.
func (a *BMLApp) Service() *bml.BMLService {
	return a.service
}

// Import loads a build manifest and adds it to the store. Paths matching the
// configured ignore patterns, or a .bmlignore file next to the manifest, are
// not recorded.
func (a *BMLApp) Import(manifestPath string) (*bml.ImportSummary, error) {
	rec, err := manifest.LoadFile(manifestPath)
	if err != nil {
		a.op.Record(true, err)
		return nil, err
	}

	patterns := append([]string(nil), a.cfg.Import.Ignore...)
	local, err := fs.ParseIgnoreFile(filepath.Join(filepath.Dir(manifestPath), fs.IgnoreFileName))
	if err != nil {
		a.op.Record(true, err)
		return nil, err
	}
	patterns = append(patterns, local...)

	sum, err := a.service.ImportBuild(rec, fs.NewIgnoreMatcher(patterns))
	a.op.Record(true, err)
	return sum, err
}

// Delete deletes the requested paths as a single undoable change.
func (a *BMLApp) Delete(req bml.DeleteRequest) (*bml.HistoryEntry, error) {
	entry, err := a.service.DeletePaths(req)
	a.op.Record(true, err)
	return entry, err
}

// DeleteWithRetry deletes the requested paths. When a path is refused for a
// reason a remedy can resolve, ask decides whether to retry with that remedy
// enabled for the refused path alone. Only the final outcome is recorded on
// the operation. A nil ask never retries.
func (a *BMLApp) DeleteWithRetry(req bml.DeleteRequest, ask func(path string, remedy bml.Remedy, reason string) bool) (*bml.HistoryEntry, error) {
	for {
		entry, err := a.service.DeletePaths(req)
		if err == nil {
			a.op.Record(true, nil)
			return entry, nil
		}

		remedy := bml.SuggestRemedy(err)
		var derr *bml.DeleteError
		if ask == nil || remedy == bml.RemedyNone || !errors.As(err, &derr) || !ask(derr.Path, remedy, a.Explain(err)) {
			a.op.Record(true, err)
			return nil, err
		}
		a.logger.Info("retrying deletion", "path", derr.Path, "remedy", remedy.String())
		req = remedy.Apply(req, derr.Path)
	}
}

// Undo reverses the most recent applied change.
func (a *BMLApp) Undo() (*bml.HistoryEntry, error) {
	entry, err := a.service.Undo()
	a.op.Record(true, err)
	return entry, err
}

// Redo re-applies the oldest undone change.
func (a *BMLApp) Redo() (*bml.HistoryEntry, error) {
	entry, err := a.service.Redo()
	a.op.Record(true, err)
	return entry, err
}

// GetHistory returns the most recent changes, newest first.
func (a *BMLApp) GetHistory(limit int) ([]*bml.HistoryEntry, error) {
	return a.service.GetHistory(limit)
}

// List returns the live entries of a directory.
func (a *BMLApp) List(dir string) ([]*bml.PathEntry, error) {
	return a.service.ListDirectory(dir)
}

// ShowAction returns an action with its accesses and sub-actions.
func (a *BMLApp) ShowAction(id int) (*bml.ActionDetails, error) {
	return a.service.DescribeAction(id)
}

// Unused lists the files below root that no live action touches.
func (a *BMLApp) Unused(root string) ([]string, error) {
	return a.service.UnusedFiles(root)
}

// ReleaseFromGroup removes a path from a file group.
func (a *BMLApp) ReleaseFromGroup(group, path string) error {
	err := a.service.ReleaseFromGroup(group, path)
	a.op.Record(true, err)
	return err
}

// Close finalizes the operation and releases all resources. If the command
// changed the store, the store is archived to the first vault.
func (a *BMLApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var snap *snapshot
	if a.op.Mutated() && a.vault != nil {
		var err error
		snap, err = takeSnapshot(a.db)
		keep(err)
	}

	if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}

	if snap != nil {
		err := a.upload(snap)
		if err != nil {
			a.logger.Error("archiving store failed", "error", err.Error())
		} else {
			a.logger.Info("store archived", "version", snap.generation)
		}
		keep(err)
		snap.remove()
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status)

	if a.logFile != nil {
		a.logFile.Close()
	}
	releaseLock(a.lock)

	return firstErr
}

func (a *BMLApp) upload(snap *snapshot) error {
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("archive keys are not set up: run `bml config init`")
	}
	return uploadArchive(context.Background(), a.vault, a.encryptor, a.cfg.StoreID, snap, a.logger)
}

// InitStore creates the store described by cfg and sets up the archive keys.
// passphrase is only used by encryptors that need one.
func InitStore(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if encryption.RequiresPassphrase(enc) {
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up archive keys: %w", err)
		}
	}

	for i, vc := range cfg.Vaults {
		v, err := vault.NewVaultFromConfig(vc)
		if err != nil {
			return fmt.Errorf("creating vault %d: %w", i, err)
		}
		if err := v.ValidateSetup(); err != nil {
			return fmt.Errorf("validating vault %s: %w", vc.Name, err)
		}
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.StoreID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	return db.Close()
}

// NeedsPassphrase reports whether restoring an archive requires the user's
// passphrase under cfg.
func NeedsPassphrase(cfg *config.Config) (bool, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return false, err
	}
	return encryption.RequiresPassphrase(enc), nil
}

// describe renders a RefactorError for the user, naming the offending paths,
// actions or groups instead of bare ids.
func (a *BMLApp) describe(rerr *bml.RefactorError) string {
	names := make([]string, 0, len(rerr.IDs()))
	for _, id := range rerr.IDs() {
		names = append(names, a.entityName(rerr.Cause(), id))
	}
	return fmt.Sprintf("%s: %s", rerr.Cause(), strings.Join(names, ", "))
}

func (a *BMLApp) entityName(cause bml.Cause, id int) string {
	switch cause {
	case bml.CauseInvalidPath, bml.CauseDirectoryNotEmpty, bml.CauseActionInUse:
		if name, err := a.db.PathName(id); err == nil {
			return name
		}
	case bml.CauseStillReferenced:
		return fmt.Sprintf("group #%d", id)
	default:
		if action, err := a.db.FindAction(id); err == nil && action != nil {
			return fmt.Sprintf("#%d (%s)", id, action.Command)
		}
	}
	return fmt.Sprintf("#%d", id)
}

// Explain turns err into a message for the user. Refusals name the entities
// involved; other errors are returned as they are.
func (a *BMLApp) Explain(err error) string {
	rerr, ok := bml.AsRefactorError(err)
	if !ok {
		return err.Error()
	}
	msg := a.describe(rerr)
	var derr *bml.DeleteError
	if errors.As(err, &derr) {
		msg = derr.Path + ": " + msg
	}
	return msg
}
