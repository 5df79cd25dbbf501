package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"bml-go/internal/bml"
	"bml-go/internal/config"
	"bml-go/internal/database"
	"bml-go/internal/encryption"
	"bml-go/internal/vault"
)

// archiveItem is the vault item name of the store archive.
const archiveItem = "db"

// archiveRetryOptions retries vault transfers with exponential backoff.
func archiveRetryOptions(ctx context.Context, logger bml.Logger) []retry.Option {
	return []retry.Option{
		retry.Attempts(4),
		retry.Delay(200 * time.Millisecond),
		retry.MaxDelay(2 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("vault transfer failed, retrying", "attempt", n+1, "error", err.Error())
		}),
	}
}

// snapshot is a consistent copy of the store in a private temp directory.
type snapshot struct {
	dir        string
	path       string
	generation int64
}

func (s *snapshot) remove() {
	os.RemoveAll(s.dir)
}

// takeSnapshot copies the store with VACUUM INTO and records the generation
// the copy is at.
func takeSnapshot(db *database.SQLiteDatabase) (*snapshot, error) {
	gen, err := db.Generation()
	if err != nil {
		return nil, fmt.Errorf("reading store generation: %w", err)
	}

	dir, err := os.MkdirTemp("", "bml-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir for store snapshot: %w", err)
	}
	snap := &snapshot{dir: dir, path: filepath.Join(dir, "store.db"), generation: gen}

	if err := db.BackupTo(snap.path); err != nil {
		snap.remove()
		return nil, err
	}
	return snap, nil
}

// uploadArchive encrypts a snapshot and uploads it with version = the
// snapshot's generation.
func uploadArchive(ctx context.Context, v bml.Vault, enc bml.Encryptor, storeID string, snap *snapshot, logger bml.Logger) error {
	sealed := snap.path + ".sealed"
	if err := transformFile(snap.path, sealed, enc.Encrypt); err != nil {
		return fmt.Errorf("encrypting store snapshot: %w", err)
	}

	err := retry.Do(func() error {
		f, err := os.Open(sealed)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("opening sealed snapshot: %w", err))
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("stat sealed snapshot: %w", err))
		}
		return v.PutMetadata(storeID, archiveItem, f, info.Size(), snap.generation)
	}, archiveRetryOptions(ctx, logger)...)
	if err != nil {
		return fmt.Errorf("uploading store archive: %w", err)
	}
	return nil
}

// transformFile streams src through fn into a new file at dst.
func transformFile(src, dst string, fn func(io.Reader, io.Writer) error) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if err := fn(in, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RestoreArchive replaces the local store with the latest archive in the
// first configured vault and returns the restored generation. The local store
// must not be in use; the store lock is held for the duration.
func RestoreArchive(cfg *config.Config, passphrase string) (int64, error) {
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("archive restore needs a sqlite store, not %q", cfg.Database.Type)
	}
	if len(cfg.Vaults) == 0 {
		return 0, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}

	lock, err := acquireLock(cfg)
	if err != nil {
		return 0, err
	}
	defer releaseLock(lock)

	version, err := v.GetMetadataVersion(cfg.StoreID, archiveItem)
	if err != nil {
		return 0, fmt.Errorf("checking archive version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("no archive of store %s in vault %s", cfg.StoreID, cfg.Vaults[0].Name)
	}

	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking archive key: %w", err)
	}

	target, err := database.DatabasePath(cfg.Database, cfg.StoreID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("creating data dir: %w", err)
	}

	// Work next to the target so the final rename stays on one filesystem.
	dir, err := os.MkdirTemp(filepath.Dir(target), ".bml-restore-*")
	if err != nil {
		return 0, fmt.Errorf("creating restore dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sealed := filepath.Join(dir, "store.db.sealed")
	err = retry.Do(func() error {
		f, err := os.Create(sealed)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if err := v.GetMetadata(cfg.StoreID, archiveItem, f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, archiveRetryOptions(context.Background(), bml.NewNopLogger())...)
	if err != nil {
		return 0, fmt.Errorf("downloading store archive: %w", err)
	}

	plain := filepath.Join(dir, "store.db")
	if err := transformFile(sealed, plain, dc.Decrypt); err != nil {
		return 0, fmt.Errorf("decrypting store archive: %w", err)
	}

	if err := checkRestored(plain, version); err != nil {
		return 0, err
	}

	if err := os.Rename(plain, target); err != nil {
		return 0, fmt.Errorf("replacing local store: %w", err)
	}
	return version, nil
}

// checkRestored opens a downloaded store and verifies it is at the archived
// generation.
func checkRestored(path string, version int64) error {
	db, err := database.NewSQLiteDatabase(path)
	if err != nil {
		return fmt.Errorf("opening restored store: %w", err)
	}
	defer db.Close()

	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("restored store: %w", err)
	}
	gen, err := db.Generation()
	if err != nil {
		return fmt.Errorf("restored store: %w", err)
	}
	if gen != version {
		return fmt.Errorf("restored store is at generation %d, archive claims %d", gen, version)
	}
	return nil
}
