package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bml-go/internal/bml"
)

// FileSystemVault stores archives as files in a directory structure:
//
//	<root>/
//	  stores/
//	    <storeID>/
//	      <name>           (archive bytes)
//	      <name>.version   (decimal version marker)
type FileSystemVault struct {
	name      string
	root      string
	storesDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	storesDir := filepath.Join(root, "stores")
	if err := os.MkdirAll(storesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stores directory: %w", err)
	}

	return &FileSystemVault{
		name:      name,
		root:      root,
		storesDir: storesDir,
	}, nil
}

func (v *FileSystemVault) itemPath(storeID, name string) (string, error) {
	for _, part := range []string{storeID, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid vault item name %q", part)
		}
	}
	return filepath.Join(v.storesDir, storeID, name), nil
}

// PutMetadata writes the item and then its version marker. A reader that sees
// the new version always finds the new bytes.
func (v *FileSystemVault) PutMetadata(storeID string, name string, r io.Reader, size int64, version int64) error {
	destPath, err := v.itemPath(storeID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := writeFileAtomic(destPath, r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return writeFileAtomic(destPath+".version", strings.NewReader(versionData), int64(len(versionData)))
}

// GetMetadataVersion returns the version of a named item.
// Returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(storeID string, name string) (int64, error) {
	itemPath, err := v.itemPath(storeID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(itemPath + ".version")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata retrieves a named item and writes it to w.
func (v *FileSystemVault) GetMetadata(storeID string, name string, w io.Writer) error {
	srcPath, err := v.itemPath(storeID, name)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%q not found for store %s: %w", name, storeID, bml.ErrNotFound)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.storesDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFileAtomic writes data from r to destPath through a temp file and rename.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	// Temp file lives in the same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemVault implements bml.Vault interface
var _ bml.Vault = (*FileSystemVault)(nil)
