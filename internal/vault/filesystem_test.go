package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bml-go/internal/bml"
)

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")

		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}

		if _, err := os.Stat(filepath.Join(root, "stores")); err != nil {
			t.Errorf("stores directory not created: %v", err)
		}
		if v.name != "test" {
			t.Errorf("name = %q, want %q", v.name, "test")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault("test", t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_PutMetadata(t *testing.T) {
	tests := []struct {
		name    string
		storeID string
		item    string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store archive", storeID: "store-1", item: "db", data: "hello world", size: 11},
		{name: "size mismatch", storeID: "store-1", item: "db", data: "hello", size: 100, wantErr: true},
		{name: "empty archive", storeID: "store-1", item: "db", data: "", size: 0},
		{name: "store id with separator", storeID: "../evil", item: "db", data: "x", size: 1, wantErr: true},
		{name: "empty item name", storeID: "store-1", item: "", data: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewFileSystemVault("test", t.TempDir())
			if err != nil {
				t.Fatalf("NewFileSystemVault() error = %v", err)
			}

			err = v.PutMetadata(tt.storeID, tt.item, strings.NewReader(tt.data), tt.size, 5)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutMetadata() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if version, _ := v.GetMetadataVersion("store-1", "db"); version != 0 {
					t.Errorf("version written after failed put: %d", version)
				}
				return
			}

			var buf bytes.Buffer
			if err := v.GetMetadata(tt.storeID, tt.item, &buf); err != nil {
				t.Fatalf("GetMetadata() error = %v", err)
			}
			if buf.String() != tt.data {
				t.Errorf("GetMetadata() = %q, want %q", buf.String(), tt.data)
			}

			version, err := v.GetMetadataVersion(tt.storeID, tt.item)
			if err != nil || version != 5 {
				t.Errorf("GetMetadataVersion() = %d, %v; want 5", version, err)
			}
		})
	}
}

func TestFileSystemVault_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatal(err)
	}

	v.PutMetadata("s", "db", strings.NewReader("abc"), 99, 1)
	if err := v.PutMetadata("s", "db", strings.NewReader("abc"), 3, 2); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "stores", "s"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 2 {
		t.Errorf("store directory has %d entries, want db and db.version", len(entries))
	}
}

func TestFileSystemVault_GetMetadataNotFound(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := v.GetMetadata("missing", "db", &buf); !errors.Is(err, bml.ErrNotFound) {
		t.Errorf("GetMetadata() error = %v, want ErrNotFound", err)
	}

	version, err := v.GetMetadataVersion("missing", "db")
	if err != nil || version != 0 {
		t.Errorf("GetMetadataVersion() = %d, %v; want 0, nil", version, err)
	}
}

func TestFileSystemVault_CorruptVersion(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.PutMetadata("s", "db", strings.NewReader("x"), 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "stores", "s", "db.version"), []byte("not-a-number"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := v.GetMetadataVersion("s", "db"); err == nil {
		t.Error("GetMetadataVersion() expected parse error")
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	t.Run("valid vault", func(t *testing.T) {
		v, err := NewFileSystemVault("test", t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if err := v.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("removed root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")
		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.RemoveAll(root); err != nil {
			t.Fatal(err)
		}
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error for removed root")
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")
		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatal(err)
		}
		os.RemoveAll(root)
		if err := os.WriteFile(root, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := v.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error when root is a file")
		}
	})
}
