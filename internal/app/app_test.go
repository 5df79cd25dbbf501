package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bml-go/internal/bml"
	"bml-go/internal/config"
	"bml-go/internal/database"
	"bml-go/internal/vault"
)

const testManifest = `actions:
  - command: make all
    directory: /home/work
    reads: [/home/work/Makefile]
    children:
      - command: cc -c main.c
        directory: /home/work
        reads: [/home/work/main.c]
        writes: [/home/work/main.o, /home/work/main.tmp]
      - command: cc -o prog main.o
        directory: /home/work
        reads: [/home/work/main.o]
        writes: [/home/work/build/prog]
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("store-1", t.TempDir())
	cfg.Encryption.Type = "test"
	return cfg
}

func writeManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".bmlignore"), []byte("/home/work/build\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openApp(t *testing.T, cfg *config.Config, operation string) *BMLApp {
	t.Helper()
	a, err := NewBMLApp(cfg, operation, "", Options{})
	if err != nil {
		t.Fatalf("NewBMLApp(%s) error = %v", operation, err)
	}
	return a
}

func importManifest(t *testing.T, cfg *config.Config) {
	t.Helper()
	a := openApp(t, cfg, "import")
	if _, err := a.Import(writeManifest(t)); err != nil {
		a.Close()
		t.Fatalf("Import() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func archiveVersion(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		t.Fatalf("NewVaultFromConfig() error = %v", err)
	}
	version, err := v.GetMetadataVersion(cfg.StoreID, archiveItem)
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	return version
}

func localGeneration(t *testing.T, cfg *config.Config) int64 {
	t.Helper()
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.StoreID)
	if err != nil {
		t.Fatalf("NewDatabaseFromConfig() error = %v", err)
	}
	defer db.Close()
	gen, err := db.Generation()
	if err != nil {
		t.Fatalf("Generation() error = %v", err)
	}
	return gen
}

func TestBMLApp_Import(t *testing.T) {
	cfg := newTestConfig(t)
	a := openApp(t, cfg, "import")

	sum, err := a.Import(writeManifest(t))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if want := (bml.ImportSummary{Actions: 3, Accesses: 4, Ignored: 2}); *sum != want {
		t.Errorf("Import() = %+v, want %+v", *sum, want)
	}

	entries, err := a.List("/home/work")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if got := strings.Join(names, " "); got != "Makefile main.c main.o" {
		t.Errorf("List() = %s, want Makefile main.c main.o", got)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestBMLApp_ArchivesMutations(t *testing.T) {
	cfg := newTestConfig(t)

	importManifest(t, cfg)
	version := archiveVersion(t, cfg)
	if version == 0 {
		t.Fatal("import was not archived")
	}
	if gen := localGeneration(t, cfg); gen != version {
		t.Errorf("archive version = %d, local generation = %d", version, gen)
	}

	// Read-only commands leave the archive alone.
	a := openApp(t, cfg, "unused")
	if _, err := a.Unused("/home/work"); err != nil {
		t.Fatalf("Unused() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := archiveVersion(t, cfg); got != version {
		t.Errorf("read-only command moved the archive to %d", got)
	}

	// So do refused deletions.
	a = openApp(t, cfg, "rm")
	if _, err := a.Delete(bml.DeleteRequest{Paths: []string{"/home/work/main.c"}}); !errors.Is(err, bml.ErrPathInUse) {
		t.Errorf("Delete() error = %v, want ErrPathInUse", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := archiveVersion(t, cfg); got != version {
		t.Errorf("refused deletion moved the archive to %d", got)
	}

	a = openApp(t, cfg, "rm")
	if _, err := a.Delete(bml.DeleteRequest{Paths: []string{"/home/work/main.c"}, Detach: true}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := archiveVersion(t, cfg); got <= version {
		t.Errorf("archive version = %d after a deletion, want > %d", got, version)
	}
}

func TestBMLApp_UndoRedoAcrossInvocations(t *testing.T) {
	cfg := newTestConfig(t)
	importManifest(t, cfg)

	steps := []struct {
		operation string
		run       func(a *BMLApp) error
		wantLive  bool
	}{
		{"rm", func(a *BMLApp) error {
			_, err := a.Delete(bml.DeleteRequest{Paths: []string{"/home/work/main.c"}, Detach: true})
			return err
		}, false},
		{"undo", func(a *BMLApp) error { _, err := a.Undo(); return err }, true},
		{"redo", func(a *BMLApp) error { _, err := a.Redo(); return err }, false},
		{"undo", func(a *BMLApp) error { _, err := a.Undo(); return err }, true},
	}

	for i, s := range steps {
		a := openApp(t, cfg, s.operation)
		if err := s.run(a); err != nil {
			a.Close()
			t.Fatalf("step %d (%s) error = %v", i, s.operation, err)
		}
		_, err := a.Service().LookupPath("/home/work/main.c")
		if live := err == nil; live != s.wantLive {
			t.Errorf("step %d (%s): main.c live = %v, want %v", i, s.operation, live, s.wantLive)
		}
		if err := a.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	a := openApp(t, cfg, "history")
	defer a.Close()
	history, err := a.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].State != bml.HistoryUndone {
		t.Errorf("GetHistory() = %+v, want one undone entry", history)
	}
}

func TestBMLApp_BehindArchive(t *testing.T) {
	cfg := newTestConfig(t)
	importManifest(t, cfg)
	version := archiveVersion(t, cfg)

	path, err := database.DatabasePath(cfg.Database, cfg.StoreID)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("removing local store: %v", err)
	}

	if _, err := NewBMLApp(cfg, "ls", "", Options{}); err == nil || !strings.Contains(err.Error(), "behind") {
		t.Fatalf("NewBMLApp() error = %v, want local store behind archive", err)
	}

	restored, err := RestoreArchive(cfg, "")
	if err != nil {
		t.Fatalf("RestoreArchive() error = %v", err)
	}
	if restored != version {
		t.Errorf("RestoreArchive() = %d, want %d", restored, version)
	}

	a := openApp(t, cfg, "ls")
	defer a.Close()
	if _, err := a.Service().LookupPath("/home/work/main.o"); err != nil {
		t.Errorf("LookupPath() after restore error = %v", err)
	}
}

func TestRestoreArchive_Errors(t *testing.T) {
	t.Run("nothing archived", func(t *testing.T) {
		cfg := newTestConfig(t)
		if _, err := RestoreArchive(cfg, ""); err == nil || !strings.Contains(err.Error(), "no archive") {
			t.Errorf("RestoreArchive() error = %v, want no archive", err)
		}
	})

	t.Run("memory store", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Database = config.DatabaseConfig{Type: "memory"}
		if _, err := RestoreArchive(cfg, ""); err == nil {
			t.Error("RestoreArchive() into a memory store succeeded")
		}
	})

	t.Run("no vaults", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Vaults = nil
		if _, err := RestoreArchive(cfg, ""); err == nil {
			t.Error("RestoreArchive() without a vault succeeded")
		}
	})
}

func TestBMLApp_Lock(t *testing.T) {
	saved := lockTimeout
	lockTimeout = 200 * time.Millisecond
	t.Cleanup(func() { lockTimeout = saved })

	cfg := newTestConfig(t)
	first := openApp(t, cfg, "rm")

	if _, err := NewBMLApp(cfg, "rm", "", Options{}); err == nil || !strings.Contains(err.Error(), "locked") {
		t.Errorf("second NewBMLApp() error = %v, want store locked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	second := openApp(t, cfg, "rm")
	second.Close()
}

func TestBMLApp_Explain(t *testing.T) {
	cfg := newTestConfig(t)
	importManifest(t, cfg)

	a := openApp(t, cfg, "rm")
	defer a.Close()

	_, err := a.Delete(bml.DeleteRequest{Paths: []string{"/home/work/main.c"}})
	if got := a.Explain(err); !strings.HasPrefix(got, "/home/work/main.c: ") || !strings.Contains(got, "path in use") || !strings.Contains(got, "(cc -c main.c)") {
		t.Errorf("Explain() = %q", got)
	}

	if got := a.Explain(errors.New("plain failure")); got != "plain failure" {
		t.Errorf("Explain() = %q, want the error text", got)
	}
}

func TestBMLApp_DeleteWithRetry(t *testing.T) {
	req := bml.DeleteRequest{Paths: []string{"/home/work/main.c"}}

	t.Run("accepted remedy", func(t *testing.T) {
		cfg := newTestConfig(t)
		importManifest(t, cfg)
		a := openApp(t, cfg, "rm")
		defer a.Close()

		var asked []string
		entry, err := a.DeleteWithRetry(req, func(path string, remedy bml.Remedy, reason string) bool {
			asked = append(asked, path)
			if remedy != bml.RemedyDetach {
				t.Errorf("remedy = %v, want detach", remedy)
			}
			if !strings.HasPrefix(reason, path+": ") {
				t.Errorf("reason = %q, want it to name %s", reason, path)
			}
			return true
		})
		if err != nil {
			t.Fatalf("DeleteWithRetry() error = %v", err)
		}
		if entry == nil {
			t.Fatal("DeleteWithRetry() returned no history entry")
		}
		if len(asked) != 1 || asked[0] != "/home/work/main.c" {
			t.Errorf("asked about %v, want [/home/work/main.c]", asked)
		}
		// The refusal before the retry does not count against the command.
		if a.op.Status != "success" || !a.op.Mutated() {
			t.Errorf("operation status = %q, mutated = %v; want success, true", a.op.Status, a.op.Mutated())
		}
	})

	t.Run("declined remedy", func(t *testing.T) {
		cfg := newTestConfig(t)
		importManifest(t, cfg)
		a := openApp(t, cfg, "rm")
		defer a.Close()

		_, err := a.DeleteWithRetry(req, func(string, bml.Remedy, string) bool { return false })
		if !errors.Is(err, bml.ErrPathInUse) {
			t.Errorf("DeleteWithRetry() error = %v, want ErrPathInUse", err)
		}
		if a.op.Status != "error" || a.op.Mutated() {
			t.Errorf("operation status = %q, mutated = %v; want error, false", a.op.Status, a.op.Mutated())
		}
	})

	t.Run("no prompt", func(t *testing.T) {
		cfg := newTestConfig(t)
		importManifest(t, cfg)
		a := openApp(t, cfg, "rm")
		defer a.Close()

		if _, err := a.DeleteWithRetry(req, nil); !errors.Is(err, bml.ErrPathInUse) {
			t.Errorf("DeleteWithRetry() error = %v, want ErrPathInUse", err)
		}
	})
}

func TestInitStore(t *testing.T) {
	cfg := newTestConfig(t)

	if err := InitStore(cfg, ""); err != nil {
		t.Fatalf("InitStore() error = %v", err)
	}
	path, _ := database.DatabasePath(cfg.Database, cfg.StoreID)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("store not created: %v", err)
	}

	needs, err := NeedsPassphrase(cfg)
	if err != nil || needs {
		t.Errorf("NeedsPassphrase(test) = %v, %v; want false", needs, err)
	}
	cfg.Encryption.Type = "age"
	if needs, _ := NeedsPassphrase(cfg); !needs {
		t.Error("NeedsPassphrase(age) = false")
	}
}
