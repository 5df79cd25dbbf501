package database

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bml-go/internal/bml"
	"bml-go/internal/database/migrations"
)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := migrations.MigrateUp(db.db); err != nil {
		db.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func mustAddFile(t *testing.T, db *SQLiteDatabase, name string) int {
	t.Helper()
	id, err := db.AddFile(name)
	if err != nil {
		t.Fatalf("AddFile(%s) error = %v", name, err)
	}
	return id
}

func mustAddAction(t *testing.T, db *SQLiteDatabase, parent int, dir, command string) int {
	t.Helper()
	dirID, err := db.AddDirectory(dir)
	if err != nil {
		t.Fatalf("AddDirectory(%s) error = %v", dir, err)
	}
	id, err := db.AddShellCommandAction(parent, dirID, command)
	if err != nil {
		t.Fatalf("AddShellCommandAction(%s) error = %v", command, err)
	}
	return id
}

func rootAction(t *testing.T, db *SQLiteDatabase) int {
	t.Helper()
	id, err := db.RootAction()
	if err != nil {
		t.Fatalf("RootAction() error = %v", err)
	}
	return id
}

func TestSQLiteDatabase_Root(t *testing.T) {
	db := newTestDB(t)

	root, err := db.RootPath()
	if err != nil {
		t.Fatalf("RootPath() error = %v", err)
	}
	p, err := db.FindPath(root)
	if err != nil || p == nil {
		t.Fatalf("FindPath(root) = %v, %v", p, err)
	}
	if !p.IsRoot() || !p.IsDir() {
		t.Errorf("root path = %+v, want a directory that is its own parent", p)
	}

	name, err := db.PathName(root)
	if err != nil || name != "/" {
		t.Errorf("PathName(root) = %q, %v; want /", name, err)
	}

	id, err := db.LookupPath("/")
	if err != nil || id != root {
		t.Errorf("LookupPath(/) = %d, %v; want %d", id, err, root)
	}
}

func TestSQLiteDatabase_AddFile(t *testing.T) {
	t.Run("creates missing parents", func(t *testing.T) {
		db := newTestDB(t)

		id := mustAddFile(t, db, "/home/work/src/main.c")

		name, err := db.PathName(id)
		if err != nil || name != "/home/work/src/main.c" {
			t.Errorf("PathName() = %q, %v", name, err)
		}

		dirID, err := db.LookupPath("/home/work/src")
		if err != nil {
			t.Fatalf("LookupPath(parent) error = %v", err)
		}
		dir, _ := db.FindPath(dirID)
		if !dir.IsDir() {
			t.Errorf("parent type = %s, want directory", dir.Type)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := newTestDB(t)

		a := mustAddFile(t, db, "/a/b")
		b := mustAddFile(t, db, "/a/./b")
		if a != b {
			t.Errorf("second AddFile() = %d, want existing %d", b, a)
		}
	})

	t.Run("rejects bad paths", func(t *testing.T) {
		db := newTestDB(t)
		mustAddFile(t, db, "/a/file")

		tests := []struct {
			name string
			path string
		}{
			{"relative", "a/b"},
			{"empty", ""},
			{"through a file", "/a/file/child"},
			{"type clash", "/a"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := db.AddFile(tt.path); !errors.Is(err, bml.ErrBadPath) {
					t.Errorf("AddFile(%q) error = %v, want ErrBadPath", tt.path, err)
				}
			})
		}
	})

	t.Run("symlink", func(t *testing.T) {
		db := newTestDB(t)
		id, err := db.AddSymlink("/usr/lib/libc.so")
		if err != nil {
			t.Fatalf("AddSymlink() error = %v", err)
		}
		p, _ := db.FindPath(id)
		if p.Type != bml.PathTypeSymlink {
			t.Errorf("Type = %s, want symlink", p.Type)
		}
	})

	t.Run("revives a trashed path of the same name", func(t *testing.T) {
		db := newTestDB(t)
		id := mustAddFile(t, db, "/a/b")
		if err := db.TrashPath(id); err != nil {
			t.Fatalf("TrashPath() error = %v", err)
		}

		again := mustAddFile(t, db, "/a/b")
		if again != id {
			t.Errorf("AddFile() after trash = %d, want revived %d", again, id)
		}
		if trashed, _ := db.IsPathTrashed(id); trashed {
			t.Error("path still trashed after re-adding it")
		}
	})
}

func TestSQLiteDatabase_PathQueries(t *testing.T) {
	db := newTestDB(t)
	c := mustAddFile(t, db, "/w/c")
	a := mustAddFile(t, db, "/w/a")
	b := mustAddFile(t, db, "/w/b")
	w, _ := db.LookupPath("/w")
	root, _ := db.RootPath()

	t.Run("children are live and sorted by name", func(t *testing.T) {
		if err := db.TrashPath(b); err != nil {
			t.Fatal(err)
		}
		defer db.RevivePath(b)

		children, err := db.ChildPaths(w)
		if err != nil {
			t.Fatalf("ChildPaths() error = %v", err)
		}
		if len(children) != 2 || children[0].ID != a || children[1].ID != c {
			t.Errorf("ChildPaths() = %+v, want [a c]", children)
		}
	})

	t.Run("root is not its own child", func(t *testing.T) {
		children, err := db.ChildPaths(root)
		if err != nil {
			t.Fatal(err)
		}
		if len(children) != 1 || children[0].ID != w {
			t.Errorf("ChildPaths(root) = %+v, want [w]", children)
		}
	})

	t.Run("is directory empty", func(t *testing.T) {
		empty, err := db.IsDirectoryEmpty(w)
		if err != nil || empty {
			t.Errorf("IsDirectoryEmpty(w) = %v, %v; want false", empty, err)
		}
		empty, err = db.IsDirectoryEmpty(a)
		if err != nil || !empty {
			t.Errorf("IsDirectoryEmpty(file) = %v, %v; want true", empty, err)
		}
	})

	t.Run("ancestors", func(t *testing.T) {
		tests := []struct {
			anc, id int
			want    bool
		}{
			{root, a, true},
			{w, a, true},
			{a, a, false},
			{a, w, false},
			{root, root, false},
		}
		for _, tt := range tests {
			got, err := db.IsAncestorOf(tt.anc, tt.id)
			if err != nil || got != tt.want {
				t.Errorf("IsAncestorOf(%d, %d) = %v, %v; want %v", tt.anc, tt.id, got, err, tt.want)
			}
		}
	})

	t.Run("lookup ignores trashed paths", func(t *testing.T) {
		if err := db.TrashPath(c); err != nil {
			t.Fatal(err)
		}
		defer db.RevivePath(c)

		if _, err := db.LookupPath("/w/c"); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("LookupPath(trashed) error = %v, want ErrNotFound", err)
		}
		if _, err := db.LookupPath("/nope"); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("LookupPath(unknown) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("unknown ids", func(t *testing.T) {
		p, err := db.FindPath(9999)
		if err != nil || p != nil {
			t.Errorf("FindPath(unknown) = %v, %v; want nil, nil", p, err)
		}
		trashed, err := db.IsPathTrashed(9999)
		if err != nil || trashed {
			t.Errorf("IsPathTrashed(unknown) = %v, %v; want false", trashed, err)
		}
		if _, err := db.PathName(9999); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("PathName(unknown) error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteDatabase_TrashLifecycle(t *testing.T) {
	db := newTestDB(t)
	p := mustAddFile(t, db, "/x")
	a := mustAddAction(t, db, rootAction(t, db), "/", "make")

	t.Run("path", func(t *testing.T) {
		if err := db.TrashPath(p); err != nil {
			t.Fatalf("TrashPath() error = %v", err)
		}
		if trashed, _ := db.IsPathTrashed(p); !trashed {
			t.Error("IsPathTrashed() = false after trash")
		}
		if err := db.TrashPath(p); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("second TrashPath() error = %v, want ErrNotFound", err)
		}
		if err := db.RevivePath(p); err != nil {
			t.Fatalf("RevivePath() error = %v", err)
		}
		if trashed, _ := db.IsPathTrashed(p); trashed {
			t.Error("IsPathTrashed() = true after revive")
		}
		if err := db.TrashPath(9999); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("TrashPath(unknown) error = %v, want ErrNotFound", err)
		}
		if err := db.RevivePath(9999); !errors.Is(err, bml.ErrCannotRevive) {
			t.Errorf("RevivePath(unknown) error = %v, want ErrCannotRevive", err)
		}
	})

	t.Run("action", func(t *testing.T) {
		if err := db.TrashAction(a); err != nil {
			t.Fatalf("TrashAction() error = %v", err)
		}
		if trashed, _ := db.IsActionTrashed(a); !trashed {
			t.Error("IsActionTrashed() = false after trash")
		}
		if err := db.TrashAction(a); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("second TrashAction() error = %v, want ErrNotFound", err)
		}
		if err := db.ReviveAction(a); err != nil {
			t.Fatalf("ReviveAction() error = %v", err)
		}
		if err := db.ReviveAction(9999); !errors.Is(err, bml.ErrCannotRevive) {
			t.Errorf("ReviveAction(unknown) error = %v, want ErrCannotRevive", err)
		}
	})
}

func TestSQLiteDatabase_Actions(t *testing.T) {
	db := newTestDB(t)
	root := rootAction(t, db)
	parent := mustAddAction(t, db, root, "/work", "make all")
	child := mustAddAction(t, db, parent, "/work/sub", "cc -c x.c")
	workID, _ := db.LookupPath("/work")

	t.Run("find", func(t *testing.T) {
		a, err := db.FindAction(child)
		if err != nil || a == nil {
			t.Fatalf("FindAction() = %v, %v", a, err)
		}
		if a.ParentID != parent || a.Command != "cc -c x.c" {
			t.Errorf("FindAction() = %+v", a)
		}
		r, _ := db.FindAction(root)
		if !r.IsRoot() {
			t.Error("root action is not its own parent")
		}
	})

	t.Run("atomicity follows live children", func(t *testing.T) {
		atomic, err := db.IsActionAtomic(parent)
		if err != nil || atomic {
			t.Errorf("IsActionAtomic(parent) = %v, %v; want false", atomic, err)
		}
		if err := db.TrashAction(child); err != nil {
			t.Fatal(err)
		}
		atomic, _ = db.IsActionAtomic(parent)
		if !atomic {
			t.Error("IsActionAtomic(parent) = false with only trashed children")
		}
		db.ReviveAction(child)
	})

	t.Run("actions in directory", func(t *testing.T) {
		ids, err := db.ActionsInDirectory(workID)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != parent {
			t.Errorf("ActionsInDirectory(/work) = %v, want [%d]", ids, parent)
		}
	})

	t.Run("rejects trashed parent and non-directory", func(t *testing.T) {
		file := mustAddFile(t, db, "/work/file")
		if _, err := db.AddShellCommandAction(parent, file, "x"); !errors.Is(err, bml.ErrBadPath) {
			t.Errorf("AddShellCommandAction(file dir) error = %v, want ErrBadPath", err)
		}
		if _, err := db.AddShellCommandAction(9999, workID, "x"); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("AddShellCommandAction(unknown parent) error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteDatabase_FileAccesses(t *testing.T) {
	db := newTestDB(t)
	root := rootAction(t, db)
	a1 := mustAddAction(t, db, root, "/", "cc")
	a2 := mustAddAction(t, db, root, "/", "ld")
	src := mustAddFile(t, db, "/src.c")
	obj := mustAddFile(t, db, "/src.o")

	links := []bml.FileAccess{
		{ActionID: a1, PathID: src, Operation: bml.OpRead},
		{ActionID: a1, PathID: obj, Operation: bml.OpWrite},
		{ActionID: a2, PathID: obj, Operation: bml.OpRead},
		{ActionID: a2, PathID: obj, Operation: bml.OpModify},
	}
	for _, fa := range links {
		if err := db.AddFileAccess(fa.ActionID, fa.PathID, fa.Operation); err != nil {
			t.Fatalf("AddFileAccess(%s) error = %v", fa, err)
		}
	}

	t.Run("duplicate add is a no-op", func(t *testing.T) {
		if err := db.AddFileAccess(a1, src, bml.OpRead); err != nil {
			t.Fatalf("AddFileAccess(dup) error = %v", err)
		}
		got, _ := db.FileAccesses(a1, bml.OpUnspecified)
		if len(got) != 2 {
			t.Errorf("FileAccesses(a1) = %v, want 2 links", got)
		}
	})

	t.Run("filters", func(t *testing.T) {
		got, err := db.FileAccesses(a1, bml.OpWrite)
		if err != nil || len(got) != 1 || got[0].PathID != obj {
			t.Errorf("FileAccesses(a1, write) = %v, %v", got, err)
		}
		got, err = db.PathAccesses(obj, bml.OpUnspecified)
		if err != nil || len(got) != 3 {
			t.Errorf("PathAccesses(obj) = %v, %v; want 3 links", got, err)
		}
		ids, err := db.ActionsAccessing(obj, bml.OpUnspecified)
		if err != nil || len(ids) != 2 {
			t.Errorf("ActionsAccessing(obj) = %v, %v; want 2 actions", ids, err)
		}
		ids, _ = db.ActionsAccessing(obj, bml.OpRead)
		if len(ids) != 1 || ids[0] != a2 {
			t.Errorf("ActionsAccessing(obj, read) = %v, want [%d]", ids, a2)
		}
	})

	t.Run("trashed actions are hidden from path queries", func(t *testing.T) {
		if err := db.TrashAction(a2); err != nil {
			t.Fatal(err)
		}
		defer db.ReviveAction(a2)

		got, _ := db.PathAccesses(obj, bml.OpUnspecified)
		if len(got) != 1 || got[0].ActionID != a1 {
			t.Errorf("PathAccesses(obj) = %v, want only the writer", got)
		}
	})

	t.Run("links need live ends", func(t *testing.T) {
		if err := db.TrashPath(src); err != nil {
			t.Fatal(err)
		}
		defer db.RevivePath(src)

		if err := db.AddFileAccess(a2, src, bml.OpRead); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("AddFileAccess(trashed path) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("remove is exact", func(t *testing.T) {
		if err := db.RemoveFileAccess(a2, obj, bml.OpWrite); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("RemoveFileAccess(wrong op) error = %v, want ErrNotFound", err)
		}
		if err := db.RemoveFileAccess(a2, obj, bml.OpModify); err != nil {
			t.Fatalf("RemoveFileAccess() error = %v", err)
		}
		got, _ := db.FileAccesses(a2, bml.OpUnspecified)
		if len(got) != 1 || got[0].Operation != bml.OpRead {
			t.Errorf("FileAccesses(a2) = %v, want only the read", got)
		}
	})
}

func TestSQLiteDatabase_Generation(t *testing.T) {
	db := newTestDB(t)

	g0, err := db.Generation()
	if err != nil {
		t.Fatalf("Generation() error = %v", err)
	}

	p := mustAddFile(t, db, "/f")
	g1, _ := db.Generation()
	if g1 <= g0 {
		t.Errorf("generation did not move on AddFile: %d -> %d", g0, g1)
	}

	if err := db.TrashPath(p); err != nil {
		t.Fatal(err)
	}
	g2, _ := db.Generation()
	if g2 <= g1 {
		t.Errorf("generation did not move on TrashPath: %d -> %d", g1, g2)
	}

	// A failed write leaves the generation alone.
	db.TrashPath(p)
	g3, _ := db.Generation()
	if g3 != g2 {
		t.Errorf("generation moved on a failed write: %d -> %d", g2, g3)
	}

	// History bookkeeping is not a store edit.
	if _, err := db.AppendHistory(&bml.HistoryEntry{TxnID: "t", State: bml.HistoryApplied, CreatedAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	g4, _ := db.Generation()
	if g4 != g3 {
		t.Errorf("generation moved on AppendHistory: %d -> %d", g3, g4)
	}
}

func TestSQLiteDatabase_Update(t *testing.T) {
	t.Run("commits every edit", func(t *testing.T) {
		db := newTestDB(t)
		err := db.Update(func(tx bml.Database) error {
			if _, err := tx.AddFile("/a"); err != nil {
				return err
			}
			_, err := tx.AddFile("/b")
			return err
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		for _, name := range []string{"/a", "/b"} {
			if _, err := db.LookupPath(name); err != nil {
				t.Errorf("LookupPath(%s) error = %v", name, err)
			}
		}
	})

	t.Run("discards everything on error", func(t *testing.T) {
		db := newTestDB(t)
		p := mustAddFile(t, db, "/keep")
		before, _ := db.Generation()

		boom := errors.New("boom")
		err := db.Update(func(tx bml.Database) error {
			if err := tx.TrashPath(p); err != nil {
				return err
			}
			if _, err := tx.AddFile("/gone"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Update() error = %v, want boom", err)
		}

		if trashed, _ := db.IsPathTrashed(p); trashed {
			t.Error("trash inside a failed Update was kept")
		}
		if _, err := db.LookupPath("/gone"); !errors.Is(err, bml.ErrNotFound) {
			t.Errorf("path added inside a failed Update exists: %v", err)
		}
		if after, _ := db.Generation(); after != before {
			t.Errorf("generation moved on a failed Update: %d -> %d", before, after)
		}
	})

	t.Run("view is read only", func(t *testing.T) {
		db := newTestDB(t)
		err := db.View(func(v bml.Database) error {
			_, err := v.AddFile("/x")
			return err
		})
		if err == nil {
			t.Fatal("mutation inside View succeeded")
		}
	})

	t.Run("writers wait for views", func(t *testing.T) {
		db := newTestDB(t)
		p := mustAddFile(t, db, "/x")

		inView := make(chan struct{})
		release := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.View(func(v bml.Database) error {
				close(inView)
				<-release
				trashed, _ := v.IsPathTrashed(p)
				if trashed {
					t.Error("write landed inside a View")
				}
				return nil
			})
		}()

		<-inView
		done := make(chan error, 1)
		go func() { done <- db.TrashPath(p) }()

		select {
		case <-done:
			t.Fatal("TrashPath completed while a View was open")
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		wg.Wait()
		if err := <-done; err != nil {
			t.Fatalf("TrashPath() error = %v", err)
		}
	})
}

func TestSQLiteDatabase_Groups(t *testing.T) {
	db := newTestDB(t)
	p := mustAddFile(t, db, "/lib/libfoo.so")
	q := mustAddFile(t, db, "/lib/libbar.so")

	g1, err := db.CreateFileGroup("runtime")
	if err != nil {
		t.Fatalf("CreateFileGroup() error = %v", err)
	}
	again, _ := db.CreateFileGroup("runtime")
	if again != g1 {
		t.Errorf("CreateFileGroup(existing) = %d, want %d", again, g1)
	}
	g2, _ := db.CreateFileGroup("dev")

	for _, g := range []int{g2, g1} {
		if err := db.AddPathToGroup(g, p); err != nil {
			t.Fatalf("AddPathToGroup() error = %v", err)
		}
	}
	if err := db.AddPathToGroup(g1, p); err != nil {
		t.Errorf("AddPathToGroup(dup) error = %v", err)
	}

	groups, err := db.GroupsContainingPath(p)
	if err != nil || len(groups) != 2 || groups[0] != g1 || groups[1] != g2 {
		t.Errorf("GroupsContainingPath() = %v, %v; want [%d %d]", groups, err, g1, g2)
	}
	groups, _ = db.GroupsContainingPath(q)
	if len(groups) != 0 {
		t.Errorf("GroupsContainingPath(non-member) = %v, want empty", groups)
	}

	if id, err := db.FindFileGroup("dev"); err != nil || id != g2 {
		t.Errorf("FindFileGroup(dev) = %d, %v", id, err)
	}
	if _, err := db.FindFileGroup("nope"); !errors.Is(err, bml.ErrNotFound) {
		t.Errorf("FindFileGroup(unknown) error = %v, want ErrNotFound", err)
	}

	if err := db.RemovePathFromGroup(g2, p); err != nil {
		t.Fatalf("RemovePathFromGroup() error = %v", err)
	}
	if err := db.RemovePathFromGroup(g2, p); !errors.Is(err, bml.ErrNotFound) {
		t.Errorf("second RemovePathFromGroup() error = %v, want ErrNotFound", err)
	}
	if err := db.AddPathToGroup(g1, 9999); !errors.Is(err, bml.ErrNotFound) {
		t.Errorf("AddPathToGroup(unknown path) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDatabase_History(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	log := bml.NewOperationLog(7, "delete path /a")
	log.Add(bml.RemoveAccessLinkOp(2, 3, bml.OpRead))
	log.Add(bml.RemovePathOp(3))

	addEntry := func(txn string) *bml.HistoryEntry {
		t.Helper()
		e, err := db.AppendHistory(&bml.HistoryEntry{
			TxnID: txn, Description: "d-" + txn, Logs: []*bml.OperationLog{log},
			State: bml.HistoryApplied, Generation: 9, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("AppendHistory(%s) error = %v", txn, err)
		}
		return e
	}

	if e, err := db.LatestApplied(); err != nil || e != nil {
		t.Fatalf("LatestApplied() on empty = %v, %v", e, err)
	}

	e1 := addEntry("t1")
	e2 := addEntry("t2")
	if e2.ID <= e1.ID {
		t.Fatalf("ids not increasing: %d, %d", e1.ID, e2.ID)
	}

	latest, err := db.LatestApplied()
	if err != nil || latest == nil || latest.TxnID != "t2" {
		t.Fatalf("LatestApplied() = %v, %v; want t2", latest, err)
	}
	if len(latest.Logs) != 1 || latest.Logs[0].Len() != 2 || latest.Logs[0].Generation() != 7 {
		t.Errorf("logs not restored: %+v", latest.Logs)
	}
	if latest.Logs[0].Ops()[0] != bml.RemoveAccessLinkOp(2, 3, bml.OpRead) {
		t.Errorf("first op = %v", latest.Logs[0].Ops()[0])
	}
	if !latest.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", latest.CreatedAt, now)
	}

	// Undo both, newest first.
	if err := db.SetHistoryState(e2.ID, bml.HistoryUndone, 11); err != nil {
		t.Fatal(err)
	}
	if err := db.SetHistoryState(e1.ID, bml.HistoryUndone, 12); err != nil {
		t.Fatal(err)
	}

	earliest, err := db.EarliestUndone()
	if err != nil || earliest == nil || earliest.TxnID != "t1" || earliest.Generation != 12 {
		t.Fatalf("EarliestUndone() = %+v, %v; want t1 at generation 12", earliest, err)
	}
	if list, _ := db.ListHistory(1); len(list) != 1 || list[0].Generation != 12 {
		t.Errorf("undone t2 not restamped: %+v", list)
	}

	// A new commit drops the redo stack.
	addEntry("t3")
	if e, _ := db.EarliestUndone(); e != nil {
		t.Errorf("EarliestUndone() after new commit = %v, want nil", e)
	}

	list, err := db.ListHistory(10)
	if err != nil || len(list) != 1 || list[0].TxnID != "t3" {
		t.Errorf("ListHistory() = %v, %v; want [t3]", list, err)
	}

	maxID, err := db.MaxHistoryID()
	if err != nil || maxID != list[0].ID {
		t.Errorf("MaxHistoryID() = %d, %v; want %d", maxID, err, list[0].ID)
	}

	if err := db.SetHistoryState(9999, bml.HistoryUndone, 0); !errors.Is(err, bml.ErrNotFound) {
		t.Errorf("SetHistoryState(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDatabase_DiscardUndone(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	e, err := db.AppendHistory(&bml.HistoryEntry{TxnID: "t", State: bml.HistoryApplied, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatal(err)
	}

	if n, err := db.DiscardUndone(); err != nil || n != 0 {
		t.Errorf("DiscardUndone() with nothing undone = %d, %v", n, err)
	}
	db.SetHistoryState(e.ID, bml.HistoryUndone, 0)
	if n, err := db.DiscardUndone(); err != nil || n != 1 {
		t.Errorf("DiscardUndone() = %d, %v; want 1", n, err)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	mustAddFile(t, db, "/kept/file")

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copyDB, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer copyDB.Close()

	if err := copyDB.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() on copy = %v", err)
	}
	if _, err := copyDB.LookupPath("/kept/file"); err != nil {
		t.Errorf("LookupPath() on copy = %v", err)
	}
}

func TestIsDatabaseLocked(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := isDatabaseLocked(tt.err); got != tt.want {
			t.Errorf("isDatabaseLocked(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
