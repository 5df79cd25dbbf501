package testutil

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"bml-go/internal/bml"
)

// BuildFixture is the reference build used by refactoring tests:
//
//	A  : make all > log                      (reads Makefile, writes log)
//	A1 :   cp fileA.in fileB.out
//	A2 :   cp fileA.in fileC.out
//	A3 :   cp fileB.out fileD.out
//	A4 :   cp fileE.in fileF.out > fileG.out
//	A5 :   cp fileH.in fileI.out > fileJ.out
//	A6 :   cp fileI.out fileK.out
//
// Every action runs in /home/work. README and the unused/ tree have no
// accesses at all.
type BuildFixture struct {
	DB bml.Database

	Root                        int
	A, A1, A2, A3, A4, A5, A6   int
	Work                        int
	AIn, BOut, COut, DOut, EIn  int
	FOut, GOut, HIn, IOut, JOut int
	KOut, Makefile, Log, Readme int
	Unused, Unused3, Unused5    int
	pathIDs, actionIDs          []int
}

// NewBuildFixture populates db with the reference build.
func NewBuildFixture(t *testing.T, db bml.Database) *BuildFixture {
	t.Helper()
	f := &BuildFixture{DB: db}

	addFile := func(name string) int {
		t.Helper()
		id, err := db.AddFile(name)
		if err != nil {
			t.Fatalf("AddFile(%s) error = %v", name, err)
		}
		f.pathIDs = append(f.pathIDs, id)
		return id
	}
	addDir := func(name string) int {
		t.Helper()
		id, err := db.AddDirectory(name)
		if err != nil {
			t.Fatalf("AddDirectory(%s) error = %v", name, err)
		}
		f.pathIDs = append(f.pathIDs, id)
		return id
	}

	f.Work = addDir("/home/work")
	f.AIn = addFile("/home/work/fileA.in")
	f.BOut = addFile("/home/work/fileB.out")
	f.COut = addFile("/home/work/fileC.out")
	f.DOut = addFile("/home/work/fileD.out")
	f.EIn = addFile("/home/work/fileE.in")
	f.FOut = addFile("/home/work/fileF.out")
	f.GOut = addFile("/home/work/fileG.out")
	f.HIn = addFile("/home/work/fileH.in")
	f.IOut = addFile("/home/work/fileI.out")
	f.JOut = addFile("/home/work/fileJ.out")
	f.KOut = addFile("/home/work/fileK.out")
	f.Makefile = addFile("/home/work/Makefile")
	f.Log = addFile("/home/work/log")
	f.Readme = addFile("/home/work/README")
	f.Unused = addDir("/home/work/unused")
	f.Unused3 = addFile("/home/work/unused/1/2/3")
	f.Unused5 = addFile("/home/work/unused/1/4/5")
	for _, name := range []string{"/home/work/unused/1", "/home/work/unused/1/2", "/home/work/unused/1/4"} {
		addDir(name)
	}

	root, err := db.RootAction()
	if err != nil {
		t.Fatalf("RootAction() error = %v", err)
	}
	f.Root = root

	addAction := func(parent int, command string, links ...any) int {
		t.Helper()
		id, err := db.AddShellCommandAction(parent, f.Work, command)
		if err != nil {
			t.Fatalf("AddShellCommandAction(%s) error = %v", command, err)
		}
		for i := 0; i < len(links); i += 2 {
			pathID, op := links[i].(int), links[i+1].(bml.OperationType)
			if err := db.AddFileAccess(id, pathID, op); err != nil {
				t.Fatalf("AddFileAccess(%s) error = %v", command, err)
			}
		}
		f.actionIDs = append(f.actionIDs, id)
		return id
	}

	f.A = addAction(root, "make all", f.Makefile, bml.OpRead, f.Log, bml.OpWrite)
	f.A1 = addAction(f.A, "cp fileA.in fileB.out", f.AIn, bml.OpRead, f.BOut, bml.OpWrite)
	f.A2 = addAction(f.A, "cp fileA.in fileC.out", f.AIn, bml.OpRead, f.COut, bml.OpWrite)
	f.A3 = addAction(f.A, "cp fileB.out fileD.out", f.BOut, bml.OpRead, f.DOut, bml.OpWrite)
	f.A4 = addAction(f.A, "cp fileE.in fileF.out > fileG.out", f.EIn, bml.OpRead, f.FOut, bml.OpWrite, f.GOut, bml.OpWrite)
	f.A5 = addAction(f.A, "cp fileH.in fileI.out > fileJ.out", f.HIn, bml.OpRead, f.IOut, bml.OpWrite, f.JOut, bml.OpWrite)
	f.A6 = addAction(f.A, "cp fileI.out fileK.out", f.IOut, bml.OpRead, f.KOut, bml.OpWrite)

	return f
}

// Snapshot renders the trashed flags of every fixture path and action and the
// full access-link set, in a stable order. Two equal snapshots mean the store
// is observationally unchanged.
func (f *BuildFixture) Snapshot(t *testing.T) string {
	t.Helper()
	var lines []string

	for _, id := range f.pathIDs {
		trashed, err := f.DB.IsPathTrashed(id)
		if err != nil {
			t.Fatalf("IsPathTrashed(%d) error = %v", id, err)
		}
		lines = append(lines, fmt.Sprintf("path %d trashed=%v", id, trashed))
	}
	for _, id := range f.actionIDs {
		trashed, err := f.DB.IsActionTrashed(id)
		if err != nil {
			t.Fatalf("IsActionTrashed(%d) error = %v", id, err)
		}
		lines = append(lines, fmt.Sprintf("action %d trashed=%v", id, trashed))

		links, err := f.DB.FileAccesses(id, bml.OpUnspecified)
		if err != nil {
			t.Fatalf("FileAccesses(%d) error = %v", id, err)
		}
		for _, fa := range links {
			lines = append(lines, fa.String())
		}
	}

	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// PathsOf returns the ids of the paths action accessed with op, sorted.
func (f *BuildFixture) PathsOf(t *testing.T, action int, op bml.OperationType) []int {
	t.Helper()
	links, err := f.DB.FileAccesses(action, op)
	if err != nil {
		t.Fatalf("FileAccesses(%d) error = %v", action, err)
	}
	ids := make([]int, 0, len(links))
	for _, fa := range links {
		ids = append(ids, fa.PathID)
	}
	sort.Ints(ids)
	return ids
}
