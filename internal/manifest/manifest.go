// Package manifest loads traced builds from YAML files.
//
// A manifest lists the top-level actions of a build, each with its working
// directory, the paths it touched and the sub-commands it spawned:
//
//	actions:
//	  - command: make all
//	    directory: /home/work
//	    reads: [/home/work/Makefile]
//	    children:
//	      - command: cc -c main.c
//	        directory: /home/work
//	        reads: [/home/work/main.c]
//	        writes: [/home/work/main.o]
//	      - command: mkdir out
//	        directory: /home/work
//	        accesses:
//	          - {path: /home/work/out, type: directory, op: write}
//	groups:
//	  - name: runtime
//	    paths: [/home/work/main.o]
//
// The reads/writes/modifies/deletes lists are shorthand for file accesses;
// accesses gives full control over the path type and operation.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"bml-go/internal/bml"
)

// Manifest is the YAML document root.
type Manifest struct {
	Actions []Action `yaml:"actions"`
	Groups  []Group  `yaml:"groups"`
}

// Action is one traced command.
type Action struct {
	Command   string   `yaml:"command"`
	Directory string   `yaml:"directory"`
	Reads     []string `yaml:"reads"`
	Writes    []string `yaml:"writes"`
	Modifies  []string `yaml:"modifies"`
	Deletes   []string `yaml:"deletes"`
	Accesses  []Access `yaml:"accesses"`
	Children  []Action `yaml:"children"`
}

// Access is a single file access with an explicit path type.
type Access struct {
	Path string `yaml:"path"`
	Type string `yaml:"type"` // file (default), directory, symlink
	Op   string `yaml:"op"`   // read, write, modify, delete, unspecified
}

// Group is a named set of paths that must not be deleted.
type Group struct {
	Name  string   `yaml:"name"`
	Paths []string `yaml:"paths"`
}

// LoadFile reads and converts the manifest at filename.
func LoadFile(filename string) (*bml.BuildRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	rec, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return rec, nil
}

// Load decodes a manifest and converts it into a build record. Unknown keys
// are rejected so a misspelled field does not silently drop accesses.
func Load(r io.Reader) (*bml.BuildRecord, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return &bml.BuildRecord{}, nil
		}
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return m.BuildRecord()
}

// BuildRecord validates the manifest and converts it.
func (m *Manifest) BuildRecord() (*bml.BuildRecord, error) {
	actions, err := convertActions(m.Actions, "actions")
	if err != nil {
		return nil, err
	}

	rec := &bml.BuildRecord{Actions: actions}
	seen := make(map[string]bool)
	for i, g := range m.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("groups[%d]: name is required", i)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("groups[%d]: duplicate group %q", i, g.Name)
		}
		seen[g.Name] = true
		rec.Groups = append(rec.Groups, bml.GroupRecord{Name: g.Name, Paths: g.Paths})
	}
	return rec, nil
}

func convertActions(actions []Action, where string) ([]bml.ActionRecord, error) {
	var out []bml.ActionRecord
	for i, a := range actions {
		at := fmt.Sprintf("%s[%d]", where, i)
		if a.Command == "" {
			return nil, fmt.Errorf("%s: command is required", at)
		}

		rec := bml.ActionRecord{Command: a.Command, Directory: a.Directory}
		for _, short := range []struct {
			paths []string
			op    bml.OperationType
		}{
			{a.Reads, bml.OpRead},
			{a.Writes, bml.OpWrite},
			{a.Modifies, bml.OpModify},
			{a.Deletes, bml.OpDelete},
		} {
			for _, p := range short.paths {
				rec.Accesses = append(rec.Accesses, bml.AccessRecord{Path: p, Type: bml.PathTypeFile, Operation: short.op})
			}
		}

		for j, acc := range a.Accesses {
			if acc.Path == "" {
				return nil, fmt.Errorf("%s.accesses[%d]: path is required", at, j)
			}
			pt, err := bml.ParsePathType(acc.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.accesses[%d]: %w", at, j, err)
			}
			op, err := bml.ParseOperationType(acc.Op)
			if err != nil {
				return nil, fmt.Errorf("%s.accesses[%d]: %w", at, j, err)
			}
			rec.Accesses = append(rec.Accesses, bml.AccessRecord{Path: acc.Path, Type: pt, Operation: op})
		}

		children, err := convertActions(a.Children, at+".children")
		if err != nil {
			return nil, err
		}
		rec.Children = children
		out = append(out, rec)
	}
	return out, nil
}
