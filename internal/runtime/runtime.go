// Package runtime defines the boundary between the execution driver and
// the environment that hosts the generated project: a mountable file tree
// and spawnable processes.
//
// Adapters live in subpackages: memory (an in-process double), local (a
// host directory) and docker (a container).
package runtime

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
)

// Tree is a nested directory listing keyed by entry name.
type Tree map[string]Node

// Node is either a file or a directory. Exactly one field is set.
type Node struct {
	File      *FileNode `json:"file,omitempty" yaml:"file,omitempty"`
	Directory Tree      `json:"directory,omitempty" yaml:"directory,omitempty"`
}

// FileNode holds file contents.
type FileNode struct {
	Contents string `json:"contents" yaml:"contents"`
}

// Adapter is the execution environment contract.
type Adapter interface {
	// Mount merges tree into the runtime file system. Later calls replace
	// files at the same paths and leave other files alone.
	Mount(ctx context.Context, tree Tree) error

	// Spawn starts command with args. Output must be drained by the caller.
	Spawn(ctx context.Context, command string, args ...string) (Process, error)

	// OnServerReady registers fn to be called at most once per dev-server
	// boot with the port and URL it listens on.
	OnServerReady(fn func(port int, url string))

	// Reset kills every spawned process and empties the file system so
	// that nothing leaks into the next session.
	Reset(ctx context.Context) error
}

// Process is a spawned command.
type Process interface {
	// Output streams combined stdout and stderr until the process exits.
	Output() io.Reader

	// Wait blocks until the process exits or ctx is done and returns the
	// exit code.
	Wait(ctx context.Context) (int, error)

	// Kill terminates the process. Killing an exited process is a no-op.
	Kill() error
}

// Walk calls fn for every file in tree with its slash-separated path, in
// lexical order.
func Walk(tree Tree, fn func(filePath, contents string) error) error {
	return walk("", tree, fn)
}

func walk(prefix string, tree Tree, fn func(string, string) error) error {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := tree[name]
		p := path.Join(prefix, name)
		switch {
		case node.File != nil:
			if err := fn(p, node.File.Contents); err != nil {
				return err
			}
		case node.Directory != nil:
			if err := walk(p, node.Directory, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Insert places contents at filePath, creating intermediate directories.
// A file standing where a directory is needed is replaced.
func (t Tree) Insert(filePath, contents string) {
	dir, rest := t, filePath
	for {
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			break
		}
		name := rest[:i]
		rest = rest[i+1:]
		if name == "" {
			continue
		}
		node, ok := dir[name]
		if !ok || node.Directory == nil {
			node = Node{Directory: Tree{}}
			dir[name] = node
		}
		dir = node.Directory
	}
	if rest != "" {
		dir[rest] = Node{File: &FileNode{Contents: contents}}
	}
}

// Files returns the number of files in tree.
func (t Tree) Files() int {
	n := 0
	_ = Walk(t, func(string, string) error {
		n++
		return nil
	})
	return n
}
