// Package filetree derives the flat file listing shown to users and the
// nested mount tree handed to a runtime from the CreateFile steps of a
// build session.
package filetree

import (
	"path"
	"sort"
	"strings"

	"github.com/zapbuilder/zapbuild/internal/runtime"
	"github.com/zapbuilder/zapbuild/internal/step"
)

// ItemType distinguishes files from folders.
type ItemType string

const (
	File   ItemType = "file"
	Folder ItemType = "folder"
)

// FileItem is one entry of the flat project listing.
type FileItem struct {
	Name    string   `json:"name" yaml:"name"`
	Path    string   `json:"path" yaml:"path"`
	Type    ItemType `json:"type" yaml:"type"`
	Content string   `json:"content,omitempty" yaml:"content,omitempty"`
}

// FromSteps returns the files written by steps plus every implied parent
// folder, sorted by path. When several steps write the same path the last
// one wins, matching the replace semantics of a mount.
func FromSteps(steps []*step.BuildStep) []FileItem {
	files := map[string]string{}
	folders := map[string]bool{}

	for _, s := range steps {
		if s.Type != step.CreateFile || s.Path == "" {
			continue
		}
		files[s.Path] = s.Code
		for dir := path.Dir(s.Path); dir != "." && dir != "/"; dir = path.Dir(dir) {
			folders[dir] = true
		}
	}

	items := make([]FileItem, 0, len(files)+len(folders))
	for dir := range folders {
		if _, clash := files[dir]; clash {
			continue
		}
		items = append(items, FileItem{Name: path.Base(dir), Path: dir, Type: Folder})
	}
	for p, code := range files {
		if folders[p] {
			continue
		}
		items = append(items, FileItem{Name: path.Base(p), Path: p, Type: File, Content: code})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Path < items[j].Path
	})
	return items
}

// Tree builds the nested mount tree for the file items. Folders become
// directories implicitly through their files; empty folders are kept.
func Tree(items []FileItem) runtime.Tree {
	tree := runtime.Tree{}
	for _, it := range items {
		if it.Type == Folder {
			ensureDir(tree, it.Path)
		}
	}
	for _, it := range items {
		if it.Type == File {
			tree.Insert(it.Path, it.Content)
		}
	}
	return tree
}

// Delta builds a mount tree holding only the given path/contents pairs.
func Delta(files map[string]string) runtime.Tree {
	tree := runtime.Tree{}
	for p, contents := range files {
		tree.Insert(p, contents)
	}
	return tree
}

func ensureDir(tree runtime.Tree, dir string) {
	cur := tree
	for _, name := range strings.Split(dir, "/") {
		if name == "" {
			continue
		}
		node, ok := cur[name]
		if !ok || node.Directory == nil {
			node = runtime.Node{Directory: runtime.Tree{}}
			cur[name] = node
		}
		cur = node.Directory
	}
}
