package runtime

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteTree writes every file in tree below root on fs, creating parent
// directories as needed. Existing files are replaced; others are kept.
func WriteTree(fs afero.Fs, root string, tree Tree) error {
	return Walk(tree, func(filePath, contents string) error {
		full := filepath.Join(root, filepath.FromSlash(filePath))
		if err := fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", filePath, err)
		}
		if err := afero.WriteFile(fs, full, []byte(contents), 0644); err != nil {
			return fmt.Errorf("write %s: %w", filePath, err)
		}
		return nil
	})
}

// ClearDir removes everything inside dir on fs, keeping dir itself.
func ClearDir(fs afero.Fs, dir string) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := fs.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ReadTree loads every regular file below root on fs into a Tree.
func ReadTree(fs afero.Fs, root string) (Tree, error) {
	tree := Tree{}
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			return err
		}
		tree.Insert(filepath.ToSlash(rel), string(data))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return tree, nil
}

// TarTree encodes tree as a tar stream with directory entries, suitable
// for copying into a container.
func TarTree(tree Tree) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	dirs := map[string]bool{}

	err := Walk(tree, func(filePath, contents string) error {
		var missing []string
		for dir := path.Dir(filePath); dir != "." && dir != "/" && !dirs[dir]; dir = path.Dir(dir) {
			missing = append(missing, dir)
		}
		// Parents first.
		for i := len(missing) - 1; i >= 0; i-- {
			dirs[missing[i]] = true
			hdr := &tar.Header{
				Name:     missing[i] + "/",
				Mode:     0755,
				Typeflag: tar.TypeDir,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
		}
		hdr := &tar.Header{
			Name:     filePath,
			Mode:     0644,
			Size:     int64(len(contents)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write([]byte(contents))
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
