// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FindFilesByExtension recursively searches the given root path for all files ending
// with the specified extension. It returns a slice of their full paths.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// ListSubdirectories returns the sorted names of the directories directly
// under root. Hidden entries are skipped.
func ListSubdirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// ListSubdirectoriesWithPrefix is ListSubdirectories restricted to names
// starting with prefix, e.g. the "sub-" folders of a BIDS dataset.
func ListSubdirectoriesWithPrefix(root, prefix string) ([]string, error) {
	dirs, err := ListSubdirectories(root)
	if err != nil {
		return nil, err
	}
	out := dirs[:0]
	for _, d := range dirs {
		if strings.HasPrefix(d, prefix) {
			out = append(out, d)
		}
	}
	return out, nil
}
