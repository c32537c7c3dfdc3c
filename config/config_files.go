package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ReadConfigFiles returns the contents of path. A directory is walked
// recursively and every .yml/.yaml file below it is read, ordered by path.
func ReadConfigFiles(path string) ([]string, error) {
	files, err := configFiles(path)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no config files found at %s", path)
	}

	out := make([]string, 0, len(files))
	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}

	return out, nil
}

// configFiles lists the files to load. A file named directly is used
// whatever its extension.
func configFiles(path string) ([]string, error) {
	i, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !i.IsDir() {
		ap, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		return []string{ap}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("problem while reading directory %s: %w", path, err)
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}

		ap, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		files = append(files, ap)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func isYAML(p string) bool {
	switch filepath.Ext(p) {
	case ".yml", ".yaml":
		return true
	}
	return false
}
