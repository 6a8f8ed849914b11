package creator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type fileEntry struct {
	absPath string
	// relPath holds the path components below the input directory.
	// Empty for a single-file torrent.
	relPath []string
	size    int64
}

// scanInput resolves the torrent payload: the name, the ordered file list and
// the total size. Files and directories whose name starts with a dot are
// skipped. Directory entries come back in lexical walk order, which keeps the
// v1 piece stream deterministic.
func scanInput(inputPath string) (name string, files []fileEntry, total int64, err error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, 0, errors.New("input path does not exist")
		}
		return "", nil, 0, err
	}

	name = filepath.Base(inputPath)
	if !info.IsDir() {
		files = []fileEntry{{absPath: inputPath, size: info.Size()}}
		return name, files, info.Size(), nil
	}

	err = filepath.WalkDir(inputPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path != inputPath && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(inputPath, path)
		if err != nil {
			return err
		}
		files = append(files, fileEntry{
			absPath: path,
			relPath: strings.Split(filepath.ToSlash(rel), "/"),
			size:    fi.Size(),
		})
		total += fi.Size()
		return nil
	})
	if err != nil {
		return "", nil, 0, err
	}
	if len(files) == 0 {
		return "", nil, 0, errors.New("input directory contains no files")
	}
	return name, files, total, nil
}
