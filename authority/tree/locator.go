// Package tree locates CAs in the on-disk hierarchy
//
// The filesystem tree is the hierarchy itself: every CA is a directory named after the CA,
// placed inside the directory of its issuer.
package tree

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"capki/authority/ledger"
)

var ErrRootNotInPath = errors.New("root name not found in path")

// FindPath search baseDir recursively for a directory named name, depth first
// returns false when not found
func FindPath(baseDir, name string) (string, bool, error) {
	candidate := filepath.Join(baseDir, name)
	info, err := os.Stat(candidate)
	switch {
	case err == nil && info.IsDir():
		return candidate, true, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", false, errors.Wrapf(err, "fail to find %s", name)
	}

	return walkSubdirs(baseDir, func(dir string) (string, bool, error) { return FindPath(dir, name) })
}

// FindFile search baseDir recursively for a file named fileName, depth first
func FindFile(baseDir, fileName string) (string, bool, error) {
	candidate := filepath.Join(baseDir, fileName)
	info, err := os.Stat(candidate)
	switch {
	case err == nil && !info.IsDir():
		return candidate, true, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", false, errors.Wrapf(err, "fail to find %s", fileName)
	}

	return walkSubdirs(baseDir, func(dir string) (string, bool, error) { return FindFile(dir, fileName) })
}

// FindFileContent same as FindFile but returns content of the file
func FindFileContent(baseDir, fileName string) ([]byte, bool, error) {
	path, found, err := FindFile(baseDir, fileName)
	if err != nil || !found {
		return nil, found, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, errors.Wrapf(err, "fail to read %s", path)
	}

	return data, true, nil
}

func walkSubdirs(baseDir string, fn func(dir string) (string, bool, error)) (string, bool, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "fail to read %s", baseDir)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path, found, err := fn(filepath.Join(baseDir, entry.Name()))
		if err != nil || found {
			return path, found, err
		}
	}

	return "", false, nil
}

// RelativeRoute returns suffix of fullPath starting at the last path component equal to rootName
func RelativeRoute(fullPath, rootName string) (string, error) {
	parts := strings.Split(filepath.Clean(fullPath), string(filepath.Separator))
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == rootName {
			return filepath.Join(parts[i:]...), nil
		}
	}

	return "", errors.Wrapf(ErrRootNotInPath, "root=%s, path=%s", rootName, fullPath)
}

// LedgerFile ledger found in hierarchy
type LedgerFile struct {
	Root   string // root CA name
	Issuer string // CA owns the ledger
	Path   string
}

// CollectLedgers walk baseDir and collect every ledger file
//
// rootName is the root CA of baseDir; if empty, the first directory having a ledger becomes
// the root of its subtree.
func CollectLedgers(baseDir, rootName string) ([]*LedgerFile, error) {
	return collectLedgers(nil, filepath.Clean(baseDir), rootName)
}

func collectLedgers(files []*LedgerFile, dir, rootName string) ([]*LedgerFile, error) {
	ledgerPath := filepath.Join(dir, ledger.FileName)
	info, err := os.Stat(ledgerPath)
	switch {
	case err == nil && !info.IsDir():
		issuer := filepath.Base(dir)
		if rootName == "" {
			rootName = issuer
		}
		files = append(files, &LedgerFile{Root: rootName, Issuer: issuer, Path: ledgerPath})

	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, errors.Wrapf(err, "fail to collect ledgers")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to collect ledgers")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		files, err = collectLedgers(files, filepath.Join(dir, entry.Name()), rootName)
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}
