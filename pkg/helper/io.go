package helper

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/whitekid/goxp/log"
)

// ReadFile read data from file or stdin
func ReadFile(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}

	log.Debugf("read file %s", name)
	return os.ReadFile(name)
}

func MustReadFile(name string) []byte {
	data, err := ReadFile(name)
	if err != nil {
		panic(err)
	}

	return data
}

// WriteFile write data to file or stdout
func WriteFile(name string, data []byte, perm os.FileMode) error {
	if name == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}

	return os.WriteFile(name, data, perm)
}

// FileExists returns true if name exists, error if stat fails other than not exists
func FileExists(name string) (bool, error) {
	_, err := os.Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CopyFile copy src to dst, creating parent directories of dst
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0o644)
}
