package registry

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/authority/types"
)

// fileImpl flat file registry, one line per CA
//
//	root_-_parent_-_name_-_secret_-_ocspPort
type fileImpl struct {
	path     string
	ocspBase int

	mu sync.RWMutex
}

var _ Interface = (*fileImpl)(nil)

func NewFile(path string, ocspBase int) Interface {
	return &fileImpl{
		path:     path,
		ocspBase: ocspBase,
	}
}

func (r *fileImpl) Record(ctx context.Context, entry *types.Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return errors.Wrap(err, "fail to record CA")
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "fail to record CA")
	}
	defer f.Close()

	line := strings.Join([]string{entry.Root, entry.Parent, entry.Name, entry.Secret, strconv.Itoa(entry.OCSPPort)}, Separator) + "\n"
	if _, err := f.WriteString(line); err != nil {
		return errors.Wrap(err, "fail to record CA")
	}

	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "fail to record CA")
	}

	log.Debugf("recorded CA: root=%s, name=%s, port=%d", entry.Root, entry.Name, entry.OCSPPort)
	return nil
}

func (r *fileImpl) Lookup(ctx context.Context, root, name string) (*types.Entry, error) {
	entries, err := r.read()
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Root == root && entry.Name == name {
			return entry, nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "root=%s, name=%s", root, name)
}

func (r *fileImpl) List(ctx context.Context) ([]*types.Entry, error) {
	return r.read()
}

func (r *fileImpl) NextOCSPPort(ctx context.Context) (int, error) {
	entries, err := r.read()
	if err != nil {
		return 0, err
	}

	return nextOCSPPort(entries, r.ocspBase), nil
}

func (r *fileImpl) Close() error { return nil }

func (r *fileImpl) read() ([]*types.Entry, error) {
	r.mu.RLock()
	data, err := os.ReadFile(r.path)
	r.mu.RUnlock()

	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, "fail to read registry")
		}

		if err := r.touch(); err != nil {
			return nil, err
		}
		return []*types.Entry{}, nil
	}

	return parseFile(data)
}

func (r *fileImpl) touch() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return errors.Wrap(err, "fail to create registry")
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "fail to create registry")
	}
	return f.Close()
}

func parseFile(data []byte) ([]*types.Entry, error) {
	entries := []*types.Entry{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "fail to read registry")
	}

	return entries, nil
}

func parseLine(line string) (*types.Entry, error) {
	fields := strings.Split(line, Separator)
	if len(fields) != 5 {
		return nil, errors.Wrapf(ErrMalformedEntry, "expected 5 fields, got %d", len(fields))
	}

	port, err := strconv.Atoi(fields[4])
	if err != nil || port < 0 {
		return nil, errors.Wrapf(ErrMalformedEntry, "invalid ocsp port %q", fields[4])
	}

	if fields[0] == "" || fields[2] == "" {
		return nil, errors.Wrap(ErrMalformedEntry, "empty root or name")
	}

	return &types.Entry{
		Root:     fields[0],
		Parent:   fields[1],
		Name:     fields[2],
		Secret:   fields[3],
		OCSPPort: port,
	}, nil
}
