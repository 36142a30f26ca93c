package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"capki/authority/types"
)

var (
	bucketEntries = []byte("entries") // sequence -> entry, in recorded order
	bucketIndex   = []byte("index")   // root \x00 name -> sequence of the first entry
)

// boltImpl registry on bbolt embedded database
type boltImpl struct {
	db       *bbolt.DB
	ocspBase int
}

var _ Interface = (*boltImpl)(nil)

// boltEntry stored value; types.Entry does not serialize secret
type boltEntry struct {
	Root     string `json:"root"`
	Parent   string `json:"parent"`
	Name     string `json:"name"`
	Secret   string `json:"secret"`
	OCSPPort int    `json:"ocspPort"`
}

func NewBolt(path string, ocspBase int) (Interface, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "fail to open bolt registry")
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "fail to open bolt registry")
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "fail to open bolt registry")
	}

	return &boltImpl{db: db, ocspBase: ocspBase}, nil
}

func indexKey(root, name string) []byte { return []byte(root + "\x00" + name) }

func (r *boltImpl) Record(ctx context.Context, entry *types.Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	data, err := json.Marshal(&boltEntry{
		Root:     entry.Root,
		Parent:   entry.Parent,
		Name:     entry.Name,
		Secret:   entry.Secret,
		OCSPPort: entry.OCSPPort,
	})
	if err != nil {
		return errors.Wrap(err, "fail to record CA")
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := entries.Put(key, data); err != nil {
			return err
		}

		index := tx.Bucket(bucketIndex)
		if index.Get(indexKey(entry.Root, entry.Name)) == nil {
			return index.Put(indexKey(entry.Root, entry.Name), key)
		}
		return nil
	})
	return errors.Wrap(err, "fail to record CA")
}

func (r *boltImpl) Lookup(ctx context.Context, root, name string) (*types.Entry, error) {
	var found *types.Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketIndex).Get(indexKey(root, name))
		if key == nil {
			return errors.Wrapf(ErrNotFound, "root=%s, name=%s", root, name)
		}

		data := tx.Bucket(bucketEntries).Get(key)
		if data == nil {
			return errors.Wrapf(ErrMalformedEntry, "dangling index: root=%s, name=%s", root, name)
		}

		entry, err := decodeBoltEntry(data)
		if err != nil {
			return err
		}
		found = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}

func (r *boltImpl) List(ctx context.Context) ([]*types.Entry, error) {
	entries := []*types.Entry{}
	err := r.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entry, err := decodeBoltEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *boltImpl) NextOCSPPort(ctx context.Context) (int, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	return nextOCSPPort(entries, r.ocspBase), nil
}

func (r *boltImpl) Close() error { return r.db.Close() }

func decodeBoltEntry(data []byte) (*types.Entry, error) {
	var e boltEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(ErrMalformedEntry, err.Error())
	}

	if e.Root == "" || e.Name == "" {
		return nil, errors.Wrap(ErrMalformedEntry, "empty root or name")
	}

	return &types.Entry{
		Root:     e.Root,
		Parent:   e.Parent,
		Name:     e.Name,
		Secret:   e.Secret,
		OCSPPort: e.OCSPPort,
	}, nil
}
