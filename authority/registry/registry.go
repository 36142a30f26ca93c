package registry

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"capki/authority/types"
)

// Interface append-only store of CA metadata
//
// Record never checks duplicates; callers confirm the CA does not exist before recording.
// When duplicates exist anyway, Lookup returns the first recorded entry.
type Interface interface {
	Record(ctx context.Context, entry *types.Entry) error
	Lookup(ctx context.Context, root, name string) (*types.Entry, error)
	List(ctx context.Context) ([]*types.Entry, error)
	NextOCSPPort(ctx context.Context) (int, error)
	Close() error
}

// Separator field separator of flat file registry
const Separator = "_-_"

var (
	ErrNotFound       = errors.New("registry entry not found")
	ErrMalformedEntry = errors.New("malformed registry entry")
	ErrInvalidEntry   = errors.New("invalid registry entry")
)

// Open open registry by url
//
//	file:///path/to/ca.db
//	bolt:///path/to/ca.bolt
//	sqlite:///path/to/ca.sqlite, mysql://..., postgres://...
func Open(dburl string, ocspBase int) (Interface, error) {
	u, err := url.Parse(dburl)
	if err != nil {
		return nil, errors.Wrap(err, "fail to open registry")
	}

	switch strings.ToLower(u.Scheme) {
	case "", "file":
		return NewFile(u.Host+u.Path, ocspBase), nil
	case "bolt", "bbolt":
		return NewBolt(u.Host+u.Path, ocspBase)
	default:
		return NewSQL(dburl, ocspBase)
	}
}

func validateEntry(entry *types.Entry) error {
	if entry == nil {
		return errors.Wrap(ErrInvalidEntry, "nil entry")
	}

	for _, field := range []struct{ name, value string }{
		{"root", entry.Root},
		{"parent", entry.Parent},
		{"name", entry.Name},
		{"secret", entry.Secret},
	} {
		if field.value == "" && field.name != "secret" {
			return errors.Wrapf(ErrInvalidEntry, "%s is empty", field.name)
		}

		if strings.Contains(field.value, Separator) || strings.ContainsAny(field.value, "\r\n") {
			return errors.Wrapf(ErrInvalidEntry, "%s contains separator or newline", field.name)
		}
	}

	if entry.OCSPPort < 0 || entry.OCSPPort > 65535 {
		return errors.Wrapf(ErrInvalidEntry, "invalid ocsp port %d", entry.OCSPPort)
	}

	return nil
}

func nextOCSPPort(entries []*types.Entry, base int) int {
	max := base
	for _, entry := range entries {
		if entry.OCSPPort > max {
			max = entry.OCSPPort
		}
	}
	return max + 1
}

func IsIntegrityError(err error) bool { return errors.Is(err, ErrMalformedEntry) }
