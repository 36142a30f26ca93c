// Package ledger reads and writes the per CA revocation ledger (openssl index.txt)
//
// Each row has six tab separated columns:
//
//	state  expiration  revocation  serial  filename  subject
//
// state is one of V, R, E; revocation is empty unless state is R; serial is upper case hex.
// openssl always writes the literal "unknown" as filename.
package ledger

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/authority/types"
	"capki/pkg/helper/x509x"
)

const (
	FileName = "index.txt"

	// UnknownFilename filename column written by openssl ca
	UnknownFilename = "unknown"

	// TimeLayout openssl UTCTime layout of ledger timestamps
	TimeLayout = "060102150405Z"
)

var (
	ErrMalformedRow = errors.New("malformed ledger row")

	serialPattern = regexp.MustCompile(`^[0-9A-F]+$`)
)

// Parser ledger row parser
type Parser struct {
	// AcceptAnyFilename accept rows with filename column other than "unknown"
	AcceptAnyFilename bool
}

// ParseLine parse one ledger row
func (p *Parser) ParseLine(line string) (*types.CertificateEntry, error) {
	line = strings.TrimRight(line, "\r")
	columns := strings.Split(line, "\t")
	if len(columns) != 6 {
		return nil, errors.Wrapf(ErrMalformedRow, "expected 6 columns, got %d", len(columns))
	}

	state := types.CertState(columns[0])
	switch state {
	case types.StateValid, types.StateRevoked, types.StateExpired:
	default:
		return nil, errors.Wrapf(ErrMalformedRow, "unknown state %q", columns[0])
	}

	if !serialPattern.MatchString(columns[3]) {
		return nil, errors.Wrapf(ErrMalformedRow, "invalid serial %q", columns[3])
	}

	if !p.AcceptAnyFilename && columns[4] != UnknownFilename {
		return nil, errors.Wrapf(ErrMalformedRow, "unexpected filename %q", columns[4])
	}

	return &types.CertificateEntry{
		State:          state,
		ExpirationTime: columns[1],
		RevocationTime: columns[2],
		Serial:         columns[3],
		Filename:       columns[4],
		Subject:        x509x.ParseDN(columns[5]),
		SubjectText:    columns[5],
	}, nil
}

// Parse parse rows of ledger, malformed rows are logged and skipped
func (p *Parser) Parse(r io.Reader) ([]*types.CertificateEntry, error) {
	entries := []*types.CertificateEntry{}

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := p.ParseLine(line)
		if err != nil {
			log.Warnf("skip ledger line %d: %v", lineno, err)
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "fail to read ledger")
	}

	return entries, nil
}

// ParseFile parse ledger file
func (p *Parser) ParseFile(name string) ([]*types.CertificateEntry, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "fail to read ledger")
	}

	return p.Parse(bytes.NewReader(data))
}

// FormatLine format entry as ledger row
func FormatLine(entry *types.CertificateEntry) string {
	filename := entry.Filename
	if filename == "" {
		filename = UnknownFilename
	}

	subject := entry.SubjectText
	return strings.Join([]string{string(entry.State), entry.ExpirationTime, entry.RevocationTime, entry.Serial, filename, subject}, "\t")
}

// WriteFile write entries as ledger, replacing file atomically
func WriteFile(name string, entries []*types.CertificateEntry) error {
	var buf bytes.Buffer
	for _, entry := range entries {
		buf.WriteString(FormatLine(entry))
		buf.WriteByte('\n')
	}

	tmp := name + ".new"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "fail to write ledger")
	}

	if err := os.Rename(tmp, name); err != nil {
		return errors.Wrap(err, "fail to write ledger")
	}

	return nil
}

// FormatTime format time as ledger timestamp
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime parse ledger timestamp
func ParseTime(s string) (time.Time, error) { return time.Parse(TimeLayout, s) }
