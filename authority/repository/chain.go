package repository

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/authority/tree"
	"capki/authority/types"
)

// Chain walk up the directories of certPath and append certificate of each ancestor CA,
// stopping at rootName. Missing ancestor certificates are skipped.
func (repo *repoImpl) Chain(ctx context.Context, rootName string, certPath string) ([]byte, error) {
	leaf, err := os.ReadFile(certPath)
	if err != nil {
		return nil, errors.Wrap(err, "fail to build chain")
	}

	var buf bytes.Buffer
	appendPEM(&buf, leaf)

	dir := filepath.Dir(filepath.Clean(certPath))
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent

		name := filepath.Base(dir)
		certFile := filepath.Join(dir, tree.CertFileName(name))
		data, err := os.ReadFile(certFile)
		switch {
		case err == nil:
			log.Debugf("add to chain: %s", certFile)
			appendPEM(&buf, data)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, errors.Wrap(err, "fail to build chain")
		}

		if name == rootName {
			break
		}
	}

	return buf.Bytes(), nil
}

func appendPEM(buf *bytes.Buffer, data []byte) {
	buf.Write(data)
	if !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
}

// Verify check certPEM against chain of issuer; verification failure returns false, not error
func (repo *repoImpl) Verify(ctx context.Context, issuer types.Issuer, certPEM []byte) (bool, error) {
	dir, _, err := repo.resolveIssuer(ctx, issuer)
	if err != nil {
		return false, errors.Wrap(err, "fail to verify certificate")
	}

	scratch, cleanup, err := repo.scratch()
	if err != nil {
		return false, errors.Wrap(err, "fail to verify certificate")
	}
	defer cleanup()

	candidate := filepath.Join(scratch, "check.cert.pem")
	if err := os.WriteFile(candidate, certPEM, 0o644); err != nil {
		return false, errors.Wrap(err, "fail to verify certificate")
	}

	if err := repo.toolchain.Verify(ctx, issuer.ChainName(), candidate, dir); err != nil {
		log.Debugf("verify failed: issuer=%s, %v", issuer, strings.TrimSpace(err.Error()))
		return false, nil
	}

	return true, nil
}
