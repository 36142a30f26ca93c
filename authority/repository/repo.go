// Package repository orchestrates the CA hierarchy
//
// It creates roots and intermediates, signs and revokes certificates under them, builds
// chains and keeps CRLs of every intermediate current. Cryptography is done by the toolchain,
// CA secrets and OCSP ports are kept by the registry and the hierarchy itself is the directory
// tree under pkidir.
package repository

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/authority/registry"
	"capki/authority/toolchain"
	"capki/authority/tree"
	"capki/authority/types"
	"capki/config"
	"capki/pkg/helper"
)

type Interface interface {
	CreateRoot(ctx context.Context, cfg *types.CAConfig) ([]byte, error)
	CreateIntermediate(ctx context.Context, cfg *types.CAConfig, issuer types.Issuer) ([]byte, error)
	ImportRoot(ctx context.Context, req *ImportRequest) ([]byte, error)
	ImportIntermediate(ctx context.Context, req *ImportRequest, issuer types.Issuer) ([]byte, error)
	GetCACertificate(ctx context.Context, root, name string, chain bool) ([]byte, error)
	ListCAs(ctx context.Context) ([]*types.Entry, error)

	// Chain build chain of certificate at certPath up to root
	Chain(ctx context.Context, rootName string, certPath string) ([]byte, error)
	Verify(ctx context.Context, issuer types.Issuer, certPEM []byte) (bool, error)

	ListCertificates(ctx context.Context) (types.Listing, error)
	Sign(ctx context.Context, csrPEM []byte, issuer types.Issuer, certType types.CertType, lifetime int) ([]byte, error)
	CreateKeyPair(ctx context.Context, req *KeyPairRequest) (*types.KeyPair, error)
	CreatePair(ctx context.Context, req *PairRequest) (*types.CertificatePair, error)
	ReadCertificate(ctx context.Context, certPEM []byte) (string, error)
	RevokeByName(ctx context.Context, commonName string, issuer types.Issuer) (int, error)
	RevokeBySerial(ctx context.Context, serial string, issuer types.Issuer) (bool, error)

	RefreshAllCRLs(ctx context.Context) error

	// StartCRLRefresher refresh CRLs now and every interval until ctx is done
	// errors are sent to errCh, caller must consume it
	StartCRLRefresher(ctx context.Context, interval time.Duration, errCh chan error)

	Bootstrap(ctx context.Context, plan *Plan) (bool, error)
}

// New create new repository
func New(cfg *config.Config, registry registry.Interface, toolchain toolchain.Interface) Interface {
	return &repoImpl{
		cfg:       cfg,
		registry:  registry,
		toolchain: toolchain,
		caLocks:   make(map[string]*sync.Mutex),
	}
}

type repoImpl struct {
	cfg       *config.Config
	registry  registry.Interface
	toolchain toolchain.Interface

	muCreate sync.Mutex // existence check, port allocation and registry record of CA creation
	muCRL    sync.Mutex // one refresh at a time

	muLocks sync.Mutex
	caLocks map[string]*sync.Mutex // ledger lock by CA directory
}

var _ Interface = (*repoImpl)(nil)

var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	reservedNames = map[string]struct{}{
		tree.CertsDir: {}, tree.CRLDir: {}, tree.OCSPDir: {},
		"public": {}, "db": {}, "tmp": {},
	}
)

// validateName CA name is used as directory and file name
func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}

	if _, ok := reservedNames[name]; ok {
		return errors.Wrapf(ErrInvalidName, "%q is reserved", name)
	}

	return nil
}

// lockCA serialize ledger updates of CA at dir
func (repo *repoImpl) lockCA(dir string) func() {
	repo.muLocks.Lock()
	mu, ok := repo.caLocks[dir]
	if !ok {
		mu = &sync.Mutex{}
		repo.caLocks[dir] = mu
	}
	repo.muLocks.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (repo *repoImpl) rootDir(root string) string { return filepath.Join(repo.cfg.PKIDir, root) }

// validateRef root and name of existing CA, both are joined into paths under pkidir
func validateRef(root, name string) error {
	if err := validateName(root); err != nil {
		return err
	}
	return validateName(name)
}

// caDir locate directory of CA; root CA is pkidir/<root>, others are searched under it.
// Invalid names are never found.
func (repo *repoImpl) caDir(root, name string) (string, bool, error) {
	if err := validateRef(root, name); err != nil {
		log.Debugf("invalid CA reference %s/%s: %v", root, name, err)
		return "", false, nil
	}

	if root == name {
		dir := repo.rootDir(root)
		exists, err := helper.FileExists(dir)
		return dir, exists, err
	}

	return tree.FindPath(repo.rootDir(root), name)
}

// resolveIssuer returns working directory and registry entry of issuer
func (repo *repoImpl) resolveIssuer(ctx context.Context, issuer types.Issuer) (string, *types.Entry, error) {
	if err := validateRef(issuer.Root, issuer.Name); err != nil {
		return "", nil, errors.Wrapf(ErrUnknownIssuer, "%s: %v", issuer, err)
	}

	dir, found, err := repo.caDir(issuer.Root, issuer.Name)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, errors.Wrapf(ErrUnknownIssuer, "%s", issuer)
	}

	entry, err := repo.registry.Lookup(ctx, issuer.Root, issuer.Name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", nil, errors.Wrapf(ErrUnknownIssuer, "%s", issuer)
		}
		return "", nil, err
	}

	return dir, entry, nil
}

// exists returns true if CA is registered or its directory exists under root
func (repo *repoImpl) exists(ctx context.Context, root, name string) (bool, error) {
	if _, err := repo.registry.Lookup(ctx, root, name); err == nil {
		return true, nil
	} else if !errors.Is(err, registry.ErrNotFound) {
		return false, err
	}

	_, found, err := repo.caDir(root, name)
	return found, err
}

// scratch create randomly named scratch directory; returned func removes it
func (repo *repoImpl) scratch() (string, func(), error) {
	dir := filepath.Join(repo.cfg.TmpDir(), shortuuid.New())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, errors.Wrap(err, "fail to create scratch directory")
	}

	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warnf("fail to remove scratch directory %s: %v", dir, err)
		}
	}, nil
}

// publicDir mirror directory of CA at dir
func (repo *repoImpl) publicDir(dir, root string) (string, error) {
	route, err := tree.RelativeRoute(dir, root)
	if err != nil {
		return "", err
	}
	return filepath.Join(repo.cfg.PublicDir(), route), nil
}
