package repository

import (
	"context"
	"os"
	"path/filepath"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/authority/toolchain"
	"capki/authority/tree"
	"capki/authority/types"
	"capki/pkg/helper"
)

const ocspLifetime = 3650

// prepare validate request and fill generated secret and default lifetime
func (repo *repoImpl) prepare(cfg *types.CAConfig) (*types.CAConfig, error) {
	if cfg == nil {
		return nil, errors.New("empty CA config")
	}

	if err := helper.ValidateStruct(cfg); err != nil {
		return nil, err
	}

	if err := validateName(cfg.Name); err != nil {
		return nil, err
	}

	prepared := *cfg
	if prepared.Secret == "" {
		prepared.Secret = shortuuid.New()
	}
	if prepared.Days == 0 {
		prepared.Days = repo.cfg.CALifetime
	}

	return &prepared, nil
}

// rollback remove directories of CA creation failed before commit
func rollback(dirs ...string) {
	for _, dir := range dirs {
		log.Warnf("rollback: remove %s", dir)
		if err := os.RemoveAll(dir); err != nil {
			log.Warnf("rollback failed: %v", err)
		}
	}
}

// material key and certificate of imported CA; nil when the CA generates its own
type material struct {
	key  []byte
	cert []byte
}

// install write imported key and certificate into layout
func (m *material) install(layout tree.Layout) error {
	if err := os.WriteFile(layout.KeyFile(), m.key, 0o600); err != nil {
		return err
	}
	return os.WriteFile(layout.CertFile(), m.cert, 0o644)
}

func (repo *repoImpl) CreateRoot(ctx context.Context, cfg *types.CAConfig) ([]byte, error) {
	return repo.createRoot(ctx, cfg, nil)
}

func (repo *repoImpl) createRoot(ctx context.Context, cfg *types.CAConfig, imported *material) (certPEM []byte, err error) {
	cfg, err = repo.prepare(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create root CA")
	}

	log.Infof("create root CA: %s", cfg.Name)

	repo.muCreate.Lock()
	defer repo.muCreate.Unlock()

	exists, err := repo.exists(ctx, cfg.Name, cfg.Name)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create root CA")
	}
	if exists {
		return nil, errors.Wrapf(ErrCAExists, "%s", cfg.Name)
	}

	layout := tree.Layout{Dir: repo.rootDir(cfg.Name), Name: cfg.Name}
	publicDir := filepath.Join(repo.cfg.PublicDir(), cfg.Name)
	defer func() {
		if err != nil {
			rollback(layout.Dir, publicDir)
		}
	}()

	if err := tree.CreateRootStructure(layout, cfg.Days, cfg.Info); err != nil {
		return nil, errors.Wrap(err, "fail to create root CA")
	}

	if imported != nil {
		if err := imported.install(layout); err != nil {
			return nil, errors.Wrap(err, "fail to import root CA")
		}
	} else {
		if err := repo.toolchain.GenerateKey(ctx, cfg.Name, cfg.Secret, repo.cfg.KeyBits, layout.Dir); err != nil {
			return nil, errors.Wrap(err, "fail to create root CA")
		}

		if err := repo.toolchain.SelfSign(ctx, cfg.Name, cfg.Days, cfg.Secret, layout.Dir); err != nil {
			return nil, errors.Wrap(err, "fail to create root CA")
		}
	}

	if err := helper.CopyFile(layout.CertFile(), filepath.Join(publicDir, tree.CertFileName(cfg.Name))); err != nil {
		return nil, errors.Wrap(err, "fail to publish root CA")
	}

	certPEM, err = os.ReadFile(layout.CertFile())
	if err != nil {
		return nil, errors.Wrap(err, "fail to create root CA")
	}

	if err := repo.registry.Record(ctx, &types.Entry{
		Root:   cfg.Name,
		Parent: cfg.Name,
		Name:   cfg.Name,
		Secret: cfg.Secret,
	}); err != nil {
		return nil, errors.Wrap(err, "fail to create root CA")
	}

	log.Infof("root CA created: %s", cfg.Name)
	return certPEM, nil
}

func (repo *repoImpl) CreateIntermediate(ctx context.Context, cfg *types.CAConfig, issuer types.Issuer) ([]byte, error) {
	return repo.createIntermediate(ctx, cfg, issuer, nil)
}

func (repo *repoImpl) createIntermediate(ctx context.Context, cfg *types.CAConfig, issuer types.Issuer, imported *material) (chainPEM []byte, err error) {
	cfg, err = repo.prepare(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	log.Infof("create intermediate CA: %s, issuer=%s", cfg.Name, issuer)

	repo.muCreate.Lock()
	defer repo.muCreate.Unlock()

	exists, err := repo.exists(ctx, issuer.Root, cfg.Name)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}
	if exists || cfg.Name == issuer.Root {
		return nil, errors.Wrapf(ErrCAExists, "%s/%s", issuer.Root, cfg.Name)
	}

	issuerDir, issuerEntry, err := repo.resolveIssuer(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	layout := tree.Layout{Dir: filepath.Join(issuerDir, cfg.Name), Name: cfg.Name}
	route, err := tree.RelativeRoute(layout.Dir, issuer.Root)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}
	publicDir := filepath.Join(repo.cfg.PublicDir(), route)

	port, err := repo.registry.NextOCSPPort(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	defer func() {
		if err != nil {
			rollback(layout.Dir, publicDir)
		}
	}()

	log.Debugf("issuer dir=%s, dir=%s, public=%s, ocsp port=%d", issuerDir, layout.Dir, publicDir, port)

	if err := tree.CreateIntermediateStructure(layout, cfg.Days, cfg.Info, repo.cfg.OCSPURL(port), repo.cfg.CRLURL(route, cfg.Name)); err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	if imported != nil {
		if err := imported.install(layout); err != nil {
			return nil, errors.Wrap(err, "fail to import intermediate CA")
		}
	} else if err := repo.issueIntermediate(ctx, cfg, layout, issuerDir, issuerEntry); err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	chainPEM, err = repo.Chain(ctx, issuer.Root, layout.CertFile())
	if err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	if err := os.WriteFile(layout.ChainFile(), chainPEM, 0o644); err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	if err := repo.createOCSPKeys(ctx, layout, cfg); err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	for _, name := range []string{layout.CertFile(), layout.ChainFile()} {
		if err := helper.CopyFile(name, filepath.Join(publicDir, filepath.Base(name))); err != nil {
			return nil, errors.Wrap(err, "fail to publish intermediate CA")
		}
	}

	if err := repo.registry.Record(ctx, &types.Entry{
		Root:     issuer.Root,
		Parent:   issuer.Name,
		Name:     cfg.Name,
		Secret:   cfg.Secret,
		OCSPPort: port,
	}); err != nil {
		return nil, errors.Wrap(err, "fail to create intermediate CA")
	}

	log.Infof("intermediate CA created: %s/%s, ocsp port=%d", issuer.Root, cfg.Name, port)
	return chainPEM, nil
}

// issueIntermediate generate key of intermediate CA and sign it by issuer
func (repo *repoImpl) issueIntermediate(ctx context.Context, cfg *types.CAConfig, layout tree.Layout, issuerDir string, issuerEntry *types.Entry) error {
	if err := repo.toolchain.GenerateKey(ctx, cfg.Name, cfg.Secret, repo.cfg.KeyBits, layout.Dir); err != nil {
		return err
	}

	if err := repo.toolchain.CreateCSR(ctx, &cfg.Info, cfg.Name, cfg.Secret, layout.Dir); err != nil {
		return err
	}

	if err := repo.signWithLock(ctx, issuerDir, &toolchain.SignRequest{
		ConfigPath: filepath.Join(issuerDir, tree.ConfigFile),
		Profile:    types.ProfileIntermediate,
		Passphrase: issuerEntry.Secret,
		CSRName:    cfg.Name,
		CertName:   cfg.Name,
		Days:       cfg.Days,
		Dir:        layout.Dir,
	}); err != nil {
		return err
	}

	if err := os.Remove(layout.CSRFile()); err != nil {
		log.Warnf("fail to remove CSR: %v", err)
	}
	return nil
}

// createOCSPKeys OCSP responder keypair in <dir>/ocsp, signed by the intermediate itself
func (repo *repoImpl) createOCSPKeys(ctx context.Context, layout tree.Layout, cfg *types.CAConfig) error {
	dir := layout.OCSPDir()
	info := types.Info{
		Country:      cfg.Info.Country,
		State:        cfg.Info.State,
		Locality:     cfg.Info.Locality,
		Organization: cfg.Info.Organization,
		CommonName:   repo.cfg.OCSP.Domain,
	}

	if err := tree.CreateOCSPStructure(dir, info); err != nil {
		return err
	}

	if err := repo.toolchain.GenerateKey(ctx, tree.OCSPDir, cfg.Secret, repo.cfg.KeyBits, dir); err != nil {
		return err
	}

	if err := repo.toolchain.CreateCSR(ctx, &info, tree.OCSPDir, cfg.Secret, dir); err != nil {
		return err
	}

	if err := repo.signWithLock(ctx, layout.Dir, &toolchain.SignRequest{
		ConfigPath: layout.ConfigFile(),
		Profile:    types.ProfileOCSP,
		Passphrase: cfg.Secret,
		CSRName:    tree.OCSPDir,
		CertName:   tree.OCSPDir,
		Days:       ocspLifetime,
		Dir:        dir,
	}); err != nil {
		return err
	}

	return os.Remove(filepath.Join(dir, tree.OCSPDir+".csr.pem"))
}

func (repo *repoImpl) signWithLock(ctx context.Context, caDir string, req *toolchain.SignRequest) error {
	unlock := repo.lockCA(caDir)
	defer unlock()

	return repo.toolchain.Sign(ctx, req)
}

func (repo *repoImpl) GetCACertificate(ctx context.Context, root, name string, chain bool) ([]byte, error) {
	if err := validateRef(root, name); err != nil {
		return nil, errors.Wrap(err, "fail to get CA certificate")
	}

	fileName := tree.CertFileName(name)
	if chain && root != name {
		fileName = tree.ChainFileName(name)
	}

	data, found, err := tree.FindFileContent(repo.rootDir(root), fileName)
	if err != nil {
		return nil, errors.Wrap(err, "fail to get CA certificate")
	}
	if !found {
		return nil, errors.Wrapf(ErrCANotFound, "%s/%s", root, name)
	}

	return data, nil
}

func (repo *repoImpl) ListCAs(ctx context.Context) ([]*types.Entry, error) {
	entries, err := repo.registry.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fail to list CA")
	}
	return entries, nil
}
