package repository

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"

	"capki/authority/ledger"
	"capki/authority/toolchain"
	"capki/authority/tree"
	"capki/authority/types"
	"capki/pkg/helper"
)

const (
	requestName = "request"
	signedName  = "temp"
)

var serialPattern = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

func (repo *repoImpl) ListCertificates(ctx context.Context) (types.Listing, error) {
	files, err := tree.CollectLedgers(repo.cfg.PKIDir, "")
	if err != nil {
		return nil, errors.Wrap(err, "fail to list certificates")
	}

	listing := types.Listing{}
	parser := &ledger.Parser{}
	for _, file := range files {
		entries, err := parser.ParseFile(file.Path)
		if err != nil {
			return nil, errors.Wrap(err, "fail to list certificates")
		}

		fx.ForEach(entries, func(_ int, entry *types.CertificateEntry) { listing.Add(file.Root, file.Issuer, entry) })
	}

	return listing, nil
}

func (repo *repoImpl) Sign(ctx context.Context, csrPEM []byte, issuer types.Issuer, certType types.CertType, lifetime int) ([]byte, error) {
	certType = fx.Ternary(certType == "", types.CertTypeServer, certType)
	profile := certType.Profile()
	if profile == "" {
		return nil, errors.Errorf("unknown certificate type: %s", certType)
	}

	dir, entry, err := repo.resolveIssuer(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "fail to sign certificate")
	}

	scratch, cleanup, err := repo.scratch()
	if err != nil {
		return nil, errors.Wrap(err, "fail to sign certificate")
	}
	defer cleanup()

	if err := os.WriteFile(filepath.Join(scratch, requestName+".csr.pem"), csrPEM, 0o600); err != nil {
		return nil, errors.Wrap(err, "fail to sign certificate")
	}

	if err := repo.signWithLock(ctx, dir, &toolchain.SignRequest{
		ConfigPath: filepath.Join(dir, tree.ConfigFile),
		Profile:    profile,
		Passphrase: entry.Secret,
		CSRName:    requestName,
		CertName:   signedName,
		Days:       repo.cfg.CertLifetime(lifetime),
		Dir:        scratch,
	}); err != nil {
		return nil, errors.Wrap(err, "fail to sign certificate")
	}

	certPEM, err := os.ReadFile(filepath.Join(scratch, signedName+".cert.pem"))
	if err != nil {
		return nil, errors.Wrap(err, "fail to sign certificate")
	}

	log.Infof("certificate signed: issuer=%s, type=%s", issuer, certType)
	return certPEM, nil
}

// KeyPairRequest private key and CSR generation
type KeyPairRequest struct {
	Passphrase string     `json:"password,omitempty"`
	Bits       int        `json:"numBits,omitempty" validate:"omitempty,oneof=1024 2048 4096"`
	Info       types.Info `json:"info" validate:"required"`
}

func (repo *repoImpl) CreateKeyPair(ctx context.Context, req *KeyPairRequest) (*types.KeyPair, error) {
	if err := helper.ValidateStruct(req); err != nil {
		return nil, errors.Wrap(err, "fail to create key pair")
	}

	scratch, cleanup, err := repo.scratch()
	if err != nil {
		return nil, errors.Wrap(err, "fail to create key pair")
	}
	defer cleanup()

	bits := fx.Ternary(req.Bits > 0, req.Bits, repo.cfg.KeyBits)
	if err := repo.toolchain.GenerateKey(ctx, requestName, req.Passphrase, bits, scratch); err != nil {
		return nil, errors.Wrap(err, "fail to create key pair")
	}

	if err := repo.toolchain.CreateCSR(ctx, &req.Info, requestName, req.Passphrase, scratch); err != nil {
		return nil, errors.Wrap(err, "fail to create key pair")
	}

	pair := &types.KeyPair{}
	if pair.Key, err = os.ReadFile(filepath.Join(scratch, requestName+".key.pem")); err != nil {
		return nil, errors.Wrap(err, "fail to create key pair")
	}
	if pair.CSR, err = os.ReadFile(filepath.Join(scratch, requestName+".csr.pem")); err != nil {
		return nil, errors.Wrap(err, "fail to create key pair")
	}

	return pair, nil
}

// PairRequest private key generated and signed by issuer at once
type PairRequest struct {
	KeyPairRequest
	Issuer   types.Issuer   `json:"issuer" validate:"required"`
	Type     types.CertType `json:"type,omitempty"`
	Lifetime int            `json:"lifetime,omitempty" validate:"min=0"`
}

func (repo *repoImpl) CreatePair(ctx context.Context, req *PairRequest) (*types.CertificatePair, error) {
	if err := validateRef(req.Issuer.Root, req.Issuer.Name); err != nil {
		return nil, errors.Wrapf(ErrUnknownIssuer, "%s: %v", req.Issuer, err)
	}

	pair, err := repo.CreateKeyPair(ctx, &req.KeyPairRequest)
	if err != nil {
		return nil, err
	}

	certPEM, err := repo.Sign(ctx, pair.CSR, req.Issuer, req.Type, req.Lifetime)
	if err != nil {
		return nil, err
	}

	return &types.CertificatePair{Key: pair.Key, Certificate: certPEM}, nil
}

func (repo *repoImpl) ReadCertificate(ctx context.Context, certPEM []byte) (string, error) {
	scratch, cleanup, err := repo.scratch()
	if err != nil {
		return "", errors.Wrap(err, "fail to read certificate")
	}
	defer cleanup()

	if err := os.WriteFile(filepath.Join(scratch, "read.cert.pem"), certPEM, 0o644); err != nil {
		return "", errors.Wrap(err, "fail to read certificate")
	}

	text, err := repo.toolchain.Read(ctx, "read.cert.pem", scratch)
	if err != nil {
		return "", errors.Wrap(err, "fail to read certificate")
	}

	return text, nil
}

// RevokeByName revoke every valid certificate of issuer with the common name
func (repo *repoImpl) RevokeByName(ctx context.Context, commonName string, issuer types.Issuer) (int, error) {
	dir, entry, err := repo.resolveIssuer(ctx, issuer)
	if err != nil {
		return 0, errors.Wrap(err, "fail to revoke certificate")
	}

	listing, err := repo.ListCertificates(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "fail to revoke certificate")
	}

	valid := fx.Filter(listing.Get(issuer), func(x *types.CertificateEntry) bool {
		return x.CommonName() == commonName && x.State != types.StateRevoked
	})
	serials := fx.Map(valid, func(x *types.CertificateEntry) string { return x.Serial })

	if len(serials) == 0 {
		return 0, errors.Wrapf(ErrNoValidCertificate, "issuer=%s, name=%s", issuer, commonName)
	}

	if err := repo.revoke(ctx, dir, entry.Secret, serials...); err != nil {
		return 0, errors.Wrap(err, "fail to revoke certificate")
	}

	repo.refreshAfterRevoke(ctx)
	return len(serials), nil
}

func (repo *repoImpl) RevokeBySerial(ctx context.Context, serial string, issuer types.Issuer) (bool, error) {
	if !serialPattern.MatchString(serial) {
		return false, errors.Wrapf(ErrCertificateNotFound, "invalid serial %q", serial)
	}

	dir, entry, err := repo.resolveIssuer(ctx, issuer)
	if err != nil {
		return false, errors.Wrap(err, "fail to revoke certificate")
	}

	if err := repo.revoke(ctx, dir, entry.Secret, strings.ToUpper(serial)); err != nil {
		return false, errors.Wrap(err, "fail to revoke certificate")
	}

	repo.refreshAfterRevoke(ctx)
	return true, nil
}

func (repo *repoImpl) revoke(ctx context.Context, dir string, secret string, serials ...string) error {
	unlock := repo.lockCA(dir)
	defer unlock()

	for _, serial := range serials {
		if err := repo.toolchain.Revoke(ctx, serial, secret, dir); err != nil {
			return err
		}
		log.Infof("certificate revoked: dir=%s, serial=%s", dir, serial)
	}

	return nil
}

// refreshAfterRevoke revocation is already recorded in ledger; a failed refresh is retried by scheduler
func (repo *repoImpl) refreshAfterRevoke(ctx context.Context) {
	if err := repo.RefreshAllCRLs(ctx); err != nil {
		log.Warnf("CRL refresh after revoke failed: %v", err)
	}
}
