package repository

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/authority/types"
	"capki/pkg/helper"
	"capki/pkg/helper/x509x"
)

// ImportRequest existing CA key and certificate to take over
type ImportRequest struct {
	Name   string `validate:"required"`
	Secret string `validate:"required"` // passphrase of Key
	Key    []byte `validate:"required"`
	Cert   []byte `validate:"required"`
}

// ImportRoot take over self signed root CA; subject and lifetime come from the certificate
func (repo *repoImpl) ImportRoot(ctx context.Context, req *ImportRequest) ([]byte, error) {
	cert, cfg, err := repo.inspectImport(req)
	if err != nil {
		return nil, errors.Wrap(err, "fail to import root CA")
	}

	if err := cert.CheckSignatureFrom(cert); err != nil {
		return nil, errors.Wrapf(ErrInvalidCA, "%s: not self signed: %v", req.Name, err)
	}

	log.Infof("import root CA: %s, subject=%s", req.Name, x509x.FormatDN(cert.Subject))
	return repo.createRoot(ctx, cfg, &material{key: req.Key, cert: req.Cert})
}

// ImportIntermediate take over intermediate CA issued by issuer
func (repo *repoImpl) ImportIntermediate(ctx context.Context, req *ImportRequest, issuer types.Issuer) ([]byte, error) {
	_, cfg, err := repo.inspectImport(req)
	if err != nil {
		return nil, errors.Wrap(err, "fail to import intermediate CA")
	}

	verified, err := repo.Verify(ctx, issuer, req.Cert)
	if err != nil {
		return nil, errors.Wrap(err, "fail to import intermediate CA")
	}
	if !verified {
		return nil, errors.Wrapf(ErrInvalidCA, "%s: not issued by %s", req.Name, issuer)
	}

	log.Infof("import intermediate CA: %s, issuer=%s", req.Name, issuer)
	return repo.createIntermediate(ctx, cfg, issuer, &material{key: req.Key, cert: req.Cert})
}

// inspectImport check certificate is a valid CA owning the key, and derive CA config from it
func (repo *repoImpl) inspectImport(req *ImportRequest) (*x509.Certificate, *types.CAConfig, error) {
	if err := helper.ValidateStruct(req); err != nil {
		return nil, nil, err
	}

	cert, err := x509x.ParseCertificate(req.Cert)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrInvalidCA, "%s: %v", req.Name, err)
	}

	if !cert.IsCA {
		return nil, nil, errors.Wrapf(ErrInvalidCA, "%s: not a CA certificate", req.Name)
	}

	days := int(time.Until(cert.NotAfter).Hours() / 24)
	if days <= 0 {
		return nil, nil, errors.Wrapf(ErrInvalidCA, "%s: expired at %s", req.Name, cert.NotAfter)
	}

	if err := matchKey(req.Key, req.Secret, cert); err != nil {
		return nil, nil, errors.Wrapf(ErrInvalidCA, "%s: %v", req.Name, err)
	}

	return cert, &types.CAConfig{
		Name:   req.Name,
		Secret: req.Secret,
		Days:   days,
		Info:   types.InfoFromName(cert.Subject),
	}, nil
}

// matchKey check key is the private key of cert.
// PKCS#8 encrypted keys can not be opened here and are left to the toolchain.
func matchKey(keyPEM []byte, secret string, cert *x509.Certificate) error {
	if block, _ := pem.Decode(keyPEM); block != nil && block.Type == x509x.EncryptedPKCS8PrivateKeyPEMBLockType {
		log.Debugf("skip key match of encrypted PKCS#8 key")
		return nil
	}

	key, err := x509x.ParseEncryptedPrivateKey(keyPEM, secret)
	if err != nil {
		return err
	}

	pub, ok := key.Public().(x509x.PublicKey)
	if !ok || !pub.Equal(cert.PublicKey) {
		return errors.New("key does not match certificate")
	}

	return nil
}
