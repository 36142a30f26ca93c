package helper

import (
	"crypto/x509"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/pkg/helper/x509x"
	"capki/pkg/simplekv"
)

// CRLVerifier tls.Config.VerifyPeerCertificate checking every certificate of verified chain
// against CRL of its distribution points
type CRLVerifier interface {
	Verify(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NewCRLVerifier fetch loads CRL of distribution point; ReadFileOrURL if nil
func NewCRLVerifier(fetch func(url string) ([]byte, error)) CRLVerifier {
	if fetch == nil {
		fetch = ReadFileOrURL
	}

	return &crlVerifier{
		fetch: fetch,
		crls:  simplekv.New[string, *x509.RevocationList](),
	}
}

type crlVerifier struct {
	fetch func(url string) ([]byte, error)
	crls  simplekv.Interface[string, *x509.RevocationList] // distribution point -> CRL, expires at NextUpdate
}

var _ CRLVerifier = (*crlVerifier)(nil)

func (v *crlVerifier) Verify(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	for _, chain := range verifiedChains {
		for i := 0; i < len(chain)-1; i++ {
			cert := chain[i]
			issuer := chain[i+1]

			for _, distPoint := range cert.CRLDistributionPoints {
				crl, err := v.getCRL(distPoint, issuer)
				if err != nil {
					return errors.Wrap(err, "crl verify failed")
				}

				if err := CheckCertWithCRL(cert, crl); err != nil {
					return errors.Wrap(err, "crl verify failed")
				}
			}
		}
	}

	return nil
}

var (
	ErrCertWasRevoked = errors.New("certificate was revoked")
	ErrCRLOutdated    = errors.New("CRL was outdated")
)

func (v *crlVerifier) getCRL(url string, issuer *x509.Certificate) (*x509.RevocationList, error) {
	if crl, err := v.crls.Get(url); err == nil {
		return crl, nil
	}

	log.Debugf("load CRL from: %s", url)
	crlBytes, err := v.fetch(url)
	if err != nil {
		return nil, errors.Wrap(err, "CRL get failed")
	}

	crl, err := x509x.ParseCRL(crlBytes)
	if err != nil {
		return nil, errors.Wrap(err, "CRL parse failed")
	}

	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return nil, errors.Wrap(err, "CRL signature check failed")
	}

	ttl := time.Until(crl.NextUpdate)
	if ttl <= 0 {
		return nil, ErrCRLOutdated
	}
	v.crls.Set(url, crl, ttl)

	return crl, nil
}

// ReadFileOrURL read http://.. or file://..
func ReadFileOrURL(s string) ([]byte, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "http", "https":
		resp, err := http.Get(u.String())
		if err != nil {
			return nil, errors.Wrapf(err, "url get failed: url=%s", u.String())
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("url get failed: url=%s, status=%d", u.String(), resp.StatusCode)
		}

		return io.ReadAll(resp.Body)
	case "file", "":
		return ReadFile(u.Path)
	default:
		return nil, errors.Errorf("unsupported url scheme: %s", u.Scheme)
	}
}

// CheckCertWithCRL returns ErrCertWasRevoked if cert is listed in crl
func CheckCertWithCRL(cert *x509.Certificate, crl *x509.RevocationList) error {
	log.Debugf("check certficate with crl: cn=%s, crl.number=%s", cert.Issuer.CommonName, crl.Number)
	for _, revoked := range crl.RevokedCertificates {
		if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			log.Debugf("cert %s was revoked", revoked.SerialNumber)
			return ErrCertWasRevoked
		}
	}

	return nil
}
