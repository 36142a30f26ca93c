package toolchain

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"

	"capki/authority/ledger"
	"capki/authority/tree"
	"capki/authority/types"
	"capki/pkg/helper"
	"capki/pkg/helper/x509x"
)

var randReader = rand.Reader

// nativeImpl implements toolchain with crypto/x509, keeping openssl file formats
type nativeImpl struct {
	mu sync.Mutex // serial, ledger and crlnumber updates
}

var _ Interface = (*nativeImpl)(nil)

func NewNative() Interface { return &nativeImpl{} }

func (n *nativeImpl) GenerateKey(ctx context.Context, name string, passphrase string, bits int, dir string) error {
	key, err := x509x.GenerateRSAKey(bits)
	if err != nil {
		return newError("genrsa", err, "")
	}

	keyPEM, err := x509x.EncodeRSAPrivateKeyToPEM(key, passphrase)
	if err != nil {
		return newError("genrsa", err, "")
	}

	if err := os.WriteFile(filepath.Join(dir, name+".key.pem"), keyPEM, 0o600); err != nil {
		return newError("genrsa", err, "")
	}

	return nil
}

func readKey(path string, passphrase string) (x509x.PrivateKey, error) {
	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return x509x.ParseEncryptedPrivateKey(keyPEM, passphrase)
}

func readCert(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return x509x.ParseCertificate(certPEM)
}

func (n *nativeImpl) SelfSign(ctx context.Context, name string, days int, passphrase string, dir string) error {
	cfg, err := loadConfig(tree.ConfigFile, dir)
	if err != nil {
		return newError("selfsign", err, "")
	}

	key, err := readKey(filepath.Join(dir, name+".key.pem"), passphrase)
	if err != nil {
		return newError("selfsign", err, "unable to load private key")
	}

	ext, err := cfg.extensions(types.ProfileRoot)
	if err != nil {
		return newError("selfsign", err, "")
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: x509x.RandomSerial(),
		Subject:      cfg.distinguishedName().Name(),
		NotBefore:    now,
		NotAfter:     now.AddDate(0, 0, days),
	}
	if err := applyExtensions(template, ext, key.Public()); err != nil {
		return newError("selfsign", err, "")
	}

	der, err := x509.CreateCertificate(randReader, template, template, key.Public(), key)
	if err != nil {
		return newError("selfsign", err, "")
	}

	if err := os.WriteFile(filepath.Join(dir, name+".cert.pem"), x509x.EncodeCertificateToPEM(der), 0o644); err != nil {
		return newError("selfsign", err, "")
	}

	return nil
}

func (n *nativeImpl) CreateCSR(ctx context.Context, info *types.Info, name string, passphrase string, dir string) error {
	key, err := readKey(filepath.Join(dir, name+".key.pem"), passphrase)
	if err != nil {
		return newError("csr", err, "unable to load private key")
	}

	ips, err := parseIPs(info.IPAddresses)
	if err != nil {
		return newError("csr", err, "")
	}

	template := &x509.CertificateRequest{
		Subject:     info.Name(),
		DNSNames:    info.AltNames,
		IPAddresses: ips,
	}
	if info.Email != "" {
		template.EmailAddresses = []string{info.Email}
	}

	der, err := x509.CreateCertificateRequest(randReader, template, key)
	if err != nil {
		return newError("csr", err, "")
	}

	if err := os.WriteFile(filepath.Join(dir, name+".csr.pem"), x509x.EncodeCSRToPEM(der), 0o644); err != nil {
		return newError("csr", err, "")
	}

	return nil
}

func (n *nativeImpl) Sign(ctx context.Context, req *SignRequest) error {
	cfg, err := loadConfig(req.ConfigPath, req.Dir)
	if err != nil {
		return newError("sign", err, "")
	}

	csrPEM, err := os.ReadFile(filepath.Join(req.Dir, req.CSRName+".csr.pem"))
	if err != nil {
		return newError("sign", err, "")
	}

	csr, err := x509x.ParseCSR(csrPEM)
	if err != nil {
		return newError("sign", err, "unable to load certificate request")
	}

	if err := csr.CheckSignature(); err != nil {
		return newError("sign", err, "signature verification problems with certificate request")
	}

	if err := checkPolicy(cfg, csr.Subject); err != nil {
		return newError("sign", err, "")
	}

	caCert, err := readCert(cfg.Certificate)
	if err != nil {
		return newError("sign", err, "unable to load CA certificate")
	}

	caKey, err := readKey(cfg.PrivateKey, req.Passphrase)
	if err != nil {
		return newError("sign", err, "unable to load CA private key")
	}

	ext, err := cfg.extensions(req.Profile)
	if err != nil {
		return newError("sign", err, "")
	}

	days := fx.Ternary(req.Days > 0, req.Days, cfg.DefaultDays)

	n.mu.Lock()
	defer n.mu.Unlock()

	serial, err := readHex(cfg.Serial)
	if err != nil {
		return newError("sign", err, "unable to load serial")
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		NotBefore:    now,
		NotAfter:     now.AddDate(0, 0, days),
	}
	if cfg.CopyExtensions {
		template.DNSNames = csr.DNSNames
		template.IPAddresses = csr.IPAddresses
		template.EmailAddresses = csr.EmailAddresses
		template.URIs = csr.URIs
	}
	if err := applyExtensions(template, ext, csr.PublicKey); err != nil {
		return newError("sign", err, "")
	}

	der, err := x509.CreateCertificate(randReader, template, caCert, csr.PublicKey, caKey)
	if err != nil {
		return newError("sign", err, "")
	}
	certPEM := x509x.EncodeCertificateToPEM(der)

	serialHex := formatSerial(serial)
	if err := os.WriteFile(filepath.Join(cfg.NewCertsDir, serialHex+".pem"), certPEM, 0o644); err != nil {
		return newError("sign", err, "")
	}

	row := &types.CertificateEntry{
		State:          types.StateValid,
		ExpirationTime: ledger.FormatTime(template.NotAfter),
		Serial:         serialHex,
		SubjectText:    x509x.FormatDN(csr.Subject),
	}
	if err := appendLedger(cfg.Database, row); err != nil {
		return newError("sign", err, "")
	}

	if err := writeHex(cfg.Serial, new(big.Int).Add(serial, big.NewInt(1))); err != nil {
		return newError("sign", err, "")
	}

	if err := os.WriteFile(filepath.Join(req.Dir, req.CertName+".cert.pem"), certPEM, 0o644); err != nil {
		return newError("sign", err, "")
	}

	log.Debugf("certificate signed: serial=%s, subject=%s", serialHex, row.SubjectText)
	return nil
}

var subjectFields = map[string]func(n pkix.Name) []string{
	"countryName":            func(n pkix.Name) []string { return n.Country },
	"stateOrProvinceName":    func(n pkix.Name) []string { return n.Province },
	"localityName":           func(n pkix.Name) []string { return n.Locality },
	"organizationName":       func(n pkix.Name) []string { return n.Organization },
	"organizationalUnitName": func(n pkix.Name) []string { return n.OrganizationalUnit },
	"commonName": func(n pkix.Name) []string {
		return fx.Ternary(n.CommonName != "", []string{n.CommonName}, []string(nil))
	},
}

func checkPolicy(cfg *caConfig, subject pkix.Name) error {
	for _, field := range cfg.requiredFields() {
		if get, ok := subjectFields[field]; ok && len(get(subject)) == 0 {
			return errors.Errorf("The %s field needed to be supplied and was missing", field)
		}
	}
	return nil
}

func applyExtensions(template *x509.Certificate, ext *extensions, pub interface{}) error {
	template.BasicConstraintsValid = ext.BasicConstraints
	template.IsCA = ext.IsCA
	template.KeyUsage = ext.KeyUsage
	template.ExtKeyUsage = ext.ExtKeyUsage
	template.OCSPServer = ext.OCSPServer
	template.CRLDistributionPoints = ext.CRLDistPoints

	if ext.SubjectKeyID {
		id, err := subjectKeyID(pub)
		if err != nil {
			return err
		}
		template.SubjectKeyId = id
	}

	return nil
}

// subjectKeyID sha1 of subjectPublicKey bit string, RFC 5280 method 1
func subjectKeyID(pub interface{}) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}

	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, err
	}

	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:], nil
}

func readHex(path string) (*big.Int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	v, ok := new(big.Int).SetString(strings.TrimSpace(string(data)), 16)
	if !ok {
		return nil, errors.Errorf("invalid serial in %s", path)
	}
	return v, nil
}

func writeHex(path string, v *big.Int) error {
	return os.WriteFile(path, []byte(formatSerial(v)+"\n"), 0o644)
}

// formatSerial upper case hex with even digits, as openssl writes serials
func formatSerial(v *big.Int) string {
	s := fmt.Sprintf("%X", v)
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return s
}

func appendLedger(path string, row *types.CertificateEntry) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(ledger.FormatLine(row) + "\n")
	return err
}

func (n *nativeImpl) Read(ctx context.Context, file string, dir string) (string, error) {
	cert, err := readCert(resolvePath(file, dir))
	if err != nil {
		return "", newError("read", err, "unable to load certificate")
	}

	return dumpCertificate(cert), nil
}

func dumpCertificate(cert *x509.Certificate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Certificate:\n")
	fmt.Fprintf(&b, "    Data:\n")
	fmt.Fprintf(&b, "        Version: %d (0x%x)\n", cert.Version, cert.Version-1)
	fmt.Fprintf(&b, "        Serial Number: %s (0x%x)\n", cert.SerialNumber, cert.SerialNumber)
	fmt.Fprintf(&b, "        Signature Algorithm: %s\n", cert.SignatureAlgorithm)
	fmt.Fprintf(&b, "        Issuer: %s\n", x509x.FormatDN(cert.Issuer))
	fmt.Fprintf(&b, "        Validity\n")
	fmt.Fprintf(&b, "            Not Before: %s\n", cert.NotBefore.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "            Not After : %s\n", cert.NotAfter.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "        Subject: %s\n", x509x.FormatDN(cert.Subject))
	fmt.Fprintf(&b, "        Subject Public Key Info:\n")
	fmt.Fprintf(&b, "            Public Key Algorithm: %s\n", cert.PublicKeyAlgorithm)
	fmt.Fprintf(&b, "        X509v3 extensions:\n")
	if cert.BasicConstraintsValid {
		fmt.Fprintf(&b, "            X509v3 Basic Constraints:\n                CA:%s\n", strings.ToUpper(fmt.Sprint(cert.IsCA)))
	}
	if cert.KeyUsage != 0 {
		fmt.Fprintf(&b, "            X509v3 Key Usage:\n                %s\n", strings.Join(x509x.KeyUsageToStr(cert.KeyUsage), ", "))
	}
	if len(cert.ExtKeyUsage) > 0 {
		fmt.Fprintf(&b, "            X509v3 Extended Key Usage:\n                %s\n", strings.Join(x509x.ExtKeyUsageToStr(cert.ExtKeyUsage), ", "))
	}
	if len(cert.SubjectKeyId) > 0 {
		fmt.Fprintf(&b, "            X509v3 Subject Key Identifier:\n                %X\n", cert.SubjectKeyId)
	}
	if len(cert.AuthorityKeyId) > 0 {
		fmt.Fprintf(&b, "            X509v3 Authority Key Identifier:\n                keyid:%X\n", cert.AuthorityKeyId)
	}
	sans := append(fx.Map(cert.DNSNames, func(x string) string { return "DNS:" + x }),
		fx.Map(cert.IPAddresses, func(x net.IP) string { return "IP Address:" + x.String() })...)
	sans = append(sans, fx.Map(cert.EmailAddresses, func(x string) string { return "email:" + x })...)
	if len(sans) > 0 {
		fmt.Fprintf(&b, "            X509v3 Subject Alternative Name:\n                %s\n", strings.Join(sans, ", "))
	}
	if len(cert.CRLDistributionPoints) > 0 {
		fmt.Fprintf(&b, "            X509v3 CRL Distribution Points:\n                URI:%s\n", strings.Join(cert.CRLDistributionPoints, ", URI:"))
	}
	if len(cert.OCSPServer) > 0 {
		fmt.Fprintf(&b, "            Authority Information Access:\n                OCSP - URI:%s\n", strings.Join(cert.OCSPServer, ", OCSP - URI:"))
	}
	return b.String()
}

func (n *nativeImpl) Verify(ctx context.Context, chainName string, candidate string, dir string) error {
	chainPEM, err := os.ReadFile(filepath.Join(dir, chainName+".cert.pem"))
	if err != nil {
		return newError("verify", err, "")
	}

	chain, err := x509x.ParseCertificateChain(chainPEM)
	if err != nil || len(chain) == 0 {
		return newError("verify", err, "unable to load CA file")
	}

	cert, err := readCert(resolvePath(candidate, dir))
	if err != nil {
		return newError("verify", err, "unable to load certificate")
	}

	roots := x509.NewCertPool()
	intermediates := x509.NewCertPool()
	for _, c := range chain {
		if bytes.Equal(c.RawIssuer, c.RawSubject) && c.CheckSignatureFrom(c) == nil {
			roots.AddCert(c)
		} else {
			intermediates.AddCert(c)
		}
	}

	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return newError("verify", err, "%s: verification failed", candidate)
	}

	return nil
}

func (n *nativeImpl) GenerateCRL(ctx context.Context, passphrase string, configPath string, dir string) (bool, error) {
	cfg, err := loadConfig(configPath, dir)
	if err != nil {
		return false, newError("gencrl", err, "")
	}

	caCert, err := readCert(cfg.Certificate)
	if err != nil {
		return false, newError("gencrl", err, "unable to load CA certificate")
	}

	caKey, err := readKey(cfg.PrivateKey, passphrase)
	if err != nil {
		return false, newError("gencrl", err, "unable to load CA private key")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	parser := &ledger.Parser{AcceptAnyFilename: true}
	entries, err := parser.ParseFile(cfg.Database)
	if err != nil {
		return false, newError("gencrl", err, "")
	}

	revoked := []pkix.RevokedCertificate{}
	for _, entry := range entries {
		if entry.State != types.StateRevoked {
			continue
		}

		serial, ok := new(big.Int).SetString(entry.Serial, 16)
		if !ok {
			return false, newError("gencrl", nil, "invalid serial %s", entry.Serial)
		}

		revokedAt, err := ledger.ParseTime(strings.Split(entry.RevocationTime, ",")[0])
		if err != nil {
			return false, newError("gencrl", err, "invalid revocation time %s", entry.RevocationTime)
		}

		revoked = append(revoked, pkix.RevokedCertificate{SerialNumber: serial, RevocationTime: revokedAt})
	}

	number := big.NewInt(1)
	if cfg.CRLNumber != "" {
		if number, err = readHex(cfg.CRLNumber); err != nil {
			return false, newError("gencrl", err, "unable to load crlnumber")
		}
	}

	now := time.Now()
	der, err := x509.CreateRevocationList(randReader, &x509.RevocationList{
		Number:              number,
		ThisUpdate:          now,
		NextUpdate:          now.AddDate(0, 0, cfg.DefaultCRLDays),
		RevokedCertificates: revoked,
	}, caCert, caKey)
	if err != nil {
		return false, newError("gencrl", err, "")
	}

	crlFile := filepath.Join(filepath.Dir(resolvePath(configPath, dir)), "crl", "crl.pem")
	if err := helper.WriteFile(crlFile, x509x.EncodeCRLToPEM(der), 0o644); err != nil {
		return false, newError("gencrl", err, "")
	}

	if cfg.CRLNumber != "" {
		if err := writeHex(cfg.CRLNumber, new(big.Int).Add(number, big.NewInt(1))); err != nil {
			return false, newError("gencrl", err, "")
		}
	}

	log.Debugf("CRL created: %s, revoked=%d", crlFile, len(revoked))
	return true, nil
}

func (n *nativeImpl) Revoke(ctx context.Context, serial string, passphrase string, dir string) error {
	cfg, err := loadConfig(tree.ConfigFile, dir)
	if err != nil {
		return newError("revoke", err, "")
	}

	// openssl requires the CA key to revoke
	if _, err := readKey(cfg.PrivateKey, passphrase); err != nil {
		return newError("revoke", err, "unable to load CA private key")
	}

	cert, err := readCert(filepath.Join(cfg.NewCertsDir, serial+".pem"))
	if err != nil {
		return newError("revoke", err, "unable to load certificate")
	}
	serialHex := formatSerial(cert.SerialNumber)

	n.mu.Lock()
	defer n.mu.Unlock()

	parser := &ledger.Parser{AcceptAnyFilename: true}
	entries, err := parser.ParseFile(cfg.Database)
	if err != nil {
		return newError("revoke", err, "")
	}

	entry, found := fx.Find(entries, func(e *types.CertificateEntry) bool { return e.Serial == serialHex })
	if !found {
		return newError("revoke", nil, "serial number %s not found in database", serialHex)
	}

	if entry.State == types.StateRevoked {
		return newError("revoke", nil, "ERROR:Already revoked, serial number %s", serialHex)
	}

	entry.State = types.StateRevoked
	entry.RevocationTime = ledger.FormatTime(time.Now())

	if err := ledger.WriteFile(cfg.Database, entries); err != nil {
		return newError("revoke", err, "")
	}

	log.Infof("certificate revoked: serial=%s", serialHex)
	return nil
}
