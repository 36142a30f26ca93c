package toolchain

import (
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"capki/authority/types"
)

// caConfig values of openssl.cnf used by the native toolchain
type caConfig struct {
	file *ini.File

	Dir            string
	Database       string
	Serial         string
	CRLNumber      string
	CRL            string
	NewCertsDir    string
	PrivateKey     string
	Certificate    string
	DefaultDays    int
	DefaultCRLDays int
	CopyExtensions bool
	Policy         string
}

// loadConfig load openssl.cnf; relative path is resolved from workDir
func loadConfig(path string, workDir string) (*caConfig, error) {
	path = resolvePath(path, workDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to load config %s", path)
	}

	// `;` is part of values such as authorityInfoAccess = OCSP;URI:...
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, normalizeSections(data))
	if err != nil {
		return nil, errors.Wrapf(err, "fail to load config %s", path)
	}

	cfg := &caConfig{file: f}
	caName := f.Section("ca").Key("default_ca").MustString("CA_default")
	sec := f.Section(caName)

	cfg.Dir = resolvePath(sec.Key("dir").MustString("."), filepath.Dir(path))
	expand := func(key string) string {
		v := sec.Key(key).String()
		if v == "" {
			return ""
		}
		v = strings.ReplaceAll(v, "$dir", cfg.Dir)
		return resolvePath(v, workDir)
	}

	cfg.Database = expand("database")
	cfg.Serial = expand("serial")
	cfg.CRLNumber = expand("crlnumber")
	cfg.CRL = expand("crl")
	cfg.NewCertsDir = expand("new_certs_dir")
	cfg.PrivateKey = expand("private_key")
	cfg.Certificate = expand("certificate")
	cfg.DefaultDays = sec.Key("default_days").MustInt(365)
	cfg.DefaultCRLDays = sec.Key("default_crl_days").MustInt(30)
	cfg.CopyExtensions = strings.EqualFold(sec.Key("copy_extensions").String(), "copy")
	cfg.Policy = sec.Key("policy").String()

	return cfg, nil
}

var sectionPattern = regexp.MustCompile(`(?m)^[ \t]*\[[ \t]*([^\]]*?)[ \t]*\]`)

// normalizeSections trim blanks inside section brackets; openssl reads [ ca ] as [ca], ini does not
func normalizeSections(data []byte) []byte {
	return sectionPattern.ReplaceAll(data, []byte("[$1]"))
}

func resolvePath(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// requiredFields names of subject fields that policy marks as supplied
func (c *caConfig) requiredFields() []string {
	if c.Policy == "" {
		return nil
	}

	fields := []string{}
	sec := c.file.Section(c.Policy)
	for _, key := range sec.Keys() {
		if strings.EqualFold(key.String(), "supplied") {
			fields = append(fields, key.Name())
		}
	}
	return fields
}

// distinguishedName subject from [ req ] distinguished_name section
func (c *caConfig) distinguishedName() *types.Info {
	name := c.file.Section("req").Key("distinguished_name").MustString("req_distinguished_name")
	sec := c.file.Section(name)

	return &types.Info{
		Country:      sec.Key("countryName").String(),
		State:        sec.Key("stateOrProvinceName").String(),
		Locality:     sec.Key("localityName").String(),
		Organization: sec.Key("organizationName").String(),
		Unit:         sec.Key("organizationalUnitName").String(),
		CommonName:   sec.Key("commonName").String(),
	}
}

// extensions x509 extensions of profile section
type extensions struct {
	BasicConstraints bool
	IsCA             bool
	KeyUsage         x509.KeyUsage
	ExtKeyUsage      []x509.ExtKeyUsage
	OCSPServer       []string
	CRLDistPoints    []string
	SubjectKeyID     bool
}

func (c *caConfig) extensions(profile string) (*extensions, error) {
	sec, err := c.file.GetSection(profile)
	if err != nil {
		return nil, errors.Errorf("unknown extension section: %s", profile)
	}

	ext := &extensions{}
	for _, value := range splitList(sec.Key("basicConstraints").String()) {
		ext.BasicConstraints = true
		if strings.EqualFold(value, "CA:true") {
			ext.IsCA = true
		}
	}

	for _, value := range splitList(sec.Key("keyUsage").String()) {
		if usage, ok := keyUsageNames[value]; ok {
			ext.KeyUsage |= usage
		}
	}

	for _, value := range splitList(sec.Key("extendedKeyUsage").String()) {
		if usage, ok := extKeyUsageNames[value]; ok {
			ext.ExtKeyUsage = append(ext.ExtKeyUsage, usage)
		}
	}

	for _, value := range splitList(sec.Key("authorityInfoAccess").String()) {
		if uri, ok := strings.CutPrefix(value, "OCSP;URI:"); ok {
			ext.OCSPServer = append(ext.OCSPServer, uri)
		}
	}

	for _, value := range splitList(sec.Key("crlDistributionPoints").String()) {
		if uri, ok := strings.CutPrefix(value, "URI:"); ok {
			ext.CRLDistPoints = append(ext.CRLDistPoints, uri)
		}
	}

	ext.SubjectKeyID = sec.Key("subjectKeyIdentifier").String() == "hash"

	return ext, nil
}

var keyUsageNames = map[string]x509.KeyUsage{
	"digitalSignature": x509.KeyUsageDigitalSignature,
	"nonRepudiation":   x509.KeyUsageContentCommitment,
	"keyEncipherment":  x509.KeyUsageKeyEncipherment,
	"dataEncipherment": x509.KeyUsageDataEncipherment,
	"keyAgreement":     x509.KeyUsageKeyAgreement,
	"keyCertSign":      x509.KeyUsageCertSign,
	"cRLSign":          x509.KeyUsageCRLSign,
	"encipherOnly":     x509.KeyUsageEncipherOnly,
	"decipherOnly":     x509.KeyUsageDecipherOnly,
}

var extKeyUsageNames = map[string]x509.ExtKeyUsage{
	"serverAuth":      x509.ExtKeyUsageServerAuth,
	"clientAuth":      x509.ExtKeyUsageClientAuth,
	"codeSigning":     x509.ExtKeyUsageCodeSigning,
	"emailProtection": x509.ExtKeyUsageEmailProtection,
	"timeStamping":    x509.ExtKeyUsageTimeStamping,
	"OCSPSigning":     x509.ExtKeyUsageOCSPSigning,
}

func splitList(s string) []string {
	values := []string{}
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func parseIPs(addrs []string) ([]net.IP, error) {
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, errors.Errorf("invalid ip address: %s", addr)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}
