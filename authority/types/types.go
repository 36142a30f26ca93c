package types

import (
	"crypto/x509/pkix"
	"strings"
)

// Info subject fields of CA or certificate request
type Info struct {
	Country      string `json:"C,omitempty" yaml:"country" validate:"omitempty,len=2"`
	State        string `json:"ST,omitempty" yaml:"state"`
	Locality     string `json:"L,omitempty" yaml:"locality"`
	Organization string `json:"O,omitempty" yaml:"organization"`
	Unit         string `json:"OU,omitempty" yaml:"unit"`
	CommonName   string `json:"CN" yaml:"commonname" validate:"required"`

	Email       string   `json:"email,omitempty" yaml:"email,omitempty"`
	AltNames    []string `json:"altNames,omitempty" yaml:"altNames,omitempty"`
	IPAddresses []string `json:"ipAddress,omitempty" yaml:"ipAddress,omitempty"`
}

func (i *Info) Name() pkix.Name {
	name := pkix.Name{CommonName: i.CommonName}
	appendIf := func(dst *[]string, v string) {
		if v != "" {
			*dst = append(*dst, v)
		}
	}
	appendIf(&name.Country, i.Country)
	appendIf(&name.Province, i.State)
	appendIf(&name.Locality, i.Locality)
	appendIf(&name.Organization, i.Organization)
	appendIf(&name.OrganizationalUnit, i.Unit)
	return name
}

// InfoFromName subject fields of name, first value of each attribute
func InfoFromName(name pkix.Name) Info {
	first := func(values []string) string {
		if len(values) == 0 {
			return ""
		}
		return values[0]
	}

	return Info{
		Country:      first(name.Country),
		State:        first(name.Province),
		Locality:     first(name.Locality),
		Organization: first(name.Organization),
		Unit:         first(name.OrganizationalUnit),
		CommonName:   name.CommonName,
	}
}

// Subject openssl -subj form, empty components are kept as openssl skips them
func (i *Info) Subject() string {
	return "/C=" + i.Country + "/ST=" + i.State + "/L=" + i.Locality + "/O=" + i.Organization + "/OU=" + i.Unit + "/CN=" + i.CommonName
}

// Issuer reference of an existing CA
type Issuer struct {
	Root string `json:"root" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (i Issuer) IsRoot() bool   { return i.Root == i.Name }
func (i Issuer) String() string { return i.Root + "/" + i.Name }
func (i Issuer) ChainName() string {
	if i.IsRoot() {
		return i.Name
	}
	return "ca-chain-" + i.Name
}

// CAConfig create request of root or intermediate CA
type CAConfig struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Secret string `json:"passphrase,omitempty" yaml:"passphrase"` // passphrase of private key, generated if empty
	Days   int    `json:"days,omitempty" yaml:"days" validate:"min=0"`
	Info   Info   `json:"info" yaml:"info" validate:"required"`
}

// Entry registry entry of CA
type Entry struct {
	Root     string `json:"root"`
	Parent   string `json:"parent"`
	Name     string `json:"name"`
	Secret   string `json:"-"`
	OCSPPort int    `json:"ocspPort"`
}

func (e *Entry) IsRoot() bool   { return e.Root == e.Name }
func (e *Entry) Issuer() Issuer { return Issuer{Root: e.Root, Name: e.Name} }

type CertState string

const (
	StateValid   CertState = "V"
	StateRevoked CertState = "R"
	StateExpired CertState = "E"
)

func (s CertState) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	}
	return string(s)
}

// CertificateEntry row of CA revocation ledger
type CertificateEntry struct {
	State          CertState         `json:"state"`
	ExpirationTime string            `json:"expirationtime"`
	RevocationTime string            `json:"revocationtime,omitempty"`
	Serial         string            `json:"serial"`
	Filename       string            `json:"-"`
	Subject        map[string]string `json:"subject"`
	SubjectText    string            `json:"-"`
}

func (c *CertificateEntry) CommonName() string { return c.Subject["CN"] }

type CertificateList struct {
	Certificates []*CertificateEntry `json:"certificates"`
}

// Listing certificates by root and issuer name
type Listing map[string]map[string]*CertificateList

func (l Listing) Add(root, issuer string, entry *CertificateEntry) {
	if _, ok := l[root]; !ok {
		l[root] = map[string]*CertificateList{}
	}
	if _, ok := l[root][issuer]; !ok {
		l[root][issuer] = &CertificateList{Certificates: []*CertificateEntry{}}
	}
	l[root][issuer].Certificates = append(l[root][issuer].Certificates, entry)
}

func (l Listing) Get(issuer Issuer) []*CertificateEntry {
	if cas, ok := l[issuer.Root]; ok {
		if list, ok := cas[issuer.Name]; ok {
			return list.Certificates
		}
	}
	return nil
}

type CertType string

const (
	CertTypeServer CertType = "server"
	CertTypeClient CertType = "client"
)

// Profile extension section of CA config
func (t CertType) Profile() string {
	switch strings.ToLower(string(t)) {
	case "server", "server_cert":
		return ProfileServer
	case "client", "usr_cert":
		return ProfileClient
	}
	return ""
}

const (
	ProfileRoot         = "v3_ca"
	ProfileIntermediate = "v3_intermediate_ca"
	ProfileServer       = "server_cert"
	ProfileClient       = "usr_cert"
	ProfileOCSP         = "ocsp"
)

// KeyPair generated private key and CSR
type KeyPair struct {
	Key []byte `json:"key"`
	CSR []byte `json:"csr"`
}

// CertificatePair generated private key and the certificate signed for it
type CertificatePair struct {
	Key         []byte `json:"key"`
	Certificate []byte `json:"cert"`
}
