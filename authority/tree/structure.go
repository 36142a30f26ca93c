package tree

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"text/template"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"

	"capki/authority/ledger"
	"capki/authority/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

const (
	ConfigFile    = "openssl.cnf"
	SerialFile    = "serial"
	CRLNumberFile = "crlnumber"
	CertsDir      = "certs"
	CRLDir        = "crl"
	OCSPDir       = "ocsp"

	// InitialSerial initial value of serial and crlnumber
	InitialSerial = "1000"
)

// Layout file names of one CA directory
type Layout struct {
	Dir  string
	Name string
}

func (l Layout) KeyFile() string       { return filepath.Join(l.Dir, l.Name+".key.pem") }
func (l Layout) CertFile() string      { return filepath.Join(l.Dir, l.Name+".cert.pem") }
func (l Layout) CSRFile() string       { return filepath.Join(l.Dir, l.Name+".csr.pem") }
func (l Layout) ChainFile() string     { return filepath.Join(l.Dir, ChainFileName(l.Name)) }
func (l Layout) ConfigFile() string    { return filepath.Join(l.Dir, ConfigFile) }
func (l Layout) LedgerFile() string    { return filepath.Join(l.Dir, ledger.FileName) }
func (l Layout) SerialFile() string    { return filepath.Join(l.Dir, SerialFile) }
func (l Layout) CRLNumberFile() string { return filepath.Join(l.Dir, CRLNumberFile) }
func (l Layout) CRLFile() string       { return filepath.Join(l.Dir, CRLDir, "crl.pem") }
func (l Layout) CertsDir() string      { return filepath.Join(l.Dir, CertsDir) }
func (l Layout) OCSPDir() string       { return filepath.Join(l.Dir, OCSPDir) }

func CertFileName(name string) string  { return name + ".cert.pem" }
func ChainFileName(name string) string { return "ca-chain-" + name + ".cert.pem" }
func CRLFileName(name string) string   { return name + ".crl.pem" }

type templateData struct {
	BaseDir string
	Name    string
	Days    int
	Info    types.Info
	OCSPURL string
	CRLURL  string
}

// CreateRootStructure prepare directory of root CA
func CreateRootStructure(layout Layout, days int, info types.Info) error {
	log.Debugf("create root CA structure: %s", layout.Dir)

	if err := createCommon(layout); err != nil {
		return errors.Wrap(err, "fail to create root structure")
	}

	if err := render(layout.ConfigFile(), "openssl_root.cnf.tmpl", &templateData{
		BaseDir: layout.Dir,
		Name:    layout.Name,
		Days:    days,
		Info:    info,
	}); err != nil {
		return errors.Wrap(err, "fail to create root structure")
	}

	return nil
}

// CreateIntermediateStructure prepare directory of intermediate CA
func CreateIntermediateStructure(layout Layout, days int, info types.Info, ocspURL, crlURL string) error {
	log.Debugf("create intermediate CA structure: %s", layout.Dir)

	if err := createCommon(layout); err != nil {
		return errors.Wrap(err, "fail to create intermediate structure")
	}

	if err := os.WriteFile(layout.CRLNumberFile(), []byte(InitialSerial), 0o644); err != nil {
		return errors.Wrap(err, "fail to create intermediate structure")
	}

	if err := render(layout.ConfigFile(), "openssl_intermediate.cnf.tmpl", &templateData{
		BaseDir: layout.Dir,
		Name:    layout.Name,
		Days:    days,
		Info:    info,
		OCSPURL: ocspURL,
		CRLURL:  crlURL,
	}); err != nil {
		return errors.Wrap(err, "fail to create intermediate structure")
	}

	return nil
}

// CreateOCSPStructure prepare ocsp responder directory
func CreateOCSPStructure(dir string, info types.Info) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "fail to create ocsp structure")
	}

	if err := render(filepath.Join(dir, ConfigFile), "openssl_ocsp.cnf.tmpl", &templateData{Info: info}); err != nil {
		return errors.Wrap(err, "fail to create ocsp structure")
	}

	return nil
}

func createCommon(layout Layout) error {
	for _, dir := range []string{layout.Dir, layout.CertsDir(), filepath.Join(layout.Dir, CRLDir)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	if err := os.WriteFile(layout.LedgerFile(), nil, 0o644); err != nil {
		return err
	}

	return os.WriteFile(layout.SerialFile(), []byte(InitialSerial), 0o644)
}

func render(name, tmpl string, data *templateData) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, tmpl, data); err != nil {
		return err
	}

	return os.WriteFile(name, buf.Bytes(), 0o600)
}

var dirPattern = regexp.MustCompile(`(?m)^(dir[ \t]*=[ \t]*)(.*)$`)

// Relocate point `dir` of every CA openssl.cnf under pkidir to the directory holding it,
// after pkidir was moved or copied. Returns rewritten config files.
func Relocate(pkidir string) ([]string, error) {
	rewritten := []string{}

	err := filepath.WalkDir(pkidir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ConfigFile {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		m := dirPattern.FindSubmatch(data)
		want := filepath.Dir(path)
		if m == nil || string(bytes.TrimSpace(m[2])) == want {
			return nil
		}

		log.Infof("relocate %s: %s -> %s", path, bytes.TrimSpace(m[2]), want)
		data = dirPattern.ReplaceAllFunc(data, func(line []byte) []byte {
			key := dirPattern.FindSubmatch(line)[1]
			return append(append([]byte{}, key...), want...)
		})
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		rewritten = append(rewritten, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "fail to relocate pki")
	}

	return rewritten, nil
}
