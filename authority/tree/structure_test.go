package tree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"capki/authority/types"
)

func TestCreateRootStructure(t *testing.T) {
	layout := Layout{Dir: filepath.Join(t.TempDir(), "acme"), Name: "acme"}
	info := types.Info{Country: "KR", Organization: "Acme", CommonName: "Acme Root CA"}

	require.NoError(t, CreateRootStructure(layout, 3650, info))

	for _, name := range []string{layout.LedgerFile(), layout.SerialFile(), layout.ConfigFile(), layout.CertsDir()} {
		_, err := os.Stat(name)
		require.NoError(t, err)
	}

	_, err := os.Stat(layout.CRLNumberFile())
	require.True(t, os.IsNotExist(err), "root CA has no crlnumber")

	serial, err := os.ReadFile(layout.SerialFile())
	require.NoError(t, err)
	require.Equal(t, InitialSerial, string(serial))

	cnf, err := os.ReadFile(layout.ConfigFile())
	require.NoError(t, err)
	require.Contains(t, string(cnf), "dir               = "+layout.Dir)
	require.Contains(t, string(cnf), "default_days      = 3650")
	require.Contains(t, string(cnf), "commonName                      = Acme Root CA")
	require.Contains(t, string(cnf), "countryName                     = KR")
}

func TestCreateIntermediateStructure(t *testing.T) {
	layout := Layout{Dir: filepath.Join(t.TempDir(), "acme", "acme-web"), Name: "acme-web"}
	info := types.Info{Country: "KR", CommonName: "Acme Web CA"}

	require.NoError(t, CreateIntermediateStructure(layout, 1825, info, "http://ocsp.example.com:2561", "https://crl.example.com:443/public/acme/acme-web/acme-web.crl.pem"))

	crlnumber, err := os.ReadFile(layout.CRLNumberFile())
	require.NoError(t, err)
	require.Equal(t, InitialSerial, string(crlnumber))

	cnf, err := os.ReadFile(layout.ConfigFile())
	require.NoError(t, err)
	require.Contains(t, string(cnf), "authorityInfoAccess = OCSP;URI:http://ocsp.example.com:2561")
	require.Contains(t, string(cnf), "crlDistributionPoints = URI:https://crl.example.com:443/public/acme/acme-web/acme-web.crl.pem")
	require.Contains(t, string(cnf), "private_key       = $dir/acme-web.key.pem")
}

func TestLayout(t *testing.T) {
	layout := Layout{Dir: "/pki/acme/acme-web", Name: "acme-web"}

	require.Equal(t, "/pki/acme/acme-web/acme-web.cert.pem", layout.CertFile())
	require.Equal(t, "/pki/acme/acme-web/ca-chain-acme-web.cert.pem", layout.ChainFile())
	require.Equal(t, "/pki/acme/acme-web/crl/crl.pem", layout.CRLFile())
	require.Equal(t, "/pki/acme/acme-web/ocsp", layout.OCSPDir())
}

func TestRelocate(t *testing.T) {
	src := filepath.Join(t.TempDir(), "pki")
	root := Layout{Dir: filepath.Join(src, "acme"), Name: "acme"}
	inter := Layout{Dir: filepath.Join(root.Dir, "acme-web"), Name: "acme-web"}
	info := types.Info{CommonName: "Acme CA"}

	require.NoError(t, CreateRootStructure(root, 3650, info))
	require.NoError(t, CreateIntermediateStructure(inter, 1825, info, "http://localhost:2561", "https://localhost/public/acme/acme-web/acme-web.crl.pem"))
	require.NoError(t, CreateOCSPStructure(inter.OCSPDir(), info))

	dest := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.Rename(src, dest))

	rewritten, err := Relocate(dest)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		filepath.Join(dest, "acme", ConfigFile),
		filepath.Join(dest, "acme", "acme-web", ConfigFile),
	}, rewritten)

	for _, dir := range []string{filepath.Join(dest, "acme"), filepath.Join(dest, "acme", "acme-web")} {
		cnf, err := os.ReadFile(filepath.Join(dir, ConfigFile))
		require.NoError(t, err)
		require.Contains(t, string(cnf), "dir               = "+dir+"\n")
		require.NotContains(t, string(cnf), src)
	}

	rewritten, err = Relocate(dest)
	require.NoError(t, err)
	require.Empty(t, rewritten, "already relocated")
}
