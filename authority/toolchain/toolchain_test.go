package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"capki/authority/ledger"
	"capki/authority/tree"
	"capki/authority/types"
	"capki/pkg/helper/x509x"
	"capki/pkg/testutils"
)

const testKeyBits = 2048

func forEachToolchain(t *testing.T, fn func(t *testing.T, tc Interface)) {
	t.Run(Native, func(t *testing.T) { fn(t, NewNative()) })
	t.Run(OpenSSL, func(t *testing.T) {
		if _, err := exec.LookPath("openssl"); err != nil {
			t.Skip("openssl not found")
		}
		fn(t, NewOpenSSL(""))
	})
}

type testHierarchy struct {
	root         tree.Layout
	intermediate tree.Layout
}

func newTestHierarchy(ctx context.Context, t *testing.T, tc Interface) *testHierarchy {
	base := t.TempDir()
	h := &testHierarchy{
		root:         tree.Layout{Dir: filepath.Join(base, "acme"), Name: "acme"},
		intermediate: tree.Layout{Dir: filepath.Join(base, "acme", "acme-web"), Name: "acme-web"},
	}

	rootInfo := types.Info{Country: "KR", Organization: "Acme", CommonName: "acme"}
	require.NoError(t, tree.CreateRootStructure(h.root, 3650, rootInfo))
	require.NoError(t, tc.GenerateKey(ctx, h.root.Name, "rootpass", testKeyBits, h.root.Dir))
	require.NoError(t, tc.SelfSign(ctx, h.root.Name, 3650, "rootpass", h.root.Dir))

	info := types.Info{Country: "KR", Organization: "Acme", CommonName: "acme-web"}
	require.NoError(t, tree.CreateIntermediateStructure(h.intermediate, 3650, info, "http://localhost:2561", "https://localhost:8080/public/acme/acme-web.crl.pem"))
	require.NoError(t, tc.GenerateKey(ctx, h.intermediate.Name, "webpass", testKeyBits, h.intermediate.Dir))
	require.NoError(t, tc.CreateCSR(ctx, &info, h.intermediate.Name, "webpass", h.intermediate.Dir))
	require.NoError(t, tc.Sign(ctx, &SignRequest{
		ConfigPath: h.root.ConfigFile(),
		Profile:    types.ProfileIntermediate,
		Passphrase: "rootpass",
		CSRName:    h.intermediate.Name,
		CertName:   h.intermediate.Name,
		Days:       3650,
		Dir:        h.intermediate.Dir,
	}))

	chain := append(testutils.Must1(os.ReadFile(h.intermediate.CertFile())), testutils.Must1(os.ReadFile(h.root.CertFile()))...)
	require.NoError(t, os.WriteFile(h.intermediate.ChainFile(), chain, 0o644))

	return h
}

func TestHierarchy(t *testing.T) {
	forEachToolchain(t, func(t *testing.T, tc Interface) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newTestHierarchy(ctx, t, tc)

		rootCert, err := x509x.ParseCertificate(testutils.Must1(os.ReadFile(h.root.CertFile())))
		require.NoError(t, err)
		require.True(t, rootCert.IsCA)
		require.Equal(t, "acme", rootCert.Subject.CommonName)
		require.Equal(t, rootCert.RawSubject, rootCert.RawIssuer)

		cert, err := x509x.ParseCertificate(testutils.Must1(os.ReadFile(h.intermediate.CertFile())))
		require.NoError(t, err)
		require.True(t, cert.IsCA)
		require.Equal(t, "acme", cert.Issuer.CommonName)
		require.Empty(t, cert.OCSPServer, "root profile has no AIA")
		require.NoError(t, cert.CheckSignatureFrom(rootCert))

		// root ledger records the intermediate
		entries, err := (&ledger.Parser{}).ParseFile(h.root.LedgerFile())
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, types.StateValid, entries[0].State)
		require.Equal(t, "1000", entries[0].Serial)
		require.Equal(t, "acme-web", entries[0].CommonName())

		_, err = os.Stat(filepath.Join(h.root.CertsDir(), "1000.pem"))
		require.NoError(t, err)

		serial, err := os.ReadFile(h.root.SerialFile())
		require.NoError(t, err)
		require.Equal(t, "1001", strings.TrimSpace(string(serial)))

		text, err := tc.Read(ctx, h.intermediate.CertFile(), h.intermediate.Dir)
		require.NoError(t, err)
		require.Contains(t, text, "acme-web")
	})
}

func TestSignAndVerify(t *testing.T) {
	forEachToolchain(t, func(t *testing.T, tc Interface) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newTestHierarchy(ctx, t, tc)
		scratch := t.TempDir()

		info := &types.Info{CommonName: "www.example.com", AltNames: []string{"www.example.com", "example.com"}, IPAddresses: []string{"127.0.0.1"}}
		require.NoError(t, tc.GenerateKey(ctx, "request", "", testKeyBits, scratch))
		require.NoError(t, tc.CreateCSR(ctx, info, "request", "", scratch))
		require.NoError(t, tc.Sign(ctx, &SignRequest{
			ConfigPath: h.intermediate.ConfigFile(),
			Profile:    types.ProfileServer,
			Passphrase: "webpass",
			CSRName:    "request",
			CertName:   "temp",
			Days:       365,
			Dir:        scratch,
		}))

		cert, err := x509x.ParseCertificate(testutils.Must1(os.ReadFile(filepath.Join(scratch, "temp.cert.pem"))))
		require.NoError(t, err)
		require.False(t, cert.IsCA)
		require.ElementsMatch(t, []string{"www.example.com", "example.com"}, cert.DNSNames)
		require.Len(t, cert.IPAddresses, 1)
		require.Equal(t, []string{"https://localhost:8080/public/acme/acme-web.crl.pem"}, cert.CRLDistributionPoints)
		require.Equal(t, []string{"http://localhost:2561"}, cert.OCSPServer)

		require.NoError(t, os.Rename(filepath.Join(scratch, "temp.cert.pem"), filepath.Join(h.intermediate.Dir, "www.cert.pem")))
		require.NoError(t, tc.Verify(ctx, "ca-chain-acme-web", "www.cert.pem", h.intermediate.Dir))

		// signed by other hierarchy
		other := newTestHierarchy(ctx, t, tc)
		require.NoError(t, os.WriteFile(filepath.Join(other.intermediate.Dir, "www.cert.pem"), testutils.Must1(os.ReadFile(filepath.Join(h.intermediate.Dir, "www.cert.pem"))), 0o644))
		err = tc.Verify(ctx, "ca-chain-acme-web", "www.cert.pem", other.intermediate.Dir)
		require.Error(t, err)
		require.True(t, IsToolchainError(err))
	})
}

func TestSignWrongPassphrase(t *testing.T) {
	forEachToolchain(t, func(t *testing.T, tc Interface) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newTestHierarchy(ctx, t, tc)
		scratch := t.TempDir()

		require.NoError(t, tc.GenerateKey(ctx, "request", "", testKeyBits, scratch))
		require.NoError(t, tc.CreateCSR(ctx, &types.Info{CommonName: "client"}, "request", "", scratch))
		err := tc.Sign(ctx, &SignRequest{
			ConfigPath: h.intermediate.ConfigFile(),
			Profile:    types.ProfileClient,
			Passphrase: "wrong",
			CSRName:    "request",
			CertName:   "temp",
			Days:       365,
			Dir:        scratch,
		})
		require.Error(t, err)
		require.True(t, IsToolchainError(err))

		_, err = os.Stat(filepath.Join(scratch, "temp.cert.pem"))
		require.True(t, os.IsNotExist(err))
	})
}

func TestRevokeAndCRL(t *testing.T) {
	forEachToolchain(t, func(t *testing.T, tc Interface) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newTestHierarchy(ctx, t, tc)

		updated, err := tc.GenerateCRL(ctx, "webpass", h.intermediate.ConfigFile(), h.intermediate.Dir)
		require.NoError(t, err)
		require.True(t, updated)

		crl, err := x509x.ParseCRL(testutils.Must1(os.ReadFile(h.intermediate.CRLFile())))
		require.NoError(t, err)
		require.Empty(t, crl.RevokedCertificates)

		scratch := t.TempDir()
		require.NoError(t, tc.GenerateKey(ctx, "request", "", testKeyBits, scratch))
		require.NoError(t, tc.CreateCSR(ctx, &types.Info{CommonName: "client"}, "request", "", scratch))
		require.NoError(t, tc.Sign(ctx, &SignRequest{
			ConfigPath: h.intermediate.ConfigFile(),
			Profile:    types.ProfileClient,
			Passphrase: "webpass",
			CSRName:    "request",
			CertName:   "temp",
			Days:       365,
			Dir:        scratch,
		}))

		require.NoError(t, tc.Revoke(ctx, "1000", "webpass", h.intermediate.Dir))

		entries, err := (&ledger.Parser{}).ParseFile(h.intermediate.LedgerFile())
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, types.StateRevoked, entries[0].State)
		require.NotEmpty(t, entries[0].RevocationTime)

		err = tc.Revoke(ctx, "1000", "webpass", h.intermediate.Dir)
		require.Error(t, err, "already revoked")

		updated, err = tc.GenerateCRL(ctx, "webpass", h.intermediate.ConfigFile(), h.intermediate.Dir)
		require.NoError(t, err)
		require.True(t, updated)

		crl, err = x509x.ParseCRL(testutils.Must1(os.ReadFile(h.intermediate.CRLFile())))
		require.NoError(t, err)
		require.Len(t, crl.RevokedCertificates, 1)
		require.Equal(t, int64(0x1000), crl.RevokedCertificates[0].SerialNumber.Int64())
	})
}

func TestGenerateCRLFailure(t *testing.T) {
	forEachToolchain(t, func(t *testing.T, tc Interface) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newTestHierarchy(ctx, t, tc)

		updated, err := tc.GenerateCRL(ctx, "wrong", h.intermediate.ConfigFile(), h.intermediate.Dir)
		require.Error(t, err)
		require.False(t, updated)
		require.True(t, IsToolchainError(err))
	})
}

func TestNew(t *testing.T) {
	tests := [...]struct {
		name    string
		wantErr bool
	}{
		{"openssl", false},
		{"native", false},
		{"NATIVE", false},
		{"gnutls", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.name, "")
			require.Truef(t, (err != nil) == tt.wantErr, `New() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			if !tt.wantErr {
				require.NotNil(t, got)
			}
		})
	}
}

func TestRevokeKeepsOtherRows(t *testing.T) {
	forEachToolchain(t, func(t *testing.T, tc Interface) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newTestHierarchy(ctx, t, tc)

		scratch := t.TempDir()
		require.NoError(t, tc.GenerateKey(ctx, "request", "", testKeyBits, scratch))
		for _, cn := range []string{"alice", "bob", "carol"} {
			require.NoError(t, tc.CreateCSR(ctx, &types.Info{CommonName: cn}, "request", "", scratch))
			require.NoError(t, tc.Sign(ctx, &SignRequest{
				ConfigPath: h.intermediate.ConfigFile(),
				Profile:    types.ProfileClient,
				Passphrase: "webpass",
				CSRName:    "request",
				CertName:   cn,
				Days:       365,
				Dir:        scratch,
			}))
		}

		require.NoError(t, tc.Revoke(ctx, "1001", "webpass", h.intermediate.Dir))

		entries, err := (&ledger.Parser{}).ParseFile(h.intermediate.LedgerFile())
		require.NoError(t, err)

		tests := [...]struct {
			serial string
			state  types.CertState
			cn     string
		}{
			{"1000", types.StateValid, "alice"},
			{"1001", types.StateRevoked, "bob"},
			{"1002", types.StateValid, "carol"},
		}
		require.Len(t, entries, len(tests))
		for i, tt := range tests {
			require.Equal(t, tt.serial, entries[i].Serial)
			require.Equal(t, tt.state, entries[i].State)
			require.Equal(t, tt.cn, entries[i].CommonName())
		}
		require.Empty(t, entries[0].RevocationTime)
		require.NotEmpty(t, entries[1].RevocationTime)
	})
}
