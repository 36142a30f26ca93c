package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/whitekid/goxp/fx"

	"capki/authority"
	"capki/authority/ledger"
	"capki/authority/registry"
	"capki/authority/toolchain"
	"capki/authority/types"
	"capki/client/common"
	v1 "capki/client/v1"
	"capki/config"
	"capki/pkg/helper"
	"capki/pkg/helper/x509x"
	"capki/pkg/testutils"
)

var (
	fixtureOnce sync.Once
	fixtureDir  string
)

// testFixture pki having root acme and intermediate acme/acme-web; built once and copied per test
func testFixture(t *testing.T) string {
	fixtureOnce.Do(func() {
		ctx := context.Background()
		dir := testutils.Must1(os.MkdirTemp("", "capki-api-fixture"))
		fixtureDir = filepath.Join(dir, "pki")

		auth, reg := newTestAuthority(t, fixtureDir)
		defer reg.Close()

		info := types.Info{Country: "KR", Organization: "Acme", CommonName: "Acme Root CA"}
		testutils.Must1(auth.CreateRoot(ctx, &types.CAConfig{Name: "acme", Info: info}))

		info.CommonName = "Acme Web CA"
		testutils.Must1(auth.CreateIntermediate(ctx, &types.CAConfig{Name: "acme-web", Info: info}, types.Issuer{Root: "acme", Name: "acme"}))
		testutils.Must(auth.RefreshAllCRLs(ctx))
	})

	dest := filepath.Join(t.TempDir(), "pki")
	testutils.CopyFixtures(context.Background(), dest, fixtureDir)
	testutils.Must1(authority.Relocate(dest))
	return dest
}

func newTestAuthority(t *testing.T, pkidir string) (authority.Interface, authority.Registry) {
	cfg := config.Default(pkidir)
	cfg.KeyBits = 2048

	reg := testutils.Must1(registry.Open(cfg.Registry, cfg.OCSP.Port))
	return authority.New(cfg, reg, toolchain.NewNative()), reg
}

type testServer struct {
	*httptest.Server
	cfg    *config.Config
	client *v1.Client
}

func newTestServer(ctx context.Context, t *testing.T) *testServer {
	pkidir := testFixture(t)
	auth, reg := newTestAuthority(t, pkidir)

	ts := httptest.NewServer(testutils.NewEndpointHandler(New(auth)))
	go func() {
		<-ctx.Done()
		ts.Close()
		reg.Close()
	}()

	return &testServer{
		Server: ts,
		cfg:    config.Default(pkidir),
		client: v1.New(ts.URL + "/api/v1"),
	}
}

// publicCRL resolve CRL distribution point to published file of the test server
func (ts *testServer) publicCRL(url string) ([]byte, error) {
	_, route, _ := strings.Cut(url, "/public/")
	return os.ReadFile(filepath.Join(ts.cfg.PublicDir(), filepath.FromSlash(route)))
}

func TestCA(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestServer(ctx, t)
	svc := ts.client.CA()

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)

	certPEM, err := svc.CreateRoot(ctx, &v1.CAConfig{Name: "beta", Info: v1.Info{CommonName: "Beta Root CA"}})
	require.NoError(t, err)
	cert, err := x509x.ParseCertificate([]byte(certPEM))
	require.NoError(t, err)
	require.Equal(t, "Beta Root CA", cert.Subject.CommonName)

	chainPEM, err := svc.CreateIntermediate(ctx, &v1.IntermediateRequest{
		CA:     v1.CAConfig{Name: "beta-db", Info: v1.Info{CommonName: "Beta DB CA"}},
		Issuer: v1.Issuer{Root: "beta", Name: "beta"},
	})
	require.NoError(t, err)
	chain, err := x509x.ParseCertificateChain([]byte(chainPEM))
	require.NoError(t, err)
	require.Len(t, chain, 2)

	list, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list.Items, 4)

	type args struct {
		root  string
		name  string
		chain bool
	}
	tests := [...]struct {
		name      string
		args      args
		wantCerts int
		wantCode  int
	}{
		{`root`, args{"acme", "acme", false}, 1, http.StatusOK},
		{`intermediate`, args{"acme", "acme-web", false}, 1, http.StatusOK},
		{`chain`, args{"acme", "acme-web", true}, 2, http.StatusOK},
		{`not found`, args{"acme", "beta-db", false}, 0, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Get(ctx, tt.args.root, tt.args.name, tt.args.chain)
			if tt.wantCode != http.StatusOK {
				require.True(t, common.IsStatus(err, tt.wantCode), "error = %v", err)
				return
			}
			require.NoError(t, err)

			certs, err := x509x.ParseCertificateChain(got)
			require.NoError(t, err)
			require.Len(t, certs, tt.wantCerts)
		})
	}
}

func TestCreateCAErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestServer(ctx, t)
	svc := ts.client.CA()

	tests := [...]struct {
		name     string
		create   func() error
		wantCode int
	}{
		{`exists`, func() error {
			_, err := svc.CreateRoot(ctx, &v1.CAConfig{Name: "acme", Info: v1.Info{CommonName: "Acme"}})
			return err
		}, http.StatusConflict},
		{`reserved name`, func() error {
			_, err := svc.CreateRoot(ctx, &v1.CAConfig{Name: "public", Info: v1.Info{CommonName: "Public"}})
			return err
		}, http.StatusBadRequest},
		{`missing common name`, func() error {
			_, err := svc.CreateRoot(ctx, &v1.CAConfig{Name: "beta"})
			return err
		}, http.StatusBadRequest},
		{`unknown issuer`, func() error {
			_, err := svc.CreateIntermediate(ctx, &v1.IntermediateRequest{
				CA:     v1.CAConfig{Name: "beta-db", Info: v1.Info{CommonName: "Beta DB CA"}},
				Issuer: v1.Issuer{Root: "beta", Name: "beta"},
			})
			return err
		}, http.StatusNotFound},
		{`intermediate exists`, func() error {
			_, err := svc.CreateIntermediate(ctx, &v1.IntermediateRequest{
				CA:     v1.CAConfig{Name: "acme-web", Info: v1.Info{CommonName: "Acme Web CA"}},
				Issuer: v1.Issuer{Root: "acme", Name: "acme"},
			})
			return err
		}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.create()
			require.Error(t, err)
			require.True(t, common.IsStatus(err, tt.wantCode), "want %d, error = %v", tt.wantCode, err)
		})
	}
}

// issue certificate, serve TLS with it, revoke and check the TLS client rejects it
func TestCertificateScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestServer(ctx, t)
	certs := ts.client.Certificates()
	issuer := v1.Issuer{Root: "acme", Name: "acme-web"}
	serverName := "www.example.com"

	pair, err := certs.Private(ctx, &v1.PrivateRequest{Bits: 2048, Info: v1.Info{CommonName: serverName, AltNames: []string{serverName}}})
	require.NoError(t, err)
	require.Contains(t, pair.CSR, "CERTIFICATE REQUEST")

	certPEM, err := certs.Sign(ctx, &v1.SignRequest{CSR: pair.CSR, Issuer: issuer, Type: types.CertTypeServer, Lifetime: 365})
	require.NoError(t, err)

	verified, err := certs.Verify(ctx, &v1.VerifyRequest{Certificate: certPEM, Issuer: issuer})
	require.NoError(t, err)
	require.True(t, verified)

	verified, err = certs.Verify(ctx, &v1.VerifyRequest{Certificate: certPEM, Issuer: v1.Issuer{Root: "acme", Name: "acme"}})
	require.NoError(t, err)
	require.False(t, verified)

	text, err := certs.Info(ctx, certPEM)
	require.NoError(t, err)
	require.Contains(t, text, serverName)

	chain, err := ts.client.CA().Get(ctx, "acme", "acme-web", true)
	require.NoError(t, err)

	require.NoError(t, testutils.TestTLSServer(ctx, []byte(certPEM), []byte(pair.Key), chain, serverName, helper.NewCRLVerifier(ts.publicCRL)))

	listing, err := ts.client.ListCertificates(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, listing.Get(issuer))

	revoked, err := certs.Revoke(ctx, &v1.RevokeRequest{Name: serverName, Issuer: issuer})
	require.NoError(t, err)
	require.Equal(t, 1, revoked)

	_, err = certs.Revoke(ctx, &v1.RevokeRequest{Name: serverName, Issuer: issuer})
	require.True(t, common.IsStatus(err, http.StatusNotFound), "error = %v", err)

	err = testutils.TestTLSServer(ctx, []byte(certPEM), []byte(pair.Key), chain, serverName, helper.NewCRLVerifier(ts.publicCRL))
	require.Error(t, err)
	require.Contains(t, err.Error(), helper.ErrCertWasRevoked.Error())
}

func TestRevokeSerial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestServer(ctx, t)
	certs := ts.client.Certificates()
	issuer := v1.Issuer{Root: "acme", Name: "acme-web"}

	pair, err := certs.Private(ctx, &v1.PrivateRequest{Bits: 2048, Info: v1.Info{CommonName: "client"}})
	require.NoError(t, err)
	certPEM, err := certs.Sign(ctx, &v1.SignRequest{CSR: pair.CSR, Issuer: issuer, Type: types.CertTypeClient})
	require.NoError(t, err)
	cert, err := x509x.ParseCertificate([]byte(certPEM))
	require.NoError(t, err)

	ledgerFile := filepath.Join(ts.cfg.PKIDir, "acme", "acme-web", ledger.FileName)
	require.Contains(t, strings.ToUpper(string(testutils.Must1(os.ReadFile(ledgerFile)))), strings.ToUpper(cert.SerialNumber.Text(16)),
		"issued certificate recorded in ledger of the copied tree")

	tests := [...]struct {
		name     string
		issuer   v1.Issuer
		serial   string
		wantCode int
	}{
		{`unknown issuer`, v1.Issuer{Root: "acme", Name: "acme-db"}, cert.SerialNumber.Text(16), http.StatusNotFound},
		{`valid`, issuer, cert.SerialNumber.Text(16), http.StatusOK},
		{`already revoked`, issuer, cert.SerialNumber.Text(16), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := certs.RevokeSerial(ctx, tt.issuer, tt.serial)
			if tt.wantCode == http.StatusOK {
				require.NoError(t, err)
				return
			}
			require.True(t, common.IsStatus(err, tt.wantCode), "want %d, error = %v", tt.wantCode, err)
		})
	}

	require.NoError(t, ts.client.RefreshCRL(ctx))

	crl, err := x509x.ParseCRL(testutils.Must1(os.ReadFile(filepath.Join(ts.cfg.PublicDir(), "acme", "acme-web", "acme-web.crl.pem"))))
	require.NoError(t, err)
	require.Len(t, crl.RevokedCertificates, 1)
}

func TestSignInvalid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestServer(ctx, t)
	certs := ts.client.Certificates()

	tests := [...]struct {
		name     string
		req      *v1.SignRequest
		wantCode int
	}{
		{`no csr`, &v1.SignRequest{Issuer: v1.Issuer{Root: "acme", Name: "acme-web"}}, http.StatusBadRequest},
		{`invalid type`, &v1.SignRequest{CSR: "csr", Type: "code", Issuer: v1.Issuer{Root: "acme", Name: "acme-web"}}, http.StatusBadRequest},
		{`no issuer`, &v1.SignRequest{CSR: "csr"}, http.StatusBadRequest},
		{`unknown issuer`, &v1.SignRequest{CSR: "csr", Issuer: v1.Issuer{Root: "acme", Name: "acme-db"}}, http.StatusNotFound},
		{`invalid csr`, &v1.SignRequest{CSR: "csr", Issuer: v1.Issuer{Root: "acme", Name: "acme-web"}}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := certs.Sign(ctx, tt.req)
			require.True(t, common.IsStatus(err, tt.wantCode), "want %d, error = %v", tt.wantCode, err)
		})
	}
}

func TestCertificatePair(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestServer(ctx, t)
	certs := ts.client.Certificates()
	issuer := v1.Issuer{Root: "acme", Name: "acme-web"}
	info := v1.Info{CommonName: "api.example.com", AltNames: []string{"api.example.com"}}

	tests := [...]struct {
		name     string
		req      *v1.PairRequest
		wantCode int
	}{
		{`server`, &v1.PairRequest{Bits: 2048, Info: info, Issuer: issuer}, http.StatusCreated},
		{`client`, &v1.PairRequest{Bits: 2048, Info: v1.Info{CommonName: "alice"}, Issuer: issuer, Type: types.CertTypeClient, Lifetime: 30}, http.StatusCreated},
		{`no issuer`, &v1.PairRequest{Bits: 2048, Info: info}, http.StatusBadRequest},
		{`invalid type`, &v1.PairRequest{Bits: 2048, Info: info, Issuer: issuer, Type: "code"}, http.StatusBadRequest},
		{`unknown issuer`, &v1.PairRequest{Bits: 2048, Info: info, Issuer: v1.Issuer{Root: "acme", Name: "acme-db"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := certs.Pair(ctx, tt.req)
			if tt.wantCode != http.StatusCreated {
				require.True(t, common.IsStatus(err, tt.wantCode), "want %d, error = %v", tt.wantCode, err)
				return
			}
			require.NoError(t, err)
			require.Contains(t, pair.Key, "PRIVATE KEY")

			cert, err := x509x.ParseCertificate([]byte(pair.Certificate))
			require.NoError(t, err)
			require.Equal(t, tt.req.Info.CommonName, cert.Subject.CommonName)

			verified, err := certs.Verify(ctx, &v1.VerifyRequest{Certificate: pair.Certificate, Issuer: issuer})
			require.NoError(t, err)
			require.True(t, verified)
		})
	}

	chain, err := ts.client.CA().Get(ctx, "acme", "acme-web", true)
	require.NoError(t, err)

	pair, err := certs.Pair(ctx, tests[0].req)
	require.NoError(t, err)
	require.NoError(t, testutils.TestTLSServer(ctx, []byte(pair.Certificate), []byte(pair.Key), chain, "api.example.com", helper.NewCRLVerifier(ts.publicCRL)))
}

func TestImportCA(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestServer(ctx, t)
	ca := ts.client.CA()

	_, err := ca.CreateRoot(ctx, &v1.CAConfig{Name: "beta", Secret: "betapass", Info: v1.Info{Country: "KR", Organization: "Beta", CommonName: "Beta Root CA"}})
	require.NoError(t, err)

	key := string(testutils.Must1(os.ReadFile(filepath.Join(ts.cfg.PKIDir, "beta", "beta.key.pem"))))
	cert := string(testutils.Must1(os.ReadFile(filepath.Join(ts.cfg.PKIDir, "beta", "beta.cert.pem"))))

	tests := [...]struct {
		name     string
		req      *v1.ImportRequest
		wantCode int
	}{
		{`no key`, &v1.ImportRequest{Name: "gamma", Passphrase: "betapass", Certificate: cert}, http.StatusBadRequest},
		{`invalid certificate`, &v1.ImportRequest{Name: "gamma", Passphrase: "betapass", Key: key, Certificate: "cert"}, http.StatusBadRequest},
		{`invalid name`, &v1.ImportRequest{Name: "../gamma", Passphrase: "betapass", Key: key, Certificate: cert}, http.StatusBadRequest},
		{`unknown issuer`, &v1.ImportRequest{Name: "gamma", Passphrase: "betapass", Key: key, Certificate: cert, Issuer: &v1.Issuer{Root: "acme", Name: "acme-db"}}, http.StatusNotFound},
		{`root`, &v1.ImportRequest{Name: "gamma", Passphrase: "betapass", Key: key, Certificate: cert}, http.StatusCreated},
		{`exists`, &v1.ImportRequest{Name: "gamma", Passphrase: "betapass", Key: key, Certificate: cert}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ca.Import(ctx, tt.req)
			if tt.wantCode != http.StatusCreated {
				require.True(t, common.IsStatus(err, tt.wantCode), "want %d, error = %v", tt.wantCode, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, cert, got)
		})
	}

	list, err := ca.List(ctx)
	require.NoError(t, err)
	require.Contains(t, fx.Map(list.Items, func(e *v1.CA) string { return e.Name }), "gamma")
}
