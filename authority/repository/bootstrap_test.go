package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"capki/authority/types"
	"capki/pkg/helper/x509x"
	"capki/pkg/testutils"
)

const testPlan = `
ca:
  roots:
    acme:
      passphrase: rootpass
      days: 3650
      country: KR
      organization: Acme
      commonname: Acme Root CA
      issued:
        - name: acme-web
          passphrase: webpass
          commonname: Acme Web CA
          issued:
            - name: acme-web-eu
              commonname: Acme Web EU CA
    other:
      commonname: Other Root CA
server:
  commonname: pki.example.com
  altNames: [pki.example.com, localhost]
  altIps: [127.0.0.1]
  issuer: {root: acme, name: acme-web}
  certificate:
    name: api
    lifetime: 90
    directory: api
`

func writeTestPlan(t *testing.T) *Plan {
	name := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(name, []byte(testPlan), 0o644))

	plan, err := LoadPlan(name)
	require.NoError(t, err)
	return plan
}

func TestLoadPlan(t *testing.T) {
	plan := writeTestPlan(t)

	require.Len(t, plan.CA.Roots, 2)
	acme := plan.CA.Roots["acme"]
	require.Equal(t, "rootpass", acme.Passphrase)
	require.Equal(t, 3650, acme.Days)
	require.Len(t, acme.Issued, 1)
	require.Equal(t, "acme-web", acme.Issued[0].Name)
	require.Equal(t, "acme-web-eu", acme.Issued[0].Issued[0].Name)

	require.Equal(t, types.Issuer{Root: "acme", Name: "acme-web"}, plan.Server.Issuer)
	require.Equal(t, []string{"127.0.0.1"}, plan.Server.AltIPs)
	require.Equal(t, 90, plan.Server.Certificate.Lifetime)

	_, err := LoadPlan(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newTestRepository(t, nil)
	plan := writeTestPlan(t)

	created, err := repo.Bootstrap(ctx, plan)
	require.NoError(t, err)
	require.True(t, created)

	entries, err := repo.ListCAs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	entry, err := repo.registry.Lookup(ctx, "acme", "acme-web")
	require.NoError(t, err)
	require.Equal(t, "webpass", entry.Secret)

	entry, err = repo.registry.Lookup(ctx, "acme", "acme-web-eu")
	require.NoError(t, err)
	require.Equal(t, "acme-web", entry.Parent)

	_, err = os.Stat(repo.cfg.CreatedMarker())
	require.NoError(t, err)

	cert, err := x509x.ParseCertificate(testutils.Must1(os.ReadFile(filepath.Join(repo.cfg.PKIDir, "api", "api.cert.pem"))))
	require.NoError(t, err)
	require.Equal(t, "pki.example.com", cert.Subject.CommonName)
	require.Equal(t, "Acme Web CA", cert.Issuer.CommonName)
	require.Equal(t, []string{"pki.example.com", "localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 90), cert.NotAfter, 2*24*time.Hour)

	_, err = x509x.ParsePrivateKey(testutils.Must1(os.ReadFile(filepath.Join(repo.cfg.PKIDir, "api", "api.key.pem"))))
	require.NoError(t, err)

	// second run does nothing
	created, err = repo.Bootstrap(ctx, plan)
	require.NoError(t, err)
	require.False(t, created)

	entries, err = repo.ListCAs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
}

func TestBootstrapResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newTestRepository(t, nil)
	plan := writeTestPlan(t)

	// interrupted before marker was written
	_, err := repo.CreateRoot(ctx, &types.CAConfig{Name: "acme", Secret: "rootpass", Info: plan.CA.Roots["acme"].info("Acme Root CA")})
	require.NoError(t, err)

	created, err := repo.Bootstrap(ctx, plan)
	require.NoError(t, err)
	require.True(t, created)

	entries, err := repo.ListCAs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)
}

func TestBootstrapUnknownServerIssuer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newTestRepository(t, nil)
	plan := writeTestPlan(t)
	plan.Server.Issuer = types.Issuer{Root: "acme", Name: "acme-db"}

	created, err := repo.Bootstrap(ctx, plan)
	require.ErrorIs(t, err, ErrUnknownIssuer)
	require.False(t, created)

	_, err = os.Stat(repo.cfg.CreatedMarker())
	require.True(t, os.IsNotExist(err))
}
