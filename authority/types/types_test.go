package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssuer(t *testing.T) {
	type args struct {
		issuer Issuer
	}
	tests := [...]struct {
		name          string
		args          args
		wantRoot      bool
		wantChainName string
	}{
		{`root`, args{Issuer{Root: "acme", Name: "acme"}}, true, "acme"},
		{`intermediate`, args{Issuer{Root: "acme", Name: "acme-web"}}, false, "ca-chain-acme-web"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantRoot, tt.args.issuer.IsRoot())
			require.Equal(t, tt.wantChainName, tt.args.issuer.ChainName())
		})
	}
}

func TestCertTypeProfile(t *testing.T) {
	require.Equal(t, ProfileServer, CertTypeServer.Profile())
	require.Equal(t, ProfileClient, CertTypeClient.Profile())
	require.Equal(t, ProfileServer, CertType("server_cert").Profile())
	require.Equal(t, "", CertType("ca").Profile())
}

func TestInfo(t *testing.T) {
	info := &Info{Country: "KR", Organization: "Acme", CommonName: "acme-web"}
	require.Equal(t, "/C=KR/ST=/L=/O=Acme/OU=/CN=acme-web", info.Subject())

	name := info.Name()
	require.Equal(t, []string{"KR"}, name.Country)
	require.Empty(t, name.Province)
	require.Equal(t, "acme-web", name.CommonName)
}

func TestListing(t *testing.T) {
	l := Listing{}
	l.Add("acme", "acme-web", &CertificateEntry{Serial: "1000"})
	l.Add("acme", "acme-web", &CertificateEntry{Serial: "1001"})

	require.Len(t, l.Get(Issuer{Root: "acme", Name: "acme-web"}), 2)
	require.Nil(t, l.Get(Issuer{Root: "acme", Name: "acme-mail"}))
	require.Nil(t, l.Get(Issuer{Root: "other", Name: "acme-web"}))
}
