package x509x

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptedPrivateKey(t *testing.T) {
	key, err := GenerateRSAKey(1024)
	require.NoError(t, err)

	type args struct {
		passphrase string
		parseWith  string
	}
	tests := [...]struct {
		name    string
		args    args
		wantErr bool
	}{
		{`clear`, args{"", ""}, false},
		{`encrypted`, args{"secret", "secret"}, false},
		{`wrong passphrase`, args{"secret", "guess"}, true},
		{`missing passphrase`, args{"secret", ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pemBytes, err := EncodeRSAPrivateKeyToPEM(key, tt.args.passphrase)
			require.NoError(t, err)

			got, err := ParseEncryptedPrivateKey(pemBytes, tt.args.parseWith)
			require.Truef(t, (err != nil) == tt.wantErr, `ParseEncryptedPrivateKey() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			if tt.wantErr {
				return
			}

			require.True(t, key.Equal(got))
		})
	}
}

func TestGenerateKey(t *testing.T) {
	for _, algorithm := range []x509.SignatureAlgorithm{x509.ECDSAWithSHA256, x509.PureEd25519} {
		key, err := GenerateKey(algorithm)
		require.NoError(t, err)

		pemBytes, err := EncodePrivateKeyToPEM(key)
		require.NoError(t, err)
		require.NotEmpty(t, pemBytes)
	}

	_, err := GenerateKey(x509.MD5WithRSA)
	require.Error(t, err)
}

func TestFormatDN(t *testing.T) {
	type args struct {
		name pkix.Name
	}
	tests := [...]struct {
		name string
		args args
		want string
	}{
		{`full`, args{pkix.Name{
			Country:            []string{"KR"},
			Province:           []string{"Seoul"},
			Locality:           []string{"Gangnam"},
			Organization:       []string{"Acme"},
			OrganizationalUnit: []string{"IT"},
			CommonName:         "acme-web",
		}}, "/C=KR/ST=Seoul/L=Gangnam/O=Acme/OU=IT/CN=acme-web"},
		{`cn only`, args{pkix.Name{CommonName: "www.example.com"}}, "/CN=www.example.com"},
		{`empty`, args{pkix.Name{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatDN(tt.args.name)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseDN(t *testing.T) {
	got := ParseDN("/C=DE/ST=Germany/O=ADITO Software GmbH/OU=IT/CN=ADITO General Intermediate CA/emailAddress=it@adito.de")
	require.Equal(t, map[string]string{
		"C":            "DE",
		"ST":           "Germany",
		"O":            "ADITO Software GmbH",
		"OU":           "IT",
		"CN":           "ADITO General Intermediate CA",
		"emailAddress": "it@adito.de",
	}, got)

	require.Empty(t, ParseDN(""))
}

func TestKeyUsageToStr(t *testing.T) {
	got := KeyUsageToStr(x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature)
	require.Equal(t, []string{"Digital Signature", "Certificate Sign", "CRL Sign"}, got)
}
