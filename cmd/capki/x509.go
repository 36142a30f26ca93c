package main

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/whitekid/goxp/fx"

	"capki/pkg/helper"
	"capki/pkg/helper/x509x"
)

var x509cmd *cobra.Command

func init() {
	x509cmd = &cobra.Command{
		Use:   "x509",
		Short: "local x509 utility commands",
	}
	rootCmd.AddCommand(x509cmd)
}

// forEachFile run fn for every file argument, - reads stdin
func forEachFile(fn func(name string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			if err := fn(arg); err != nil {
				return errors.Wrapf(err, "%s", arg)
			}
		}
		return nil
	}
}

type subjectInfo struct {
	DN           string `json:",omitempty"`
	CommonName   string `json:",omitempty"`
	SerialNumber string `json:",omitempty"`
}

func newSubjectInfo(name pkix.Name) subjectInfo {
	return subjectInfo{
		DN:           x509x.FormatDN(name),
		CommonName:   name.CommonName,
		SerialNumber: name.SerialNumber,
	}
}

type sanInfo struct {
	DNSNames       []string `json:",omitempty"`
	EmailAddresses []string `json:",omitempty"`
	IPAddresses    []string `json:",omitempty"`
}

func newSANInfo(dnsNames, emails []string, ips []net.IP) sanInfo {
	return sanInfo{
		DNSNames:       dnsNames,
		EmailAddresses: emails,
		IPAddresses:    fx.Map(ips, func(ip net.IP) string { return ip.String() }),
	}
}

func init() {
	cmd := &cobra.Command{
		Use:   "csr",
		Short: "certificate signing request",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info csr...",
		Short: "show CSR informations",
		Args:  cobra.MinimumNArgs(1),
		RunE:  forEachFile(csrInfo),
	})

	x509cmd.AddCommand(cmd)
}

// csrInfo openssl req -text -in <filename>
func csrInfo(filename string) error {
	pemBytes, err := helper.ReadFile(filename)
	if err != nil {
		return err
	}

	csr, err := x509x.ParseCSR(pemBytes)
	if err != nil {
		return err
	}

	return helper.WriteJSON(os.Stdout, &struct {
		Subject            subjectInfo
		SAN                sanInfo
		PublicKeyAlgorithm string
		SignatureAlgorithm string
	}{
		Subject:            newSubjectInfo(csr.Subject),
		SAN:                newSANInfo(csr.DNSNames, csr.EmailAddresses, csr.IPAddresses),
		PublicKeyAlgorithm: csr.PublicKeyAlgorithm.String(),
		SignatureAlgorithm: csr.SignatureAlgorithm.String(),
	})
}

func init() {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "x509 certificate",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info cert...",
		Short: "show x509 certificate informations, every certificate of chain",
		Args:  cobra.MinimumNArgs(1),
		RunE:  forEachFile(certInfo),
	})

	x509cmd.AddCommand(cmd)
}

type certificateInfo struct {
	Subject            subjectInfo
	Issuer             subjectInfo
	SAN                sanInfo
	Serial             string
	IsCA               bool
	PublicKeyAlgorithm string
	SubjectKeyId       string   `json:",omitempty"`
	AuthorityKeyId     string   `json:",omitempty"`
	KeyUsage           []string `json:",omitempty"`
	ExtKeyUsage        []string `json:",omitempty"`
	OCSPServer         []string `json:",omitempty"`
	CRLDistribution    []string `json:",omitempty"`
	NotBefore          time.Time
	NotAfter           time.Time
}

// certInfo openssl x509 -text -in <filename>
func certInfo(filename string) error {
	pemBytes, err := helper.ReadFile(filename)
	if err != nil {
		return err
	}

	certs, err := x509x.ParseCertificateChain(pemBytes)
	if err != nil {
		return err
	}

	return helper.WriteJSON(os.Stdout, fx.Map(certs, func(cert *x509.Certificate) *certificateInfo {
		return &certificateInfo{
			Subject:            newSubjectInfo(cert.Subject),
			Issuer:             newSubjectInfo(cert.Issuer),
			SAN:                newSANInfo(cert.DNSNames, cert.EmailAddresses, cert.IPAddresses),
			Serial:             fmt.Sprintf("%X", cert.SerialNumber),
			IsCA:               cert.IsCA,
			PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
			SubjectKeyId:       fmt.Sprintf("%X", cert.SubjectKeyId),
			AuthorityKeyId:     fmt.Sprintf("%X", cert.AuthorityKeyId),
			KeyUsage:           x509x.KeyUsageToStr(cert.KeyUsage),
			ExtKeyUsage:        x509x.ExtKeyUsageToStr(cert.ExtKeyUsage),
			OCSPServer:         cert.OCSPServer,
			CRLDistribution:    cert.CRLDistributionPoints,
			NotBefore:          cert.NotBefore,
			NotAfter:           cert.NotAfter,
		}
	}))
}

func init() {
	cmd := &cobra.Command{
		Use:   "crl",
		Short: "certificate revocation list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info crl...",
		Short: "show CRL, file or url",
		Args:  cobra.MinimumNArgs(1),
		RunE:  forEachFile(crlInfo),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check cert crl",
		Short: "check certificate is not revoked by CRL, file or url",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return crlCheck(args[0], args[1])
		},
	})

	x509cmd.AddCommand(cmd)
}

func crlInfo(name string) error {
	crlBytes, err := helper.ReadFileOrURL(name)
	if err != nil {
		return err
	}

	crl, err := x509x.ParseCRL(crlBytes)
	if err != nil {
		return err
	}

	type revoked struct {
		Serial         string
		RevocationTime time.Time
	}

	return helper.WriteJSON(os.Stdout, &struct {
		Issuer             subjectInfo
		SignatureAlgorithm string
		Number             *big.Int
		ThisUpdate         time.Time
		NextUpdate         time.Time
		Revoked            []revoked
	}{
		Issuer:             newSubjectInfo(crl.Issuer),
		SignatureAlgorithm: crl.SignatureAlgorithm.String(),
		Number:             crl.Number,
		ThisUpdate:         crl.ThisUpdate,
		NextUpdate:         crl.NextUpdate,
		Revoked: fx.Map(crl.RevokedCertificates, func(r pkix.RevokedCertificate) revoked {
			return revoked{Serial: fmt.Sprintf("%X", r.SerialNumber), RevocationTime: r.RevocationTime}
		}),
	})
}

func crlCheck(certFile, crlName string) error {
	certBytes, err := helper.ReadFile(certFile)
	if err != nil {
		return err
	}

	cert, err := x509x.ParseCertificate(certBytes)
	if err != nil {
		return err
	}

	crlBytes, err := helper.ReadFileOrURL(crlName)
	if err != nil {
		return err
	}

	crl, err := x509x.ParseCRL(crlBytes)
	if err != nil {
		return err
	}

	if err := helper.CheckCertWithCRL(cert, crl); err != nil {
		return err
	}

	fmt.Printf("%s: OK\n", certFile)
	return nil
}
