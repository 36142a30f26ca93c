package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	v1 "capki/client/v1"
	"capki/pkg/helper"
)

var caCmd *cobra.Command

func init() {
	caCmd = &cobra.Command{
		Use:   "ca",
		Short: "manage root and intermediate CAs",
	}
	rootCmd.AddCommand(caCmd)
}

func infoFlags(flags *pflag.FlagSet, info *v1.Info) {
	flags.StringVar(&info.CommonName, "cn", "", "common name")
	flags.StringVar(&info.Country, "country", "", "country, two letters")
	flags.StringVar(&info.State, "state", "", "state or province")
	flags.StringVar(&info.Locality, "locality", "", "locality")
	flags.StringVar(&info.Organization, "org", "", "organization")
	flags.StringVar(&info.Unit, "unit", "", "organizational unit")
	flags.StringVar(&info.Email, "email", "", "email address")
	flags.StringSliceVar(&info.AltNames, "dns", nil, "subject alternative DNS names")
	flags.StringSliceVar(&info.IPAddresses, "ip", nil, "subject alternative IP addresses")
}

func issuerFlags(flags *pflag.FlagSet, issuer *v1.Issuer) {
	flags.StringVar(&issuer.Root, "root", "", "root CA of issuer")
	flags.StringVar(&issuer.Name, "issuer", "", "issuer CA name")
}

func caConfigFlags(flags *pflag.FlagSet, ca *v1.CAConfig) {
	flags.StringVar(&ca.Name, "name", "", "CA name")
	flags.StringVar(&ca.Secret, "passphrase", "", "private key passphrase, generated if empty")
	flags.IntVar(&ca.Days, "days", 0, "lifetime in days")
	infoFlags(flags, &ca.Info)
}

func init() {
	var req v1.CAConfig

	cmd := &cobra.Command{
		Use:   "root",
		Short: "create root CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := newClient().V1().CA().CreateRoot(cmd.Context(), &req)
			if err != nil {
				return err
			}
			_, err = os.Stdout.WriteString(cert)
			return err
		},
	}
	caConfigFlags(cmd.Flags(), &req)
	caCmd.AddCommand(cmd)
}

func init() {
	var req v1.IntermediateRequest

	cmd := &cobra.Command{
		Use:   "intermediate",
		Short: "create intermediate CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := newClient().V1().CA().CreateIntermediate(cmd.Context(), &req)
			if err != nil {
				return err
			}
			_, err = os.Stdout.WriteString(chain)
			return err
		},
	}
	caConfigFlags(cmd.Flags(), &req.CA)
	issuerFlags(cmd.Flags(), &req.Issuer)
	caCmd.AddCommand(cmd)
}

func init() {
	caCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list CAs",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newClient().V1().CA().List(cmd.Context())
			if err != nil {
				return err
			}
			return helper.WriteJSON(os.Stdout, list.Items)
		},
	})
}

func init() {
	var chain bool

	cmd := &cobra.Command{
		Use:   "get root name",
		Short: "get CA certificate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pem, err := newClient().V1().CA().Get(cmd.Context(), args[0], args[1], chain)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(pem)
			return err
		},
	}
	cmd.Flags().BoolVar(&chain, "chain", false, "get certificate chain")
	caCmd.AddCommand(cmd)
}

func init() {
	var req v1.ImportRequest
	var issuer v1.Issuer
	var keyFile, certFile string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "import existing CA key and certificate, as root CA unless --issuer is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := os.ReadFile(keyFile)
			if err != nil {
				return err
			}
			cert, err := os.ReadFile(certFile)
			if err != nil {
				return err
			}

			req.Key, req.Certificate = string(key), string(cert)
			if issuer.Name != "" {
				req.Issuer = &issuer
			}

			pem, err := newClient().V1().CA().Import(cmd.Context(), &req)
			if err != nil {
				return err
			}
			_, err = os.Stdout.WriteString(pem)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Name, "name", "", "CA name")
	flags.StringVar(&req.Passphrase, "passphrase", "", "passphrase of private key")
	flags.StringVar(&keyFile, "key", "", "private key PEM file")
	flags.StringVar(&certFile, "cert", "", "certificate PEM file")
	issuerFlags(flags, &issuer)
	caCmd.AddCommand(cmd)
}
