package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"capki/authority/types"
	v1 "capki/client/v1"
	"capki/pkg/helper"
)

var certCmd *cobra.Command

func init() {
	certCmd = &cobra.Command{
		Use:   "cert",
		Short: "sign, verify and revoke certificates",
	}
	rootCmd.AddCommand(certCmd)
}

func init() {
	var (
		req      v1.SignRequest
		certType string
	)

	cmd := &cobra.Command{
		Use:   "sign csr",
		Short: "sign CSR, use - to read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			csr, err := helper.ReadFile(args[0])
			if err != nil {
				return err
			}

			req.CSR = string(csr)
			req.Type = types.CertType(certType)
			cert, err := newClient().V1().Certificates().Sign(cmd.Context(), &req)
			if err != nil {
				return err
			}
			_, err = os.Stdout.WriteString(cert)
			return err
		},
	}

	flags := cmd.Flags()
	issuerFlags(flags, &req.Issuer)
	flags.StringVar(&certType, "type", string(types.CertTypeServer), "certificate type: server, client")
	flags.IntVar(&req.Lifetime, "days", 0, "lifetime in days")
	certCmd.AddCommand(cmd)
}

func init() {
	var req v1.PrivateRequest

	cmd := &cobra.Command{
		Use:   "private",
		Short: "generate private key and CSR",
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := newClient().V1().Certificates().Private(cmd.Context(), &req)
			if err != nil {
				return err
			}
			return helper.WriteJSON(os.Stdout, pair)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Passphrase, "passphrase", "", "private key passphrase")
	flags.IntVar(&req.Bits, "bits", 0, "key size")
	infoFlags(flags, &req.Info)
	certCmd.AddCommand(cmd)
}

func init() {
	var req v1.PairRequest
	var certType string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "generate private key and certificate signed by issuer",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Type = types.CertType(certType)
			pair, err := newClient().V1().Certificates().Pair(cmd.Context(), &req)
			if err != nil {
				return err
			}
			return helper.WriteJSON(os.Stdout, pair)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Passphrase, "passphrase", "", "private key passphrase")
	flags.IntVar(&req.Bits, "bits", 0, "key size")
	infoFlags(flags, &req.Info)
	issuerFlags(flags, &req.Issuer)
	flags.StringVar(&certType, "type", string(types.CertTypeServer), "certificate type: server, client")
	flags.IntVar(&req.Lifetime, "days", 0, "lifetime in days")
	certCmd.AddCommand(cmd)
}

func init() {
	var (
		issuer v1.Issuer
		serial string
	)

	cmd := &cobra.Command{
		Use:   "revoke [common name]",
		Short: "revoke certificates by common name or serial",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certs := newClient().V1().Certificates()

			if serial != "" {
				if err := certs.RevokeSerial(cmd.Context(), issuer, serial); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", serial)
				return nil
			}

			if len(args) == 0 {
				return errors.New("common name or --serial required")
			}

			revoked, err := certs.Revoke(cmd.Context(), &v1.RevokeRequest{Name: args[0], Issuer: issuer})
			if err != nil {
				return err
			}
			fmt.Printf("revoked %d certificates\n", revoked)
			return nil
		},
	}

	issuerFlags(cmd.Flags(), &issuer)
	cmd.Flags().StringVar(&serial, "serial", "", "serial number in hex")
	certCmd.AddCommand(cmd)
}

func init() {
	certCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list certificates of every CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := newClient().V1().ListCertificates(cmd.Context())
			if err != nil {
				return err
			}
			return helper.WriteJSON(os.Stdout, listing)
		},
	})
}

func init() {
	var issuer v1.Issuer

	cmd := &cobra.Command{
		Use:   "verify cert",
		Short: "verify certificate against chain of issuer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := helper.ReadFile(args[0])
			if err != nil {
				return err
			}

			verified, err := newClient().V1().Certificates().Verify(cmd.Context(), &v1.VerifyRequest{Certificate: string(cert), Issuer: issuer})
			if err != nil {
				return err
			}
			if !verified {
				return errors.Errorf("%s: verification failed", args[0])
			}
			fmt.Printf("%s: OK\n", args[0])
			return nil
		},
	}
	issuerFlags(cmd.Flags(), &issuer)
	certCmd.AddCommand(cmd)
}

func init() {
	certCmd.AddCommand(&cobra.Command{
		Use:   "info cert",
		Short: "show certificate text dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := helper.ReadFile(args[0])
			if err != nil {
				return err
			}

			info, err := newClient().V1().Certificates().Info(cmd.Context(), string(cert))
			if err != nil {
				return err
			}
			_, err = os.Stdout.WriteString(info)
			return err
		},
	})
}
