package main

import (
	"github.com/spf13/cobra"
	"github.com/whitekid/goxp/log"
)

var crlCmd *cobra.Command

func init() {
	crlCmd = &cobra.Command{
		Use:   "crl",
		Short: "certificate revocation lists",
	}
	rootCmd.AddCommand(crlCmd)
}

func init() {
	crlCmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "regenerate and publish CRL of every intermediate CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().V1().RefreshCRL(cmd.Context()); err != nil {
				return err
			}
			log.Infof("CRLs refreshed")
			return nil
		},
	})
}
