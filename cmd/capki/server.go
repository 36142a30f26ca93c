package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"capki"
	"capki/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "start capki api server and CRL refresher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return capki.Run(cmd.Context(), cfg)
		},
	}

	addServerFlags(viper.GetViper(), cmd.Flags())

	rootCmd.AddCommand(cmd)
}

func addServerFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String("listen", "", "api listen address")
	flags.String("public", "", "public mirror listen address")
	flags.String("bootstrap", "", "hierarchy plan to create on startup")

	bindFlags(v, flags, map[string]string{
		"listen":    config.KeyServerListen,
		"public":    config.KeyServerPublic,
		"bootstrap": config.KeyBootstrap,
	})
}
