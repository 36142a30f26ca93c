package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/whitekid/goxp/log"

	"capki/client"
	"capki/config"
)

const (
	keyEndpoint     = "endpoint"
	defaultEndpoint = "http://127.0.0.1:8000"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          "capki",
		Short:        "CA hierarchy authority",
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default capki.yaml in current directory)")
	addRootFlags(viper.GetViper(), flags)
}

func addRootFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String(config.KeyPKIDir, "pki", "pki directory")
	flags.String(keyEndpoint, defaultEndpoint, "capki server address")

	bindFlags(v, flags, map[string]string{
		config.KeyPKIDir: config.KeyPKIDir,
		keyEndpoint:      keyEndpoint,
	})
}

// bindFlags bind flag name to viper key
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatalf("fail to bind flag %s: %v", name, err)
		}
	}
}

func initConfig() {
	if err := readConfig(viper.GetViper(), cfgFile); err != nil {
		log.Warnf("%v", err)
	}
}

// readConfig read file, or capki.yaml of current directory if exists.
// CAPKI_ environment overrides the file, flags override both.
func readConfig(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("capki")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CAPKI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "fail to read config")
		}
	}

	return nil
}

func loadConfig() (*config.Config, error) { return config.Load(viper.GetViper()) }

func newClient() *client.Client { return client.New(viper.GetString(keyEndpoint)) }
