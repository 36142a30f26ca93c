package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"capki/pkg/helper"
)

// Config process wide settings, passed explicitly to every component
type Config struct {
	PKIDir     string `mapstructure:"pkidir" validate:"required"`
	Registry   string `mapstructure:"registry"` // registry url; file://, bolt://, sqlite://, mysql://, postgres://
	Toolchain  string `mapstructure:"toolchain" validate:"oneof=openssl native"`
	OpenSSL    string `mapstructure:"openssl"` // openssl binary
	KeyBits    int    `mapstructure:"keyBits" validate:"min=1024"`
	CALifetime int    `mapstructure:"caLifetime" validate:"min=1"` // default CA validity days

	Cert   Cert   `mapstructure:"cert"`
	OCSP   OCSP   `mapstructure:"ocsp"`
	CRL    CRL    `mapstructure:"crl"`
	Server Server `mapstructure:"server"`

	Bootstrap string `mapstructure:"bootstrap"` // hierarchy plan yaml
}

// Cert leaf certificate lifetime in days
type Cert struct {
	Lifetime    int `mapstructure:"lifetime" validate:"min=1"`
	MaxLifetime int `mapstructure:"maxLifetime" validate:"gtefield=Lifetime"`
}

type OCSP struct {
	Port   int    `mapstructure:"port" validate:"min=1,max=65535"` // base port of OCSP responders
	Domain string `mapstructure:"domain" validate:"required"`
}

type CRL struct {
	Domain   string        `mapstructure:"domain" validate:"required"`
	Port     int           `mapstructure:"port" validate:"min=1,max=65535"`
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`
}

type Server struct {
	Listen string `mapstructure:"listen"`
	Public string `mapstructure:"public"` // public mirror listen address, empty to disable
}

const (
	KeyPKIDir       = "pkidir"
	KeyRegistry     = "registry"
	KeyToolchain    = "toolchain"
	KeyOpenSSL      = "openssl"
	KeyKeyBits      = "keyBits"
	KeyCALifetime   = "caLifetime"
	KeyCertLifetime = "cert.lifetime"
	KeyCertMax      = "cert.maxLifetime"
	KeyOCSPPort     = "ocsp.port"
	KeyOCSPDomain   = "ocsp.domain"
	KeyCRLDomain    = "crl.domain"
	KeyCRLPort      = "crl.port"
	KeyCRLInterval  = "crl.interval"
	KeyServerListen = "server.listen"
	KeyServerPublic = "server.public"
	KeyBootstrap    = "bootstrap"
)

var defaults = map[string]interface{}{
	KeyPKIDir:       "pki",
	KeyToolchain:    "openssl",
	KeyOpenSSL:      "openssl",
	KeyKeyBits:      4096,
	KeyCALifetime:   3650,
	KeyCertLifetime: 365,
	KeyCertMax:      3650,
	KeyOCSPPort:     2560,
	KeyOCSPDomain:   "localhost",
	KeyCRLDomain:    "localhost",
	KeyCRLPort:      8080,
	KeyCRLInterval:  24 * time.Hour,
	KeyServerListen: "127.0.0.1:8000",
	KeyServerPublic: "",
}

// SetDefaults register default values to viper instance
func SetDefaults(v *viper.Viper) {
	for k, value := range defaults {
		v.SetDefault(k, value)
	}
}

// Load unmarshal and validate configuration from viper
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "fail to load config")
	}

	return cfg.complete()
}

// Default returns default configuration rooted at pkidir
func Default(pkidir string) *Config {
	v := viper.New()
	v.Set(KeyPKIDir, pkidir)
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (cfg *Config) complete() (*Config, error) {
	if cfg.PKIDir != "" {
		abs, err := filepath.Abs(cfg.PKIDir)
		if err != nil {
			return nil, errors.Wrap(err, "fail to load config")
		}
		cfg.PKIDir = abs
	}

	if cfg.Registry == "" {
		cfg.Registry = "file://" + filepath.Join(cfg.PKIDir, "db", "ca.db")
	}

	if err := helper.ValidateStruct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return cfg, nil
}

func (cfg *Config) DBDir() string     { return filepath.Join(cfg.PKIDir, "db") }
func (cfg *Config) PublicDir() string { return filepath.Join(cfg.PKIDir, "public") }
func (cfg *Config) TmpDir() string    { return filepath.Join(cfg.PKIDir, "tmp") }
func (cfg *Config) LockFile() string  { return filepath.Join(cfg.DBDir(), "capki.lock") }
func (cfg *Config) CreatedMarker() string {
	return filepath.Join(cfg.PKIDir, "created")
}

// CertLifetime lifetime of leaf certificate, default when days is zero and capped to max
func (cfg *Config) CertLifetime(days int) int {
	if days <= 0 {
		days = cfg.Cert.Lifetime
	}
	if days > cfg.Cert.MaxLifetime {
		days = cfg.Cert.MaxLifetime
	}
	return days
}

// OCSPURL responder url for given port
func (cfg *Config) OCSPURL(port int) string {
	return fmt.Sprintf("http://%s:%d", cfg.OCSP.Domain, port)
}

// CRLURL published url of CRL, publicRoute is path under public mirror
func (cfg *Config) CRLURL(publicRoute, name string) string {
	return fmt.Sprintf("https://%s:%d/public/%s/%s.crl.pem", cfg.CRL.Domain, cfg.CRL.Port, filepath.ToSlash(publicRoute), name)
}
