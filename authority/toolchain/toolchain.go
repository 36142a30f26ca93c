// Package toolchain performs the cryptographic steps of the CA hierarchy
//
// Every operation works on files inside a working directory, the same way the openssl command
// line does. The openssl implementation runs openssl as a subprocess; the native implementation
// does the same work with crypto/x509 and keeps the same on-disk formats.
package toolchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"capki/authority/types"
)

type Interface interface {
	// GenerateKey write <name>.key.pem in dir, encrypted when passphrase is not empty
	GenerateKey(ctx context.Context, name string, passphrase string, bits int, dir string) error

	// SelfSign write self signed <name>.cert.pem using openssl.cnf in dir
	SelfSign(ctx context.Context, name string, days int, passphrase string, dir string) error

	// CreateCSR write <name>.csr.pem signed by <name>.key.pem
	CreateCSR(ctx context.Context, info *types.Info, name string, passphrase string, dir string) error

	// Sign sign <CSRName>.csr.pem with CA config and write <CertName>.cert.pem
	Sign(ctx context.Context, req *SignRequest) error

	// Read text dump of certificate
	Read(ctx context.Context, file string, dir string) (string, error)

	// Verify verify candidate against <chainName>.cert.pem in dir
	Verify(ctx context.Context, chainName string, candidate string, dir string) error

	// GenerateCRL regenerate crl/crl.pem of CA config; returns true when updated
	GenerateCRL(ctx context.Context, passphrase string, configPath string, dir string) (bool, error)

	// Revoke revoke certs/<serial>.pem using openssl.cnf in dir
	Revoke(ctx context.Context, serial string, passphrase string, dir string) error
}

type SignRequest struct {
	ConfigPath string // path of CA openssl.cnf
	Profile    string // extension section
	Passphrase string // CA private key passphrase
	CSRName    string
	CertName   string
	Days       int
	Dir        string
}

const (
	OpenSSL = "openssl"
	Native  = "native"
)

// New create toolchain by name; binary is openssl executable for openssl toolchain
func New(name string, binary string) (Interface, error) {
	switch strings.ToLower(name) {
	case OpenSSL:
		return NewOpenSSL(binary), nil
	case Native:
		return NewNative(), nil
	}

	return nil, errors.Errorf("unknown toolchain: %s", name)
}

// Error toolchain operation failure with diagnostic output
type Error struct {
	Op      string
	Command []string
	Output  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("toolchain %s failed", e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" && (e.Err == nil || !strings.Contains(e.Err.Error(), out)) {
		msg += ": " + out
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error, format string, args ...interface{}) error {
	return &Error{Op: op, Err: err, Output: fmt.Sprintf(format, args...)}
}

func IsToolchainError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
