package repository

import (
	"github.com/pkg/errors"

	"capki/authority/registry"
	"capki/authority/toolchain"
)

var (
	ErrUnknownIssuer       = errors.New("unknown issuer")
	ErrCANotFound          = errors.New("CA not found")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrNoValidCertificate  = errors.New("no valid certificate found")
	ErrCAExists            = errors.New("CA already exists")
	ErrInvalidName         = errors.New("invalid CA name")
	ErrInvalidCA           = errors.New("invalid CA certificate")
)

// IsNotFound returns true for unknown issuer, CA, or certificate
func IsNotFound(err error) bool {
	for _, target := range []error{ErrUnknownIssuer, ErrCANotFound, ErrCertificateNotFound, ErrNoValidCertificate, registry.ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsToolchainError(err error) bool { return toolchain.IsToolchainError(err) }

// IsIntegrityError returns true when persisted data could not be parsed
func IsIntegrityError(err error) bool { return registry.IsIntegrityError(err) }
