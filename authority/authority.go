package authority

import (
	"capki/authority/registry"
	"capki/authority/repository"
	"capki/authority/toolchain"
	"capki/authority/tree"
	"capki/authority/types"
	"capki/config"
)

type (
	Interface = repository.Interface
	Registry  = registry.Interface
	Toolchain = toolchain.Interface

	CAConfig         = types.CAConfig
	Info             = types.Info
	Issuer           = types.Issuer
	Entry            = types.Entry
	CertType         = types.CertType
	CertificateEntry = types.CertificateEntry
	Listing          = types.Listing
	KeyPair          = types.KeyPair
	KeyPairRequest   = repository.KeyPairRequest
	PairRequest      = repository.PairRequest
	ImportRequest    = repository.ImportRequest
	CertificatePair  = types.CertificatePair
	Plan             = repository.Plan
)

var (
	ErrUnknownIssuer       = repository.ErrUnknownIssuer
	ErrCANotFound          = repository.ErrCANotFound
	ErrCertificateNotFound = repository.ErrCertificateNotFound
	ErrNoValidCertificate  = repository.ErrNoValidCertificate
	ErrCAExists            = repository.ErrCAExists
	ErrInvalidName         = repository.ErrInvalidName
	ErrInvalidCA           = repository.ErrInvalidCA

	IsNotFound       = repository.IsNotFound
	IsToolchainError = repository.IsToolchainError
	IsIntegrityError = repository.IsIntegrityError

	LoadPlan = repository.LoadPlan
	Relocate = tree.Relocate
)

func New(cfg *config.Config, registry Registry, toolchain Toolchain) Interface {
	return repository.New(cfg, registry, toolchain)
}

// Open open registry and toolchain from cfg and returns authority over them
// returned registry must be closed by caller
func Open(cfg *config.Config) (Interface, Registry, error) {
	reg, err := registry.Open(cfg.Registry, cfg.OCSP.Port)
	if err != nil {
		return nil, nil, err
	}

	tc, err := toolchain.New(cfg.Toolchain, cfg.OpenSSL)
	if err != nil {
		reg.Close()
		return nil, nil, err
	}

	return New(cfg, reg, tc), reg, nil
}
