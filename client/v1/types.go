package v1

import (
	"capki/authority/types"
)

type (
	Info     = types.Info
	Issuer   = types.Issuer
	CAConfig = types.CAConfig
	CA       = types.Entry
	Listing  = types.Listing
)

type CAList struct {
	Items []*CA `json:"items"`
}

type IntermediateRequest struct {
	CA     CAConfig `json:"ca" validate:"required"`
	Issuer Issuer   `json:"issuer" validate:"required"`
}

// ImportRequest existing CA key and certificate; root CA when Issuer is nil
type ImportRequest struct {
	Name        string  `json:"name" validate:"required"`
	Passphrase  string  `json:"passphrase" validate:"required"`
	Key         string  `json:"key" validate:"required"`
	Certificate string  `json:"cert" validate:"required"`
	Issuer      *Issuer `json:"issuer,omitempty"`
}

// Certificate PEM encoded certificate or chain
type Certificate struct {
	Certificate string `json:"certificate"`
}

type SignRequest struct {
	CSR      string         `json:"csr" validate:"required"`
	Issuer   Issuer         `json:"issuer" validate:"required"`
	Type     types.CertType `json:"type,omitempty" validate:"omitempty,oneof=server client"`
	Lifetime int            `json:"lifetime,omitempty" validate:"min=0"`
}

type PrivateRequest struct {
	Passphrase string `json:"password,omitempty"`
	Bits       int    `json:"numBits,omitempty" validate:"omitempty,oneof=1024 2048 4096"`
	Info       Info   `json:"info" validate:"required"`
}

type KeyPair struct {
	Key string `json:"key"`
	CSR string `json:"csr"`
}

type PairRequest struct {
	Passphrase string         `json:"password,omitempty"`
	Bits       int            `json:"numBits,omitempty" validate:"omitempty,oneof=1024 2048 4096"`
	Info       Info           `json:"info" validate:"required"`
	Issuer     Issuer         `json:"issuer" validate:"required"`
	Type       types.CertType `json:"type,omitempty" validate:"omitempty,oneof=server client"`
	Lifetime   int            `json:"lifetime,omitempty" validate:"min=0"`
}

// CertificatePair private key with certificate signed for it
type CertificatePair struct {
	Key         string `json:"key"`
	Certificate string `json:"cert"`
}

type VerifyRequest struct {
	Certificate string `json:"certificate" validate:"required"`
	Issuer      Issuer `json:"issuer" validate:"required"`
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
}

type InfoRequest struct {
	Certificate string `json:"certificate" validate:"required"`
}

type InfoResponse struct {
	Info string `json:"info"`
}

type RevokeRequest struct {
	Name   string `json:"name" validate:"required"`
	Issuer Issuer `json:"issuer" validate:"required"`
}

type RevokeResponse struct {
	Revoked int `json:"revoked"`
}
