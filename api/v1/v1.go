// Package v1 management api of the authority
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"

	"capki/api/endpoints"
	"capki/authority"
	v1 "capki/client/v1"
	"capki/pkg/helper"
)

type v1API struct {
	authority authority.Interface
}

func New(authority authority.Interface) *v1API {
	return &v1API{
		authority: authority,
	}
}

var _ endpoints.Endpoint = (*v1API)(nil)

func (app *v1API) PathAndName() (string, string) { return "/api/v1", "v1 handler" }

func (app *v1API) Route(e *echo.Group) {
	e.Use(HandleError)

	e.GET("/ca", app.listCA)
	e.POST("/ca/root", app.createRoot)
	e.POST("/ca/intermediate", app.createIntermediate)
	e.POST("/ca/import", app.importCA)
	e.GET("/ca/:root/:name", app.getCA)
	e.GET("/ca/:root/:name/chain", app.getCAChain)

	e.POST("/certificate/sign", app.sign)
	e.POST("/certificate/private", app.createPrivate)
	e.POST("/certificate/pair", app.createPair)
	e.PUT("/certificate/verify", app.verify)
	e.PUT("/certificate/info", app.info)
	e.POST("/certificate/revoke", app.revokeByName)
	e.DELETE("/certificate/:root/:name/:serial", app.revokeBySerial)
	e.GET("/certificates", app.listCertificates)

	e.POST("/crl", app.refreshCRL)
}

// HandleError map authority errors to http status
func HandleError(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil {
			return err
		}

		if _, ok := err.(*echo.HTTPError); ok {
			return err
		}

		code := http.StatusInternalServerError

		switch {
		case authority.IsNotFound(err):
			code = http.StatusNotFound
		case errors.Is(err, authority.ErrCAExists):
			code = http.StatusConflict
		case errors.Is(err, authority.ErrInvalidName), errors.Is(err, authority.ErrInvalidCA), helper.IsValidationError(err):
			code = http.StatusBadRequest
		case authority.IsToolchainError(err):
			log.Errorf("toolchain failed: %+v", err)
		default:
			log.Debugf("unhandled err=%T, %v", err, err)
		}

		return echo.NewHTTPError(code, err.Error())
	}
}

func (app *v1API) listCA(c echo.Context) error {
	items, err := app.authority.ListCAs(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &v1.CAList{Items: items})
}

func (app *v1API) createRoot(c echo.Context) error {
	var req v1.CAConfig

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	cert, err := app.authority.CreateRoot(c.Request().Context(), &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &v1.Certificate{Certificate: string(cert)})
}

func (app *v1API) createIntermediate(c echo.Context) error {
	var req v1.IntermediateRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	chain, err := app.authority.CreateIntermediate(c.Request().Context(), &req.CA, req.Issuer)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &v1.Certificate{Certificate: string(chain)})
}

// importCA take over existing CA; root CA when issuer is not given
func (app *v1API) importCA(c echo.Context) error {
	var req v1.ImportRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	imported := &authority.ImportRequest{
		Name:   req.Name,
		Secret: req.Passphrase,
		Key:    []byte(req.Key),
		Cert:   []byte(req.Certificate),
	}

	var cert []byte
	var err error
	if req.Issuer == nil {
		cert, err = app.authority.ImportRoot(c.Request().Context(), imported)
	} else {
		cert, err = app.authority.ImportIntermediate(c.Request().Context(), imported, *req.Issuer)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &v1.Certificate{Certificate: string(cert)})
}

func (app *v1API) getCA(c echo.Context) error      { return GetCACertificate(c, app.authority, false) }
func (app *v1API) getCAChain(c echo.Context) error { return GetCACertificate(c, app.authority, true) }

// GetCACertificate write PEM of CA at :root/:name
func GetCACertificate(c echo.Context, auth authority.Interface, chain bool) error {
	cert, err := auth.GetCACertificate(c.Request().Context(), c.Param("root"), c.Param("name"), chain)
	if err != nil {
		return err
	}

	return c.Blob(http.StatusOK, "application/x-pem-file", cert)
}

func (app *v1API) sign(c echo.Context) error {
	var req v1.SignRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	cert, err := app.authority.Sign(c.Request().Context(), []byte(req.CSR), req.Issuer, req.Type, req.Lifetime)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &v1.Certificate{Certificate: string(cert)})
}

func (app *v1API) createPrivate(c echo.Context) error {
	var req v1.PrivateRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	pair, err := app.authority.CreateKeyPair(c.Request().Context(), &authority.KeyPairRequest{
		Passphrase: req.Passphrase,
		Bits:       req.Bits,
		Info:       req.Info,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &v1.KeyPair{Key: string(pair.Key), CSR: string(pair.CSR)})
}

// createPair generate private key and sign it with issuer
func (app *v1API) createPair(c echo.Context) error {
	var req v1.PairRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	pair, err := app.authority.CreatePair(c.Request().Context(), &authority.PairRequest{
		KeyPairRequest: authority.KeyPairRequest{
			Passphrase: req.Passphrase,
			Bits:       req.Bits,
			Info:       req.Info,
		},
		Issuer:   req.Issuer,
		Type:     req.Type,
		Lifetime: req.Lifetime,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &v1.CertificatePair{Key: string(pair.Key), Certificate: string(pair.Certificate)})
}

func (app *v1API) verify(c echo.Context) error {
	var req v1.VerifyRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	verified, err := app.authority.Verify(c.Request().Context(), req.Issuer, []byte(req.Certificate))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &v1.VerifyResponse{Verified: verified})
}

func (app *v1API) info(c echo.Context) error { return CertificateInfo(c, app.authority) }

// CertificateInfo write text dump of requested certificate
func CertificateInfo(c echo.Context, auth authority.Interface) error {
	var req v1.InfoRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	text, err := auth.ReadCertificate(c.Request().Context(), []byte(req.Certificate))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &v1.InfoResponse{Info: text})
}

func (app *v1API) revokeByName(c echo.Context) error {
	var req v1.RevokeRequest

	if err := helper.Bind(c, &req); err != nil {
		return err
	}

	revoked, err := app.authority.RevokeByName(c.Request().Context(), req.Name, req.Issuer)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &v1.RevokeResponse{Revoked: revoked})
}

func (app *v1API) revokeBySerial(c echo.Context) error {
	issuer := v1.Issuer{Root: c.Param("root"), Name: c.Param("name")}

	revoked, err := app.authority.RevokeBySerial(c.Request().Context(), c.Param("serial"), issuer)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &v1.RevokeResponse{Revoked: fx.Ternary(revoked, 1, 0)})
}

func (app *v1API) listCertificates(c echo.Context) error {
	listing, err := app.authority.ListCertificates(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, listing)
}

func (app *v1API) refreshCRL(c echo.Context) error {
	if err := app.authority.RefreshAllCRLs(c.Request().Context()); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
