// Package public serves the public mirror and the unauthenticated part of the api
package public

import (
	"github.com/labstack/echo/v4"

	"capki/api/endpoints"
	v1 "capki/api/v1"
	"capki/authority"
)

type publicAPI struct {
	authority authority.Interface
	dir       string
}

// New serve published certificates and CRLs in dir under /public
func New(authority authority.Interface, dir string) *publicAPI {
	return &publicAPI{authority: authority, dir: dir}
}

var _ endpoints.Endpoint = (*publicAPI)(nil)

func (app *publicAPI) PathAndName() (string, string) { return "", "public mirror" }

func (app *publicAPI) Route(e *echo.Group) {
	e.Use(v1.HandleError)

	e.Static("/public", app.dir)
	e.GET("/ca/:root/:name", func(c echo.Context) error { return v1.GetCACertificate(c, app.authority, false) })
	e.GET("/ca/:root/:name/chain", func(c echo.Context) error { return v1.GetCACertificate(c, app.authority, true) })
	e.PUT("/certificate/info", func(c echo.Context) error { return v1.CertificateInfo(c, app.authority) })
}
