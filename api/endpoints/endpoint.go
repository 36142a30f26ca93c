// Package endpoints mounts handler groups of the api server
package endpoints

import (
	"github.com/labstack/echo/v4"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"

	"capki/pkg/helper"
)

// Endpoint handler group; PathAndName returns mount path and a name for logs
type Endpoint interface {
	PathAndName() (string, string)
	Route(g *echo.Group)
}

// Route mount every endpoint at its own path
func Route(e *helper.Echo, endpoints ...Endpoint) {
	fx.ForEach(endpoints, func(_ int, endpoint Endpoint) {
		path, name := endpoint.PathAndName()
		log.Debugf("mount %s at %q", name, path)
		endpoint.Route(e.Group(path))
	})
}
