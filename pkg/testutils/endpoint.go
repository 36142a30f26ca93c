package testutils

import (
	"net/http"

	"capki/api/endpoints"
	"capki/pkg/helper"
)

// NewEndpointHandler mount endpoint at its own path, as the server does
func NewEndpointHandler(endpoint endpoints.Endpoint) http.Handler {
	handler := helper.NewEcho()
	endpoints.Route(handler, endpoint)

	return handler
}
