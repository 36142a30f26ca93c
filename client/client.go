package client

import (
	"net/http"
	"strings"

	v1 "capki/client/v1"
)

// Client capki api client; endpoint is the server address without api path
type Client struct {
	endpoint string
	v1       *v1.Client
}

func New(endpoint string) *Client { return WithClient(endpoint, &http.Client{}) }

func WithClient(endpoint string, client *http.Client) *Client {
	endpoint = strings.TrimRight(endpoint, "/")

	return &Client{
		endpoint: endpoint,
		v1:       v1.WithClient(endpoint+"/api/v1", client),
	}
}

func (c *Client) Endpoint() string { return c.endpoint }
func (c *Client) V1() *v1.Client   { return c.v1 }
