package v1

import (
	"context"
	"io"
	"net/http"

	"github.com/whitekid/goxp/log"
	"github.com/whitekid/goxp/request"

	"capki/client/common"
)

func New(endpoint string) *Client { return WithClient(endpoint, &http.Client{}) }
func WithClient(endpoint string, client *http.Client) *Client {
	return &Client{
		endpoint: endpoint,
		client:   request.NewSession(client),
	}
}

type Client struct {
	endpoint string
	client   request.Interface
}

func (c *Client) CA() *CAService { return &CAService{client: c, endpoint: c.endpoint + "/ca"} }
func (c *Client) Certificates() *CertificateService {
	return &CertificateService{client: c, endpoint: c.endpoint + "/certificate"}
}

func (c *Client) sendRequest(ctx context.Context, req *request.Request) (*request.Response, error) {
	log.Debugf("send request: %s", req.URL)

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, err
	}

	if !resp.Success() {
		defer resp.Body.Close()

		herr := common.NewHTTPError(resp.StatusCode, "")
		if err := resp.JSON(herr); err != nil {
			log.Debugf("fail to decode error response: %v", err)
		}
		return nil, herr
	}

	return resp, nil
}

// sendJSON send request and decode JSON response to out
func (c *Client) sendJSON(ctx context.Context, req *request.Request, out interface{}) error {
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// ListCertificates certificates of every CA
func (c *Client) ListCertificates(ctx context.Context) (Listing, error) {
	var listing Listing
	if err := c.sendJSON(ctx, c.client.Get("%s/certificates", c.endpoint), &listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// RefreshCRL regenerate and publish CRL of every intermediate CA
func (c *Client) RefreshCRL(ctx context.Context) error {
	return c.sendJSON(ctx, c.client.Post("%s/crl", c.endpoint), nil)
}

type CAService struct {
	client   *Client
	endpoint string
}

func (svc *CAService) List(ctx context.Context) (*CAList, error) {
	var list CAList
	if err := svc.client.sendJSON(ctx, svc.client.client.Get("%s", svc.endpoint), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateRoot returns certificate of created root CA
func (svc *CAService) CreateRoot(ctx context.Context, req *CAConfig) (string, error) {
	var cert Certificate
	if err := svc.client.sendJSON(ctx, svc.client.client.Post("%s/root", svc.endpoint).JSON(req), &cert); err != nil {
		return "", err
	}
	return cert.Certificate, nil
}

// CreateIntermediate returns chain of created intermediate CA
func (svc *CAService) CreateIntermediate(ctx context.Context, req *IntermediateRequest) (string, error) {
	var cert Certificate
	if err := svc.client.sendJSON(ctx, svc.client.client.Post("%s/intermediate", svc.endpoint).JSON(req), &cert); err != nil {
		return "", err
	}
	return cert.Certificate, nil
}

// Import returns certificate of imported root CA or chain of imported intermediate CA
func (svc *CAService) Import(ctx context.Context, req *ImportRequest) (string, error) {
	var cert Certificate
	if err := svc.client.sendJSON(ctx, svc.client.client.Post("%s/import", svc.endpoint).JSON(req), &cert); err != nil {
		return "", err
	}
	return cert.Certificate, nil
}

// Get returns PEM of CA certificate or its chain
func (svc *CAService) Get(ctx context.Context, root, name string, chain bool) ([]byte, error) {
	req := svc.client.client.Get("%s/%s/%s", svc.endpoint, root, name)
	if chain {
		req = svc.client.client.Get("%s/%s/%s/chain", svc.endpoint, root, name)
	}

	resp, err := svc.client.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

type CertificateService struct {
	client   *Client
	endpoint string
}

func (svc *CertificateService) Sign(ctx context.Context, req *SignRequest) (string, error) {
	var cert Certificate
	if err := svc.client.sendJSON(ctx, svc.client.client.Post("%s/sign", svc.endpoint).JSON(req), &cert); err != nil {
		return "", err
	}
	return cert.Certificate, nil
}

// Private generate private key and CSR
func (svc *CertificateService) Private(ctx context.Context, req *PrivateRequest) (*KeyPair, error) {
	var pair KeyPair
	if err := svc.client.sendJSON(ctx, svc.client.client.Post("%s/private", svc.endpoint).JSON(req), &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Pair generate private key and certificate signed by req.Issuer
func (svc *CertificateService) Pair(ctx context.Context, req *PairRequest) (*CertificatePair, error) {
	var pair CertificatePair
	if err := svc.client.sendJSON(ctx, svc.client.client.Post("%s/pair", svc.endpoint).JSON(req), &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

func (svc *CertificateService) Verify(ctx context.Context, req *VerifyRequest) (bool, error) {
	var res VerifyResponse
	if err := svc.client.sendJSON(ctx, svc.client.client.Put("%s/verify", svc.endpoint).JSON(req), &res); err != nil {
		return false, err
	}
	return res.Verified, nil
}

// Info text dump of certificate
func (svc *CertificateService) Info(ctx context.Context, certPEM string) (string, error) {
	var res InfoResponse
	if err := svc.client.sendJSON(ctx, svc.client.client.Put("%s/info", svc.endpoint).JSON(&InfoRequest{Certificate: certPEM}), &res); err != nil {
		return "", err
	}
	return res.Info, nil
}

// Revoke revoke every valid certificate of issuer having common name
func (svc *CertificateService) Revoke(ctx context.Context, req *RevokeRequest) (int, error) {
	var res RevokeResponse
	if err := svc.client.sendJSON(ctx, svc.client.client.Post("%s/revoke", svc.endpoint).JSON(req), &res); err != nil {
		return 0, err
	}
	return res.Revoked, nil
}

func (svc *CertificateService) RevokeSerial(ctx context.Context, issuer Issuer, serial string) error {
	return svc.client.sendJSON(ctx, svc.client.client.Delete("%s/%s/%s/%s", svc.endpoint, issuer.Root, issuer.Name, serial), nil)
}
