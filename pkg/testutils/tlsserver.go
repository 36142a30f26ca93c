package testutils

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"

	"capki/pkg/helper"
)

// TestTLSServer serve https with crt and key, then request it with client trusting chainCrt
// peer certificates are checked with verifier if not nil
func TestTLSServer(ctx context.Context, crt, key, chainCrt []byte, serverName string, verifier helper.CRLVerifier) error {
	cert, err := tls.X509KeyPair(crt, key)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	tlsLn := tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	go func() {
		handler := http.NewServeMux()
		handler.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintf(w, "hello") })
		http.Serve(tlsLn, handler)
	}()

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(chainCrt) {
		return fmt.Errorf("no certificate in chain")
	}

	tlsConfig := &tls.Config{RootCAs: caPool, ServerName: serverName}
	if verifier != nil {
		tlsConfig.VerifyPeerCertificate = verifier.Verify
	}

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	resp, err := client.Get(fmt.Sprintf("https://%s/", ln.Addr().String()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("want %d but get status %d", http.StatusOK, resp.StatusCode)
	}

	return nil
}
