package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig names the PEM material for the API listener.
type TLSConfig struct {
	CertFile          string
	KeyFile           string
	CAFile            string
	RequireClientAuth bool
}

// LoadServerTLSConfig builds a TLS 1.3 server config, optionally requiring
// and verifying client certificates against CAFile.
func LoadServerTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate and key: %w", err)
	}

	clientAuth := tls.NoClientCert
	if cfg.RequireClientAuth {
		clientAuth = tls.RequireAndVerifyClientCert
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   clientAuth,
	}

	if cfg.CAFile != "" {
		caData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsCfg.ClientCAs = pool
	}

	return tlsCfg, nil
}
