package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// CAPath returns the CA bundle path, Dir/ca.pem by default.
func (c *Config) CAPath() string {
	if c.Certificates.CA != "" {
		return c.Certificates.CA
	}

	return filepath.Join(c.Certificates.Dir, "ca.pem")
}

// CertificatePath returns the device certificate path, Dir/<cert_id>-certificate.pem.crt by default.
func (c *Config) CertificatePath() string {
	if c.Certificates.Certificate != "" {
		return c.Certificates.Certificate
	}

	return filepath.Join(c.Certificates.Dir, c.Thing.CertID+"-certificate.pem.crt")
}

// PrivateKeyPath returns the device key path, Dir/<cert_id>-private.pem.key by default.
func (c *Config) PrivateKeyPath() string {
	if c.Certificates.PrivateKey != "" {
		return c.Certificates.PrivateKey
	}

	return filepath.Join(c.Certificates.Dir, c.Thing.CertID+"-private.pem.key")
}

// TLSConfig loads the client certificate and CA for mutual TLS. It returns nil for a plaintext broker.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.Broker.Plaintext {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertificatePath(), c.PrivateKeyPath())
	if err != nil {
		return nil, fmt.Errorf("tls: load client certificate: %w", err)
	}

	caPEM, err := os.ReadFile(c.CAPath())
	if err != nil {
		return nil, fmt.Errorf("tls: read ca: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("tls: no certificates found in %s", c.CAPath())
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   c.Broker.Endpoint,
	}, nil
}
