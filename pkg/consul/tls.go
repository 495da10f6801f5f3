package consul

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TLSConfig describes how to reach an agent over HTTPS. File paths are read
// when the client is built.
type TLSConfig struct {
	// CertFile and KeyFile hold the client certificate for mutual TLS.
	CertFile string
	KeyFile  string

	// CAFile is a PEM bundle of trusted CAs; CAPath is a directory of them.
	// The system pool is used when both are empty.
	CAFile string
	CAPath string

	// ServerName overrides the name used for certificate verification.
	ServerName string

	// InsecureSkipVerify disables peer verification. Development only.
	InsecureSkipVerify bool
}

// Build loads the configured files into a *tls.Config.
func (c TLSConfig) Build() (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	}

	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile == "" && c.CAPath == "" {
		return cfg, nil
	}

	pool := x509.NewCertPool()
	if c.CAFile != "" {
		if err := appendPEMFile(pool, c.CAFile); err != nil {
			return nil, err
		}
	}
	if c.CAPath != "" {
		entries, err := os.ReadDir(c.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA dir: %w", err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".pem" && ext != ".crt") {
				continue
			}
			if err := appendPEMFile(pool, filepath.Join(c.CAPath, e.Name())); err != nil {
				return nil, err
			}
		}
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func (c *TLSConfig) merge(o TLSConfig) {
	if o.CertFile != "" {
		c.CertFile = o.CertFile
	}
	if o.KeyFile != "" {
		c.KeyFile = o.KeyFile
	}
	if o.CAFile != "" {
		c.CAFile = o.CAFile
	}
	if o.CAPath != "" {
		c.CAPath = o.CAPath
	}
	if o.ServerName != "" {
		c.ServerName = o.ServerName
	}
	c.InsecureSkipVerify = c.InsecureSkipVerify || o.InsecureSkipVerify
}

// TLSConfigFromDir returns a TLSConfig pointing at cert.pem, key.pem and
// ca.pem inside dir. ca.pem is optional.
func TLSConfigFromDir(dir string) TLSConfig {
	cfg := TLSConfig{
		CertFile: filepath.Join(dir, "cert.pem"),
		KeyFile:  filepath.Join(dir, "key.pem"),
	}
	if _, err := os.Stat(filepath.Join(dir, "ca.pem")); err == nil {
		cfg.CAFile = filepath.Join(dir, "ca.pem")
	}
	return cfg
}

func appendPEMFile(pool *x509.CertPool, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CA file %s: %w", path, err)
	}
	if !pool.AppendCertsFromPEM(b) {
		return fmt.Errorf("no certificates found in %s", path)
	}
	return nil
}
