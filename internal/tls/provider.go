// Package tls decides how the HTTPS listener gets its certificates: ACME
// via autocert when a domain is configured for it, an operator-provided
// cert/key pair, or an in-memory self-signed certificate for development.
// The choice is made once at construction, not per handshake.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"teamhub/internal/config"
	"teamhub/internal/util"
)

// Mode names the certificate source a Provider was built with.
type Mode string

const (
	ModeACME       Mode = "acme"
	ModeFiles      Mode = "files"
	ModeSelfSigned Mode = "self-signed"
)

// Provider hands out the tls.Config for the HTTPS server. In ACME mode it
// also exposes the handler the port-80 listener needs for http-01
// challenges.
type Provider struct {
	mode   Mode
	acme   *autocert.Manager
	static *tls.Certificate
}

func NewProvider(cfg *config.ServerConfig) (*Provider, error) {
	switch {
	case cfg.AutoCert && cfg.Domain != "":
		if err := os.MkdirAll(cfg.AutoCertDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create autocert cache dir: %w", err)
		}
		util.Info("TLS certificates via ACME",
			zap.String("domain", cfg.Domain),
			zap.String("cache_dir", cfg.AutoCertDir))
		return &Provider{
			mode: ModeACME,
			acme: &autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(cfg.Domain),
				Cache:      autocert.DirCache(cfg.AutoCertDir),
				Email:      cfg.Email,
			},
		}, nil

	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate pair: %w", err)
		}
		util.Info("TLS certificates from files", zap.String("cert_file", cfg.CertFile))
		return &Provider{mode: ModeFiles, static: &cert}, nil

	default:
		cert, err := selfSignedCert(cfg.Domain)
		if err != nil {
			return nil, err
		}
		util.Warn("TLS running on a self-signed certificate; do not use in production")
		return &Provider{mode: ModeSelfSigned, static: cert}, nil
	}
}

func (p *Provider) Mode() Mode {
	return p.mode
}

// Config returns the tls.Config for the HTTPS listener.
func (p *Provider) Config() *tls.Config {
	return &tls.Config{
		GetCertificate: p.getCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

// ACMEHandler serves http-01 challenges and redirects everything else to
// https. It is nil outside ACME mode.
func (p *Provider) ACMEHandler() http.Handler {
	if p.acme == nil {
		return nil
	}
	return p.acme.HTTPHandler(nil)
}

func (p *Provider) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if p.acme != nil {
		return p.acme.GetCertificate(hello)
	}
	return p.static, nil
}

// selfSignedCert builds a throwaway ECDSA certificate covering the
// configured domain plus the loopback names. Nothing is written to disk.
func selfSignedCert(domain string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Teamhub Development"},
		},
		NotBefore:             now,
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	if domain != "" {
		template.DNSNames = append([]string{domain}, template.DNSNames...)
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
