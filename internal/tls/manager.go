// Package tls provides the server certificate source: ACME via autocert,
// a static key pair, or a self-signed development certificate.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"contact-service/internal/config"
	"contact-service/internal/util"
)

var ErrNoCertificate = errors.New("no TLS certificate available")

type TLSManager struct {
	cfg        config.ServerConfig
	production bool
	autoCert   *autocert.Manager

	mu       sync.Mutex
	fileCert *tls.Certificate
	devCert  *tls.Certificate
}

func NewTLSManager(cfg config.ServerConfig, environment string) *TLSManager {
	manager := &TLSManager{
		cfg:        cfg,
		production: environment == "production",
	}

	if cfg.AutoCert && cfg.EnableTLS {
		manager.setupAutoCert()
	}

	return manager
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.cfg.AutoCertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.cfg.Domain, "www."+m.cfg.Domain),
		Cache:      autocert.DirCache(m.cfg.AutoCertDir),
		Email:      m.cfg.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.cfg.Domain),
		zap.String("cache_dir", m.cfg.AutoCertDir))
}

// GetCertificate tries autocert, then the configured key pair, then (outside
// production) a self-signed certificate.
func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Debug("AutoCert lookup failed", zap.String("server_name", hello.ServerName), zap.Error(err))
	}

	if cert, err := m.loadFileCert(); err == nil {
		return cert, nil
	} else if !errors.Is(err, ErrNoCertificate) {
		util.Warn("Failed to load TLS key pair", zap.Error(err))
	}

	if m.production {
		return nil, ErrNoCertificate
	}
	return m.selfSigned()
}

func (m *TLSManager) loadFileCert() (*tls.Certificate, error) {
	if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
		return nil, ErrNoCertificate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fileCert != nil {
		return m.fileCert, nil
	}
	cert, err := tls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", m.cfg.CertFile, err)
	}
	m.fileCert = &cert
	return m.fileCert, nil
}

func (m *TLSManager) selfSigned() (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devCert != nil {
		return m.devCert, nil
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.cfg.Domain != "" {
		hosts = append([]string{m.cfg.Domain}, hosts...)
	}

	cert, err := NewDevCertGenerator(m.cfg.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.devCert = &cert
	return m.devCert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	nextProtos := []string{"h2", "http/1.1"}
	if m.autoCert != nil {
		nextProtos = append(nextProtos, "acme-tls/1")
	}
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     nextProtos,
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
