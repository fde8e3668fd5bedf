package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact-service/internal/config"
)

func TestDevCertGenerator_CreatesAndReuses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	gen := NewDevCertGenerator(dir)

	cert, err := gen.GenerateCert([]string{"example.test", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"example.test"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	info, err := os.Stat(filepath.Join(dir, "dev-key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := gen.GenerateCert([]string{"other.test"})
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], again.Certificate[0])
}

func TestDevCertGenerator_RegeneratesExpired(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)
	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.now = func() time.Time { return time.Now().Add(devCertValidity + time.Hour) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestTLSManager_FallbackOrder(t *testing.T) {
	dir := t.TempDir()
	dev := NewTLSManager(config.ServerConfig{AutoCertDir: dir}, "development")
	cert, err := dev.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert)

	cached, err := dev.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, cached)

	prod := NewTLSManager(config.ServerConfig{AutoCertDir: dir}, "production")
	_, err = prod.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	assert.ErrorIs(t, err, ErrNoCertificate)

	files := NewTLSManager(config.ServerConfig{
		AutoCertDir: dir,
		CertFile:    filepath.Join(dir, "dev-cert.pem"),
		KeyFile:     filepath.Join(dir, "dev-key.pem"),
	}, "production")
	fromFile, err := files.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Equal(t, cert.Certificate[0], fromFile.Certificate[0])
}

func TestGetTLSConfig(t *testing.T) {
	cfg := NewTLSManager(config.ServerConfig{}, "development").GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, []string{"h2", "http/1.1"}, cfg.NextProtos)
	assert.Nil(t, NewTLSManager(config.ServerConfig{}, "development").GetAutocertManager())
}
