package client

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contact-service/internal/config"
)

func TestExtractHostPort(t *testing.T) {
	tests := []struct {
		url      string
		hostPort string
		host     string
	}{
		{"http://localhost", "localhost:9000", "localhost"},
		{"https://ch.example.com", "ch.example.com:9440", "ch.example.com"},
		{"https://ch.example.com:9443/", "ch.example.com:9443", "ch.example.com"},
		{"clickhouse://10.0.0.5:9000", "10.0.0.5:9000", "10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.hostPort, extractHostPort(tt.url))
			assert.Equal(t, tt.host, extractHostname(tt.url))
		})
	}
}

func TestNewKafkaProducer(t *testing.T) {
	_, err := NewKafkaProducer(config.KafkaConfig{}, zap.NewNop())
	assert.Error(t, err)

	p, err := NewKafkaProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "contact-events"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", p.Writer.Addr.String())
	assert.NoError(t, p.Close())
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), config.RedisConfig{URL: "not a url"}, zap.NewNop())
	assert.Error(t, err)
}

func TestRedisClient_Live(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	c, err := NewRedisClient(context.Background(), config.RedisConfig{URL: url}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, c.HealthCheck(context.Background()))
	assert.NoError(t, c.Close())
}
