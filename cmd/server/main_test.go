package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contact-service/internal/config"
	"contact-service/internal/factory"
	"contact-service/internal/handler"
)

func TestSetupRouter_HealthReportsMissingCaptcha(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Backend = "memory"
	cfg.Backup.Dir = filepath.Join(t.TempDir(), "forms")
	cfg.Captcha.Secret = ""

	f, err := factory.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer f.Close()

	router, err := setupRouter(f)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out handler.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "unhealthy", out.Status)
	assert.Equal(t, []string{"captcha"}, out.Failing)
}
