// Package captcha verifies reCAPTCHA v3 tokens against the provider's
// siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	DefaultThreshold = 0.5
	DefaultTimeout   = 5 * time.Second
)

// Verifier decides whether a CAPTCHA token was produced by a human.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// VerifyResponse is the siteverify payload.
type VerifyResponse struct {
	Success     bool     `json:"success"`
	Score       *float64 `json:"score,omitempty"`
	Action      string   `json:"action,omitempty"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}

// Recaptcha verifies tokens over HTTP. Any transport or decoding failure is
// treated as a failed verification, never as a pass.
type Recaptcha struct {
	secret     string
	verifyURL  string
	threshold  float64
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Recaptcha)

func WithVerifyURL(u string) Option {
	return func(r *Recaptcha) {
		if u != "" {
			r.verifyURL = u
		}
	}
}

func WithThreshold(t float64) Option {
	return func(r *Recaptcha) { r.threshold = t }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Recaptcha) {
		if d > 0 {
			r.httpClient.Timeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Recaptcha) { r.logger = logger }
}

func NewRecaptcha(secret string, opts ...Option) *Recaptcha {
	r := &Recaptcha{
		secret:     secret,
		verifyURL:  DefaultVerifyURL,
		threshold:  DefaultThreshold,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Verify returns false when the provider rejects the token or reports a
// score below the threshold. A response without a score is accepted.
func (r *Recaptcha) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	res, err := r.siteVerify(ctx, token, remoteIP)
	if err != nil {
		r.logger.Warn("reCAPTCHA verification unavailable", zap.Error(err))
		return false, nil
	}

	if !res.Success {
		r.logger.Info("reCAPTCHA rejected token", zap.Strings("error_codes", res.ErrorCodes))
		return false, nil
	}
	if res.Score != nil && *res.Score < r.threshold {
		r.logger.Info("reCAPTCHA score below threshold",
			zap.Float64("score", *res.Score),
			zap.Float64("threshold", r.threshold),
			zap.String("action", res.Action),
		)
		return false, nil
	}
	return true, nil
}

func (r *Recaptcha) siteVerify(ctx context.Context, token, remoteIP string) (*VerifyResponse, error) {
	form := url.Values{
		"secret":   {r.secret},
		"response": {token},
		"remoteip": {remoteIP},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("siteverify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("siteverify returned %s", resp.Status)
	}

	var out VerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode siteverify response: %w", err)
	}
	return &out, nil
}
