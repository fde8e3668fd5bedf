package service

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrCaptchaFailed = errors.New("captcha verification failed")
	ErrNotConfigured = errors.New("service not configured")
	ErrNotFound      = errors.New("submission not found")
	ErrSearchOff     = errors.New("search is not enabled")
)

// Rejection reasons reported in events and logs.
const (
	ReasonInvalidJSON     = "invalid_json"
	ReasonMissingField    = "missing_field"
	ReasonHoneypot        = "honeypot"
	ReasonInvalidEmail    = "invalid_email"
	ReasonMessageTooShort = "message_too_short"
	ReasonRateLimited     = "rate_limited"
	ReasonCaptcha         = "captcha_failed"
)

// ValidationError carries the message shown to the submitter. It matches
// ErrInvalidInput with errors.Is.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(reason, message string) *ValidationError {
	return &ValidationError{Reason: reason, Message: message}
}
