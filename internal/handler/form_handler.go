package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"contact-service/internal/ratelimit"
	"contact-service/internal/service"
	"contact-service/internal/util"
)

// MaxBodyBytes bounds the size of a form submission body.
const MaxBodyBytes = 64 << 10

const (
	msgSuccess       = "Message envoyé avec succès"
	msgRateLimited   = "Trop de requêtes. Veuillez patienter."
	msgCaptcha       = "Vérification anti-spam échouée"
	msgNotConfigured = "Configuration incomplète"
	msgInternal      = "Erreur interne du serveur"
	msgNotAllowed    = "Method not allowed"
)

// Submitter runs the contact pipeline for one request body.
type Submitter interface {
	Submit(ctx context.Context, ip string, body []byte) (*service.SubmitResult, error)
}

// FormHandler serves the contact form endpoint.
type FormHandler struct {
	submitter Submitter
	logger    *zap.Logger
}

func NewFormHandler(submitter Submitter, logger *zap.Logger) *FormHandler {
	return &FormHandler{submitter: submitter, logger: logger}
}

// SubmitResponse is returned for an accepted submission.
type SubmitResponse struct {
	OK        bool   `json:"ok"`
	ID        string `json:"id"`
	SentOwner bool   `json:"sent_owner"`
	SentAck   bool   `json:"sent_ack"`
	Message   string `json:"message"`
}

// ErrorResponse is returned for every failure.
type ErrorResponse struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// RegisterRoutes mounts the form endpoint and its alias on router.
func (h *FormHandler) RegisterRoutes(router chi.Router, throttle func(http.Handler) http.Handler) {
	for _, path := range []string{"/api/form.php", "/api/contact"} {
		router.With(throttle).Post(path, h.Submit)
		router.Options(path, h.Preflight)
	}
}

// Submit handles POST submissions.
func (h *FormHandler) Submit(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ip := util.ClientIP(r)

	// Read errors leave body empty; the pipeline still rate-limits before
	// rejecting it as invalid JSON.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.logger.Debug("Failed to read form body", util.ErrorField(err))
		body = nil
	}

	result, err := h.submitter.Submit(r.Context(), ip, body)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, SubmitResponse{
		OK:        true,
		ID:        result.ID,
		SentOwner: result.SentOwner,
		SentAck:   result.SentAck,
		Message:   msgSuccess,
	})
	h.logger.Info("Contact form submitted via HTTP",
		util.String("id", result.ID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Preflight answers OPTIONS with 204; CORS headers are set by middleware.
func (h *FormHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *FormHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, h.logger, statusCode, data)
}

func (h *FormHandler) respondWithError(w http.ResponseWriter, err error) {
	statusCode, message := statusFor(err)

	resp := ErrorResponse{Error: message}
	if statusCode == http.StatusTooManyRequests {
		resp.RetryAfter = retryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Erreur formulaire", util.ErrorField(err), util.Int("status_code", statusCode))
	} else {
		h.logger.Debug("Form rejected", util.ErrorField(err), util.Int("status_code", statusCode))
	}
	h.respondWithJSON(w, statusCode, resp)
}

// statusFor maps a pipeline error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, service.ErrCaptchaFailed):
		return http.StatusBadRequest, msgCaptcha
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusInternalServerError, msgNotConfigured
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func retryAfterSeconds() int {
	return int(ratelimit.RetryAfter / time.Second)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}
