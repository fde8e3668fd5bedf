package handler

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"contact-service/internal/backup"
	"contact-service/internal/service"
	"contact-service/internal/util"
)

// AdminHandler exposes stored submissions behind HTTP basic auth.
type AdminHandler struct {
	admin    *service.AdminService
	username string
	hash     []byte
	logger   *zap.Logger
}

// Response is the envelope used by admin endpoints.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta represents pagination metadata
type Meta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// NewAdminHandler decodes the base64 bcrypt hash. An empty hash returns a
// nil handler, meaning the admin API stays unmounted.
func NewAdminHandler(admin *service.AdminService, username, passwordHashB64 string, logger *zap.Logger) (*AdminHandler, error) {
	if passwordHashB64 == "" {
		return nil, nil
	}
	hash, err := base64.StdEncoding.DecodeString(passwordHashB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode admin password hash: %w", err)
	}
	if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("admin password hash is not bcrypt: %w", err)
	}
	return &AdminHandler{admin: admin, username: username, hash: hash, logger: logger}, nil
}

// RegisterRoutes registers all admin routes
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/api/admin", func(r chi.Router) {
		r.Use(h.basicAuth)
		r.Get("/submissions", h.ListSubmissions)
		r.Get("/submissions/{id}", h.GetSubmission)
		r.Get("/search", h.Search)
		r.Post("/sweep", h.Sweep)
	})
}

func (h *AdminHandler) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !h.validCredentials(user, pass) {
			h.logger.Warn("Admin authentication failed", util.String("remote_addr", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Basic realm="contact-admin", charset="UTF-8"`)
			writeJSON(w, h.logger, http.StatusUnauthorized, Response{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) validCredentials(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) == nil
	return userOK && passOK
}

// ListSubmissions handles GET /api/admin/submissions?month=&limit=&offset=
func (h *AdminHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err1 := queryInt(q.Get("limit"))
	offset, err2 := queryInt(q.Get("offset"))
	if err := errors.Join(err1, err2); err != nil {
		h.respondWithError(w, fmt.Errorf("%w: %v", service.ErrInvalidInput, err))
		return
	}

	opts := backup.ListOptions{Month: q.Get("month"), Limit: limit, Offset: offset}
	entries, err := h.admin.ListSubmissions(r.Context(), opts)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, Response{
		Success: true,
		Data:    entries,
		Meta:    &Meta{Total: len(entries), Limit: limit, Offset: offset},
	})
}

// GetSubmission handles GET /api/admin/submissions/{id}
func (h *AdminHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	record, err := h.admin.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, Response{Success: true, Data: record})
}

// Search handles GET /api/admin/search?q=
func (h *AdminHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err1 := queryInt(q.Get("limit"))
	offset, err2 := queryInt(q.Get("offset"))
	if err := errors.Join(err1, err2); err != nil {
		h.respondWithError(w, fmt.Errorf("%w: %v", service.ErrInvalidInput, err))
		return
	}

	res, err := h.admin.Search(r.Context(), q.Get("q"), limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, Response{
		Success: true,
		Data:    res.Hits,
		Meta:    &Meta{Total: res.Total, Limit: limit, Offset: offset},
	})
}

// Sweep handles POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.admin.Sweep(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, Response{Success: true, Data: map[string]int{"removed": removed}})
}

func (h *AdminHandler) respondWithError(w http.ResponseWriter, err error) {
	statusCode := h.getStatusCode(err)
	message := err.Error()
	if statusCode >= http.StatusInternalServerError {
		// Server-side details stay in the log.
		h.logger.Error("Admin request failed", util.ErrorField(err), util.Int("status_code", statusCode))
		message = publicMessage(err, statusCode)
	}
	writeJSON(w, h.logger, statusCode, Response{Error: message})
}

func publicMessage(err error, statusCode int) string {
	switch {
	case errors.Is(err, service.ErrSearchOff):
		return service.ErrSearchOff.Error()
	case errors.Is(err, service.ErrNotConfigured):
		return service.ErrNotConfigured.Error()
	default:
		return http.StatusText(statusCode)
	}
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AdminHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSearchOff), errors.Is(err, service.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
