// Package api serves the store over HTTP: a REST gateway for table rows,
// the current user lookup and the realtime websocket feed.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/babylog/internal/backend"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
	"github.com/kimhsiao/babylog/internal/identity"
	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/realtime"
)

const maxBodyBytes = 1 << 20

// Options configures the router.
type Options struct {
	Backend        backend.Backend
	Sessions       identity.Sessions
	AllowedOrigins []string
	Version        string
}

// Handler serves the gateway routes.
type Handler struct {
	backend  backend.Backend
	sessions identity.Sessions
	version  string
	started  time.Time
}

// NewRouter builds the gateway router.
func NewRouter(opts Options) http.Handler {
	if opts.Sessions == nil {
		opts.Sessions = identity.NoSession{}
	}
	h := &Handler{
		backend:  opts.Backend,
		sessions: opts.Sessions,
		version:  opts.Version,
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.Health)
	r.Get("/auth/user", h.CurrentUser)
	r.Route("/rest/{table}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
	r.Handle("/realtime", realtime.NewServer(opts.Backend, opts.AllowedOrigins))
	return r
}

// Health handles GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "babylog",
		"version": h.version,
		"uptime":  time.Since(h.started).Truncate(time.Second).String(),
	})
}

// CurrentUser handles GET /auth/user
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.sessions.CurrentUser(r.Context())
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.ErrInternal, "session lookup failed", err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// List handles GET /rest/{table}
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(chi.URLParam(r, "table"), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.backend.Select(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []backend.Row{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(rows)))
	writeJSON(w, http.StatusOK, rows)
}

// Create handles POST /rest/{table}
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	row, err := decodeRow(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := h.backend.Insert(r.Context(), chi.URLParam(r, "table"), row)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// Update handles PATCH /rest/{table}/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeRow(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := h.backend.Update(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// Delete handles DELETE /rest/{table}/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	old, err := h.backend.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, old)
}

func decodeRow(w http.ResponseWriter, r *http.Request) (backend.Row, error) {
	var row backend.Row
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&row); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	if row == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "request body must be a JSON object")
	}
	return row, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError responds with {"code","message"}. Internal details of
// non-client errors stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)

	message := err.Error()
	var appErr *apperrors.AppError
	if status >= http.StatusInternalServerError {
		logging.Error("Request failed", err, map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		})
		message = http.StatusText(status)
	} else if errors.As(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, status, &apperrors.AppError{Code: code, Message: message})
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logging.Warn("HTTP request", fields)
				return
			}
			logging.Debug("HTTP request", fields)
		}()
		next.ServeHTTP(ww, r)
	})
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
