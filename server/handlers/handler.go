// Package handlers implements the HTTP API of the bridge.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nnnkkk7/tds-bridge/pkg/logging"
	"github.com/nnnkkk7/tds-bridge/pkg/metadata"
	"github.com/nnnkkk7/tds-bridge/pkg/query"
	"github.com/nnnkkk7/tds-bridge/pkg/scan"
	"github.com/nnnkkk7/tds-bridge/server/apierror"
)

// Row batch limits for /rows and /scans/{handle}.
const (
	DefaultBatchSize = 100
	MaxBatchSize     = 10000
)

// Handler serves the catalog and scan endpoints.
type Handler struct {
	repo     *metadata.Repository
	executor *query.Executor
	registry *scan.Registry
}

// NewHandler creates a new handler.
func NewHandler(repo *metadata.Repository, executor *query.Executor, registry *scan.Registry) *Handler {
	return &Handler{
		repo:     repo,
		executor: executor,
		registry: registry,
	}
}

// NewRouter builds the HTTP router for h.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Server endpoints
		r.Get("/servers", h.ListServers)
		r.Post("/servers", h.CreateServer)
		r.Get("/servers/{server}", h.GetServer)
		r.Delete("/servers/{server}", h.DeleteServer)
		r.Post("/servers/{server}/user-mapping", h.CreateUserMapping)
		r.Delete("/servers/{server}/user-mapping", h.DeleteUserMapping)

		// Foreign table endpoints
		r.Get("/foreign-tables", h.ListForeignTables)
		r.Post("/foreign-tables", h.CreateForeignTable)
		r.Get("/foreign-tables/{table}", h.GetForeignTable)
		r.Delete("/foreign-tables/{table}", h.DeleteForeignTable)
		r.Get("/foreign-tables/{table}/estimate", h.Estimate)
		r.Get("/foreign-tables/{table}/explain", h.Explain)
		r.Get("/foreign-tables/{table}/rows", h.Rows)
		r.Post("/foreign-tables/{table}/scans", h.BeginScan)

		// Scan endpoints
		r.Get("/scans/{handle}", h.FetchScan)
		r.Post("/scans/{handle}/rescan", h.Rescan)
		r.Delete("/scans/{handle}", h.EndScan)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logging.Warn().Err(err).Msg("failed to write health response")
		}
	})
	return r
}

// requestLogger logs every request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logging.Debug().
				Str("requestID", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Msg("handled request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// sendJSON writes v with the given status.
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}

// sendError classifies err and writes it as an API error.
func sendError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.FromError(err)
	if apiErr.Status() >= http.StatusInternalServerError {
		logging.Error().
			Err(err).
			Str("requestID", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	sendJSON(w, apiErr.Status(), apiErr)
}

// decodeBody decodes the JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierror.NewInvalidRequestError("invalid request body: " + err.Error())
	}
	return nil
}

// batchLimit parses the limit query parameter.
func batchLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return DefaultBatchSize, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > MaxBatchSize {
		return 0, apierror.NewInvalidRequestError("limit must be an integer between 1 and " + strconv.Itoa(MaxBatchSize))
	}
	return n, nil
}
