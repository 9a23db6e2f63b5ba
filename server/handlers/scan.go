package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nnnkkk7/tds-bridge/pkg/logging"
	"github.com/nnnkkk7/tds-bridge/pkg/scan"
	"github.com/nnnkkk7/tds-bridge/server/types"
)

// Estimate handles GET /api/v1/foreign-tables/{table}/estimate.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	costs, method, err := h.executor.Estimate(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, types.NewEstimateResponse(costs, method))
}

// Explain handles GET /api/v1/foreign-tables/{table}/explain.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	props, err := h.executor.Explain(r.Context(), table)
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, types.ExplainResponse{Table: table, Properties: props})
}

// Rows handles GET /api/v1/foreign-tables/{table}/rows. It scans up to
// limit rows and closes the scan.
func (h *Handler) Rows(w http.ResponseWriter, r *http.Request) {
	limit, err := batchLimit(r)
	if err != nil {
		sendError(w, r, err)
		return
	}

	ctx := r.Context()
	s, err := h.executor.BeginScan(ctx, chi.URLParam(r, "table"))
	if err != nil {
		sendError(w, r, err)
		return
	}

	resp := types.RowsResponse{Columns: s.Columns(), Data: [][]any{}}
	err = fetch(ctx, s, limit, &resp)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

// BeginScan handles POST /api/v1/foreign-tables/{table}/scans. The scan
// stays open until it is deleted or left idle.
func (h *Handler) BeginScan(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	s, err := h.executor.BeginScan(r.Context(), table)
	if err != nil {
		sendError(w, r, err)
		return
	}

	entry := h.registry.Add(table, s)
	logging.Debug().Str("handle", entry.Handle).Str("table", table).Msg("registered scan")
	sendJSON(w, http.StatusCreated, types.NewScanResponse(entry, s.Columns()))
}

// FetchScan handles GET /api/v1/scans/{handle}?limit=N.
func (h *Handler) FetchScan(w http.ResponseWriter, r *http.Request) {
	limit, err := batchLimit(r)
	if err != nil {
		sendError(w, r, err)
		return
	}
	entry, err := h.entry(r)
	if err != nil {
		sendError(w, r, err)
		return
	}

	// Remote results outlive the request that started them.
	ctx := context.WithoutCancel(r.Context())

	resp := types.RowsResponse{Handle: entry.Handle, Data: [][]any{}}
	err = entry.Do(func(s *scan.Scan) error {
		resp.Columns = s.Columns()
		return fetch(ctx, s, limit, &resp)
	})
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

// Rescan handles POST /api/v1/scans/{handle}/rescan.
func (h *Handler) Rescan(w http.ResponseWriter, r *http.Request) {
	entry, err := h.entry(r)
	if err != nil {
		sendError(w, r, err)
		return
	}
	ctx := context.WithoutCancel(r.Context())
	if err := entry.Do(func(s *scan.Scan) error { return s.Rescan(ctx) }); err != nil {
		sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EndScan handles DELETE /api/v1/scans/{handle}.
func (h *Handler) EndScan(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(chi.URLParam(r, "handle")); err != nil {
		sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) entry(r *http.Request) (*scan.Entry, error) {
	handle := chi.URLParam(r, "handle")
	entry, ok := h.registry.Get(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", scan.ErrHandleNotFound, handle)
	}
	return entry, nil
}

// fetch appends up to limit rows of s to resp. Done is set once the scan
// has no more rows.
func fetch(ctx context.Context, s *scan.Scan, limit int, resp *types.RowsResponse) error {
	for resp.NumRows < limit {
		row, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			resp.Done = true
			return nil
		}
		if err != nil {
			return err
		}
		resp.AppendRow(row)
	}
	return nil
}
