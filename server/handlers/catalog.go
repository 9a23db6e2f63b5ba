package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nnnkkk7/tds-bridge/server/apierror"
	"github.com/nnnkkk7/tds-bridge/server/types"
)

// Server Handlers

// ListServers handles GET /api/v1/servers.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.repo.ListServers(r.Context())
	if err != nil {
		sendError(w, r, err)
		return
	}

	resp := make(types.ListServersResponse, len(servers))
	for i, srv := range servers {
		resp[i] = types.NewServerResponse(srv)
	}
	sendJSON(w, http.StatusOK, resp)
}

// CreateServer handles POST /api/v1/servers.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var req types.ServerRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, r, err)
		return
	}
	if req.Name == "" {
		sendError(w, r, apierror.NewInvalidRequestError("server name is required"))
		return
	}

	srv, err := h.repo.CreateServer(r.Context(), req.Name, req.Options, req.Comment)
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, types.NewServerResponse(srv))
}

// GetServer handles GET /api/v1/servers/{server}.
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := h.repo.GetServerByName(r.Context(), chi.URLParam(r, "server"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, types.NewServerResponse(srv))
}

// DeleteServer handles DELETE /api/v1/servers/{server}.
func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	srv, err := h.repo.GetServerByName(ctx, chi.URLParam(r, "server"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	if err := h.repo.DropServer(ctx, srv.ID); err != nil {
		sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateUserMapping handles POST /api/v1/servers/{server}/user-mapping.
func (h *Handler) CreateUserMapping(w http.ResponseWriter, r *http.Request) {
	var req types.UserMappingRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, r, err)
		return
	}

	ctx := r.Context()
	srv, err := h.repo.GetServerByName(ctx, chi.URLParam(r, "server"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	mapping, err := h.repo.CreateUserMapping(ctx, srv.ID, req.User, req.Options)
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, types.NewUserMappingResponse(srv.Name, mapping))
}

// DeleteUserMapping handles DELETE /api/v1/servers/{server}/user-mapping?user=name.
func (h *Handler) DeleteUserMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	srv, err := h.repo.GetServerByName(ctx, chi.URLParam(r, "server"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	if err := h.repo.DropUserMapping(ctx, srv.ID, r.URL.Query().Get("user")); err != nil {
		sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Foreign Table Handlers

// ListForeignTables handles GET /api/v1/foreign-tables[?server=name].
func (h *Handler) ListForeignTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	servers, err := h.repo.ListServers(ctx)
	if err != nil {
		sendError(w, r, err)
		return
	}
	names := make(map[string]string, len(servers))
	var serverID string
	filter := r.URL.Query().Get("server")
	for _, srv := range servers {
		names[srv.ID] = srv.Name
		if srv.Name == filter {
			serverID = srv.ID
		}
	}
	if filter != "" && serverID == "" {
		sendError(w, r, apierror.NewObjectNotFoundError("server", filter))
		return
	}

	tables, err := h.repo.ListForeignTables(ctx, serverID)
	if err != nil {
		sendError(w, r, err)
		return
	}

	resp := make(types.ListForeignTablesResponse, len(tables))
	for i, tbl := range tables {
		resp[i] = types.NewForeignTableResponse(names[tbl.ServerID], tbl)
	}
	sendJSON(w, http.StatusOK, resp)
}

// CreateForeignTable handles POST /api/v1/foreign-tables.
func (h *Handler) CreateForeignTable(w http.ResponseWriter, r *http.Request) {
	var req types.ForeignTableRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, r, err)
		return
	}
	if req.Name == "" || req.Server == "" {
		sendError(w, r, apierror.NewInvalidRequestError("table name and server are required"))
		return
	}

	ctx := r.Context()
	srv, err := h.repo.GetServerByName(ctx, req.Server)
	if err != nil {
		sendError(w, r, err)
		return
	}
	tbl, err := h.repo.CreateForeignTable(ctx, srv.ID, req.Name, req.Columns, req.Options, req.Comment)
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, types.NewForeignTableResponse(srv.Name, tbl))
}

// GetForeignTable handles GET /api/v1/foreign-tables/{table}.
func (h *Handler) GetForeignTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tbl, err := h.repo.GetForeignTableByName(ctx, chi.URLParam(r, "table"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	srv, err := h.repo.GetServer(ctx, tbl.ServerID)
	if err != nil {
		sendError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, types.NewForeignTableResponse(srv.Name, tbl))
}

// DeleteForeignTable handles DELETE /api/v1/foreign-tables/{table}.
func (h *Handler) DeleteForeignTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tbl, err := h.repo.GetForeignTableByName(ctx, chi.URLParam(r, "table"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	if err := h.repo.DropForeignTable(ctx, tbl.ID); err != nil {
		sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
