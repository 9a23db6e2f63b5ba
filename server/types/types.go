// Package types provides the request and response bodies of the bridge API.
package types

import (
	"time"

	"github.com/nnnkkk7/tds-bridge/pkg/config"
	"github.com/nnnkkk7/tds-bridge/pkg/metadata"
)

// RedactedValue replaces secret option values in responses.
const RedactedValue = "********"

// Catalog API Types

// ServerRequest represents POST /api/v1/servers request body.
type ServerRequest struct {
	Name    string          `json:"name"`
	Options []config.Option `json:"options,omitempty"`
	Comment string          `json:"comment,omitempty"`
}

// ServerResponse describes a foreign server.
type ServerResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Options   []config.Option `json:"options"`
	Comment   string          `json:"comment,omitempty"`
	CreatedOn string          `json:"createdOn"`
}

// ListServersResponse represents GET /api/v1/servers response.
type ListServersResponse []ServerResponse

// UserMappingRequest represents POST /api/v1/servers/{server}/user-mapping
// request body. An empty user maps the public pseudo user.
type UserMappingRequest struct {
	User    string          `json:"user,omitempty"`
	Options []config.Option `json:"options,omitempty"`
}

// UserMappingResponse describes a user mapping.
type UserMappingResponse struct {
	ID        string          `json:"id"`
	Server    string          `json:"server"`
	User      string          `json:"user"`
	Options   []config.Option `json:"options"`
	CreatedOn string          `json:"createdOn"`
}

// ForeignTableRequest represents POST /api/v1/foreign-tables request body.
type ForeignTableRequest struct {
	Name    string               `json:"name"`
	Server  string               `json:"server"`
	Columns []metadata.ColumnDef `json:"columns"`
	Options []config.Option      `json:"options,omitempty"`
	Comment string               `json:"comment,omitempty"`
}

// ForeignTableResponse describes a foreign table.
type ForeignTableResponse struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Server    string               `json:"server"`
	Columns   []metadata.ColumnDef `json:"columns"`
	Options   []config.Option      `json:"options"`
	Comment   string               `json:"comment,omitempty"`
	CreatedOn string               `json:"createdOn"`
}

// ListForeignTablesResponse represents GET /api/v1/foreign-tables response.
type ListForeignTablesResponse []ForeignTableResponse

// NewServerResponse converts a catalog server.
func NewServerResponse(srv *metadata.ForeignServer) ServerResponse {
	return ServerResponse{
		ID:        srv.ID,
		Name:      srv.Name,
		Options:   RedactOptions(srv.Options),
		Comment:   srv.Comment,
		CreatedOn: srv.CreatedAt.Format(time.RFC3339),
	}
}

// NewUserMappingResponse converts a catalog user mapping. Passwords are
// never returned.
func NewUserMappingResponse(server string, m *metadata.UserMapping) UserMappingResponse {
	return UserMappingResponse{
		ID:        m.ID,
		Server:    server,
		User:      m.User,
		Options:   RedactOptions(m.Options),
		CreatedOn: m.CreatedAt.Format(time.RFC3339),
	}
}

// NewForeignTableResponse converts a catalog foreign table.
func NewForeignTableResponse(server string, tbl *metadata.ForeignTable) ForeignTableResponse {
	return ForeignTableResponse{
		ID:        tbl.ID,
		Name:      tbl.Name,
		Server:    server,
		Columns:   tbl.Columns,
		Options:   RedactOptions(tbl.Options),
		Comment:   tbl.Comment,
		CreatedOn: tbl.CreatedAt.Format(time.RFC3339),
	}
}

// RedactOptions copies opts, hiding password values. The result is never nil.
func RedactOptions(opts []config.Option) []config.Option {
	out := make([]config.Option, len(opts))
	for i, o := range opts {
		if o.Name == config.OptPassword {
			o.Value = RedactedValue
		}
		out[i] = o
	}
	return out
}
