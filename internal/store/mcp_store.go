package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MCPServerData is a registered MCP server.
type MCPServerData struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name,omitempty"`
	Transport   string          `json:"transport"` // "stdio", "sse", "http"
	Command     string          `json:"command,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	URL         string          `json:"url,omitempty"`
	Headers     json.RawMessage `json:"headers,omitempty"`
	Env         json.RawMessage `json:"env,omitempty"`
	APIKey      string          `json:"-"` // encrypted at rest
	ToolPrefix  string          `json:"tool_prefix,omitempty"`
	TimeoutSec  int             `json:"timeout_sec"`
	Settings    json.RawMessage `json:"settings,omitempty"`
	Enabled     bool            `json:"enabled"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MCPAgentGrant exposes an MCP server to one agent.
type MCPAgentGrant struct {
	ID              uuid.UUID       `json:"id"`
	ServerID        uuid.UUID       `json:"server_id"`
	AgentID         uuid.UUID       `json:"agent_id"`
	Enabled         bool            `json:"enabled"`
	ToolAllow       json.RawMessage `json:"tool_allow,omitempty"`
	ToolDeny        json.RawMessage `json:"tool_deny,omitempty"`
	ConfigOverrides json.RawMessage `json:"config_overrides,omitempty"`
	GrantedBy       string          `json:"granted_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MCPUserGrant exposes an MCP server to one user across agents.
type MCPUserGrant struct {
	ID        uuid.UUID       `json:"id"`
	ServerID  uuid.UUID       `json:"server_id"`
	UserID    string          `json:"user_id"`
	Enabled   bool            `json:"enabled"`
	ToolAllow json.RawMessage `json:"tool_allow,omitempty"`
	ToolDeny  json.RawMessage `json:"tool_deny,omitempty"`
	GrantedBy string          `json:"granted_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// MCPAccessInfo is a resolved server plus the effective tool filters.
type MCPAccessInfo struct {
	Server    MCPServerData `json:"server"`
	ToolAllow []string      `json:"tool_allow,omitempty"`
	ToolDeny  []string      `json:"tool_deny,omitempty"`
}

// MCPAccessRequest is a pending request for server access.
type MCPAccessRequest struct {
	ID          uuid.UUID       `json:"id"`
	ServerID    uuid.UUID       `json:"server_id"`
	AgentID     *uuid.UUID      `json:"agent_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	Scope       string          `json:"scope"`  // "agent" or "user"
	Status      string          `json:"status"` // "pending", "approved", "rejected"
	Reason      string          `json:"reason,omitempty"`
	ToolAllow   json.RawMessage `json:"tool_allow,omitempty"`
	RequestedBy string          `json:"requested_by"`
	ReviewedBy  string          `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNote  string          `json:"review_note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MCPServerStore manages MCP server registration and grants (managed mode only).
type MCPServerStore interface {
	CreateServer(ctx context.Context, srv *MCPServerData) error
	GetServer(ctx context.Context, id uuid.UUID) (*MCPServerData, error)
	GetServerByName(ctx context.Context, name string) (*MCPServerData, error)
	ListServers(ctx context.Context) ([]MCPServerData, error)
	UpdateServer(ctx context.Context, id uuid.UUID, updates map[string]any) error
	DeleteServer(ctx context.Context, id uuid.UUID) error

	GrantToAgent(ctx context.Context, g *MCPAgentGrant) error
	RevokeFromAgent(ctx context.Context, serverID, agentID uuid.UUID) error
	ListAgentGrants(ctx context.Context, agentID uuid.UUID) ([]MCPAgentGrant, error)
	GrantToUser(ctx context.Context, g *MCPUserGrant) error
	RevokeFromUser(ctx context.Context, serverID uuid.UUID, userID string) error
	ListAccessible(ctx context.Context, agentID uuid.UUID, userID string) ([]MCPAccessInfo, error)

	CreateRequest(ctx context.Context, req *MCPAccessRequest) error
	ListPendingRequests(ctx context.Context) ([]MCPAccessRequest, error)
	ReviewRequest(ctx context.Context, requestID uuid.UUID, approved bool, reviewedBy, note string) error
}
