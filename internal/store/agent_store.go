package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentData is one managed agent row. Config columns hold JSON blobs so new
// settings don't need schema changes; the runtime merges them over defaults.
type AgentData struct {
	ID                  uuid.UUID       `json:"id"`
	AgentKey            string          `json:"agent_key"`
	DisplayName         string          `json:"display_name"`
	OwnerID             string          `json:"owner_id"`
	Provider            string          `json:"provider"`
	Model               string          `json:"model"`
	ContextWindow       int             `json:"context_window"`
	MaxToolIterations   int             `json:"max_tool_iterations"`
	Workspace           string          `json:"workspace"`
	RestrictToWorkspace bool            `json:"restrict_to_workspace"`
	ToolsConfig         json.RawMessage `json:"tools_config,omitempty"`
	SandboxConfig       json.RawMessage `json:"sandbox_config,omitempty"`
	SubagentsConfig     json.RawMessage `json:"subagents_config,omitempty"`
	MemoryConfig        json.RawMessage `json:"memory_config,omitempty"`
	CompactionConfig    json.RawMessage `json:"compaction_config,omitempty"`
	ContextPruning      json.RawMessage `json:"context_pruning,omitempty"`
	OtherConfig         json.RawMessage `json:"other_config,omitempty"`
	AgentType           string          `json:"agent_type"` // "personal" or "shared"
	IsDefault           bool            `json:"is_default"`
	Status              string          `json:"status"` // "active", "paused"
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// AgentShareData grants a user access to a non-default agent.
type AgentShareData struct {
	ID        uuid.UUID `json:"id"`
	AgentID   uuid.UUID `json:"agent_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"` // "user" or "admin"
	GrantedBy string    `json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentContextFileData is a bootstrap file injected into an agent's context.
type AgentContextFileData struct {
	AgentID  uuid.UUID `json:"agent_id"`
	FileName string    `json:"file_name"`
	Content  string    `json:"content"`
}

// UserContextFileData is a per-user bootstrap file for one agent.
type UserContextFileData struct {
	AgentID  uuid.UUID `json:"agent_id"`
	UserID   string    `json:"user_id"`
	FileName string    `json:"file_name"`
	Content  string    `json:"content"`
}

// UserAgentOverrideData lets a user pick a different provider/model for an agent.
type UserAgentOverrideData struct {
	AgentID  uuid.UUID `json:"agent_id"`
	UserID   string    `json:"user_id"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
}

// AgentStore manages agents, sharing, and per-user state (managed mode only).
type AgentStore interface {
	Create(ctx context.Context, agent *AgentData) error
	GetByKey(ctx context.Context, agentKey string) (*AgentData, error)
	GetByID(ctx context.Context, id uuid.UUID) (*AgentData, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, ownerID string) ([]AgentData, error)

	// Access control
	ShareAgent(ctx context.Context, agentID uuid.UUID, userID, role, grantedBy string) error
	RevokeShare(ctx context.Context, agentID uuid.UUID, userID string) error
	ListShares(ctx context.Context, agentID uuid.UUID) ([]AgentShareData, error)
	CanAccess(ctx context.Context, agentID uuid.UUID, userID string) (bool, string, error)
	ListAccessible(ctx context.Context, userID string) ([]AgentData, error)

	// Context files
	GetAgentContextFiles(ctx context.Context, agentID uuid.UUID) ([]AgentContextFileData, error)
	SetAgentContextFile(ctx context.Context, agentID uuid.UUID, fileName, content string) error
	GetUserContextFiles(ctx context.Context, agentID uuid.UUID, userID string) ([]UserContextFileData, error)
	SetUserContextFile(ctx context.Context, agentID uuid.UUID, userID, fileName, content string) error
	DeleteUserContextFile(ctx context.Context, agentID uuid.UUID, userID, fileName string) error

	// Per-user state
	GetOrCreateUserProfile(ctx context.Context, agentID uuid.UUID, userID, workspace string) (bool, error)
	GetUserOverride(ctx context.Context, agentID uuid.UUID, userID string) (*UserAgentOverrideData, error)
	SetUserOverride(ctx context.Context, override *UserAgentOverrideData) error
}
