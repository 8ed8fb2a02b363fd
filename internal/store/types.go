package store

import (
	"encoding/json"
	"time"
)

// --- Conversation log entries (per agent-mode namespace) ---

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single committed conversation entry. Immutable once appended.
// Readers must tolerate missing optional fields (no schema migration).
type Turn struct {
	ID        string    `json:"id,omitempty"` // ULID
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode,omitempty"` // behavior tag that handled the turn
}

// --- Snapshot (state.json) ---

type scalarEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at,omitempty"` // Unix seconds, 0 = never
}

func (e scalarEntry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt <= now.Unix()
}

type snapshot struct {
	Scalars       map[string]scalarEntry     `json:"scalars"`
	Conversations map[string][]Turn          `json:"conversations"`
	Contexts      map[string]json.RawMessage `json:"contexts"`
}

func newSnapshot() snapshot {
	return snapshot{
		Scalars:       make(map[string]scalarEntry),
		Conversations: make(map[string][]Turn),
		Contexts:      make(map[string]json.RawMessage),
	}
}
