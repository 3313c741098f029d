// inspo/utils/types/chat.go
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a chat message. Only the three constants below are valid.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*r = ""
		return nil
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ChatRequest is the body of a send-message call.
// SessionID is only read by POST /api/chat/messages.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
}

type CreateSessionRequest struct {
	ProjectID      int64  `json:"project_id"`
	Title          string `json:"title"`
	InitialMessage string `json:"initial_message,omitempty"`
}

// For the session list in the chat sidebar.
// LastActivity: RFC3339 string
type ChatSessionSummary struct {
	SessionID       string `json:"session_id"`
	ProjectID       int64  `json:"project_id"`
	Title           string `json:"title"`
	Ordinal         int    `json:"ordinal"`
	CreatedAt       string `json:"created_at"`
	MessageCount    int64  `json:"message_count"`
	LastMessage     string `json:"last_message,omitempty"`
	LastMessageRole Role   `json:"last_message_role,omitempty"`
	LastActivity    string `json:"last_activity"`
	ArchivedAt      string `json:"archived_at,omitempty"`
}

// ReplyState is where a session's reply pipeline currently is.
type ReplyState string

const (
	ReplyIdle     ReplyState = "idle"
	ReplyAwaiting ReplyState = "awaiting_reply"
	ReplyFailed   ReplyState = "reply_failed"
)

type SessionState struct {
	SessionID string     `json:"session_id"`
	State     ReplyState `json:"state"`
	Queued    int        `json:"queued"`
}

// IdeaSummary is the slice of a linked idea the assistant gets to see.
type IdeaSummary struct {
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

// ProjectContext is a read-only snapshot of project metadata.
type ProjectContext struct {
	ProjectID   int64         `json:"project_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	FolderPath  string        `json:"folder_path"`
	Ideas       []IdeaSummary `json:"ideas"`
}
