package types

import (
	"fmt"
	"time"
	"unicode"
)

// MaxSessionNameLength bounds user-supplied session names
const MaxSessionNameLength = 50

// Role identifies the author of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is a known enum value
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// TodoStatus tracks the lifecycle of a task list entry
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Valid reports whether the status is a known enum value
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted:
		return true
	}
	return false
}

// LLMConfig holds the model configuration bound to a session
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Validate checks configuration bounds
func (c LLMConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature %v out of range [0.0, 2.0]", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// Session represents a conversation bound to a project directory
type Session struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProjectPath string    `json:"project_path"`
	Config      LLMConfig `json:"config"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks session invariants (updated_at never precedes created_at)
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := ValidateSessionName(s.Name); err != nil {
		return err
	}
	if s.ProjectPath == "" {
		return fmt.Errorf("project path is required")
	}
	if err := s.Config.Validate(); err != nil {
		return err
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		return fmt.Errorf("updated_at precedes created_at")
	}
	return nil
}

// ValidateSessionName enforces length and printability of session names
func ValidateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is required")
	}
	count := 0
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("session name contains non-printable characters")
		}
		count++
	}
	if count > MaxSessionNameLength {
		return fmt.Errorf("session name exceeds %d characters", MaxSessionNameLength)
	}
	return nil
}

// Message represents a single conversation entry
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Todo represents a single task list entry
type Todo struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"active_form"`
}

// MessagePage is one page of a conversation read
type MessagePage struct {
	Items   []Message `json:"items"`
	Total   int       `json:"total"`
	HasMore bool      `json:"has_more"`
}

// SessionMetadata contains summary information for listings
type SessionMetadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ProjectPath  string    `json:"project_path"`
	ClosedAt     time.Time `json:"closed_at"`
	MessageCount int       `json:"message_count"`
	TodoCount    int       `json:"todo_count"`
	Legacy       bool      `json:"legacy,omitempty"`
}
