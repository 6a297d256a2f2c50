// Package codec converts between the live session model and the canonical,
// versioned on-disk snapshot record.
//
// Canonical form is key-sorted and type-stable: logically equal records
// always encode to identical bytes, which is what makes the integrity
// signature meaningful. Decoding treats input as untrusted and reports
// failures as bare reason codes; the offending value is never echoed into
// the error.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/loomworks/loom/backend/internal/types"
	"github.com/loomworks/loom/backend/internal/utils"
)

// SchemaVersion is the current on-disk record version
const SchemaVersion = 1

// strictJSON rejects unknown fields. A corrupted key name must fail the
// decode outright; silently dropping the field would let a mangled
// signature key demote a signed record to legacy and skip verification.
var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

// snapshotValidator bounds size and nesting depth before any field of the
// untrusted payload is interpreted
var snapshotValidator = utils.SnapshotValidator()

// ===========================================================================
// Wire types
// ===========================================================================

// SessionRecord is the on-disk form of a session
type SessionRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ProjectPath string          `json:"project_path"`
	Config      types.LLMConfig `json:"config"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// MessageRecord is the on-disk form of a conversation message
type MessageRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// TodoRecord is the on-disk form of a task list entry
type TodoRecord struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"active_form"`
}

// PersistedRecord is the complete versioned snapshot written to disk
type PersistedRecord struct {
	SchemaVersion int             `json:"schema_version"`
	Session       SessionRecord   `json:"session"`
	Messages      []MessageRecord `json:"messages"`
	Todos         []TodoRecord    `json:"todos"`
	ClosedAt      string          `json:"closed_at"`
	Signature     string          `json:"signature,omitempty"`
}

// Legacy reports whether the record predates integrity signing
func (r *PersistedRecord) Legacy() bool {
	return r.Signature == ""
}

// ===========================================================================
// Encoding
// ===========================================================================

// Encode builds a snapshot record from live session content. Messages
// without a stable id or timestamp are rejected: both are required for the
// record to round-trip losslessly.
func Encode(session types.Session, messages []types.Message, todos []types.Todo, closedAt time.Time) (*PersistedRecord, error) {
	if err := session.Validate(); err != nil {
		return nil, types.WrapError(types.KindValidation, types.ReasonInvalidSession, err)
	}
	if closedAt.IsZero() {
		return nil, types.NewError(types.KindValidation, types.ReasonInvalidTimestamp)
	}

	record := &PersistedRecord{
		SchemaVersion: SchemaVersion,
		Session: SessionRecord{
			ID:          session.ID,
			Name:        session.Name,
			ProjectPath: session.ProjectPath,
			Config:      session.Config,
			CreatedAt:   session.CreatedAt.UTC().Format(time.RFC3339Nano),
			UpdatedAt:   session.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
		Messages: make([]MessageRecord, 0, len(messages)),
		Todos:    make([]TodoRecord, 0, len(todos)),
		ClosedAt: closedAt.UTC().Format(time.RFC3339Nano),
	}

	for _, msg := range messages {
		if msg.ID == "" {
			return nil, types.NewError(types.KindValidation, types.ReasonMissingID)
		}
		if msg.Timestamp.IsZero() {
			return nil, types.NewError(types.KindValidation, types.ReasonInvalidTimestamp)
		}
		if !msg.Role.Valid() {
			return nil, types.NewError(types.KindValidation, types.ReasonUnknownRole)
		}
		record.Messages = append(record.Messages, MessageRecord{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	for _, todo := range todos {
		if !todo.Status.Valid() {
			return nil, types.NewError(types.KindValidation, types.ReasonUnknownStatus)
		}
		record.Todos = append(record.Todos, TodoRecord{
			Content:    todo.Content,
			Status:     string(todo.Status),
			ActiveForm: todo.ActiveForm,
		})
	}

	return record, nil
}

// Canonical returns the key-sorted encoding of the record with the
// signature excluded. These are the bytes that get signed and verified.
func Canonical(record *PersistedRecord) ([]byte, error) {
	unsigned := *record
	unsigned.Signature = ""
	return canonicalize(&unsigned)
}

// Marshal returns the final file bytes, signature included, in the same
// canonical key order.
func Marshal(record *PersistedRecord) ([]byte, error) {
	return canonicalize(record)
}

// canonicalize round-trips the record through a generic map so that
// encoding/json's sorted map-key output yields deterministic bytes.
func canonicalize(record *PersistedRecord) ([]byte, error) {
	direct, err := json.Marshal(record)
	if err != nil {
		return nil, types.WrapError(types.KindValidation, types.ReasonMalformed, err)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(direct, &generic); err != nil {
		return nil, types.WrapError(types.KindValidation, types.ReasonMalformed, err)
	}

	sorted, err := json.Marshal(generic)
	if err != nil {
		return nil, types.WrapError(types.KindValidation, types.ReasonMalformed, err)
	}
	return sorted, nil
}

// ===========================================================================
// Decoding
// ===========================================================================

// Decode parses and validates untrusted snapshot bytes. The returned record
// is structurally valid: version is known, fields are ones this schema
// defines, enums are in range, timestamps parse. Signature verification is
// the caller's responsibility.
func Decode(data []byte) (*PersistedRecord, error) {
	if err := snapshotValidator.ValidateJSON(data); err != nil {
		return nil, types.WrapError(types.KindValidation, types.ReasonMalformed, err)
	}

	var record PersistedRecord
	if err := strictJSON.Unmarshal(data, &record); err != nil {
		return nil, types.WrapError(types.KindValidation, types.ReasonMalformed, err)
	}

	if record.SchemaVersion <= 0 {
		return nil, types.NewError(types.KindValidation, types.ReasonInvalidVersion)
	}
	if record.SchemaVersion > SchemaVersion {
		return nil, types.NewError(types.KindValidation, types.ReasonUnsupportedVersion)
	}

	if record.Session.ID == "" {
		return nil, types.NewError(types.KindValidation, types.ReasonMissingID)
	}
	if _, err := parseTimestamp(record.Session.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := parseTimestamp(record.Session.UpdatedAt); err != nil {
		return nil, err
	}
	if _, err := parseTimestamp(record.ClosedAt); err != nil {
		return nil, err
	}

	for _, msg := range record.Messages {
		if msg.ID == "" {
			return nil, types.NewError(types.KindValidation, types.ReasonMissingID)
		}
		if !types.Role(msg.Role).Valid() {
			return nil, types.NewError(types.KindValidation, types.ReasonUnknownRole)
		}
		if _, err := parseTimestamp(msg.Timestamp); err != nil {
			return nil, err
		}
	}

	for _, todo := range record.Todos {
		if !types.TodoStatus(todo.Status).Valid() {
			return nil, types.NewError(types.KindValidation, types.ReasonUnknownStatus)
		}
	}

	return &record, nil
}

// Rebuild converts a validated record back into live session content.
func Rebuild(record *PersistedRecord) (types.Session, []types.Message, []types.Todo, time.Time, error) {
	createdAt, err := parseTimestamp(record.Session.CreatedAt)
	if err != nil {
		return types.Session{}, nil, nil, time.Time{}, err
	}
	updatedAt, err := parseTimestamp(record.Session.UpdatedAt)
	if err != nil {
		return types.Session{}, nil, nil, time.Time{}, err
	}
	closedAt, err := parseTimestamp(record.ClosedAt)
	if err != nil {
		return types.Session{}, nil, nil, time.Time{}, err
	}

	session := types.Session{
		ID:          record.Session.ID,
		Name:        record.Session.Name,
		ProjectPath: record.Session.ProjectPath,
		Config:      record.Session.Config,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}

	messages := make([]types.Message, 0, len(record.Messages))
	for _, msg := range record.Messages {
		ts, err := parseTimestamp(msg.Timestamp)
		if err != nil {
			return types.Session{}, nil, nil, time.Time{}, err
		}
		messages = append(messages, types.Message{
			ID:        msg.ID,
			Role:      types.Role(msg.Role),
			Content:   msg.Content,
			Timestamp: ts,
		})
	}

	todos := make([]types.Todo, 0, len(record.Todos))
	for _, todo := range record.Todos {
		todos = append(todos, types.Todo{
			Content:    todo.Content,
			Status:     types.TodoStatus(todo.Status),
			ActiveForm: todo.ActiveForm,
		})
	}

	return session, messages, todos, closedAt, nil
}

// ParseClosedAt extracts the close time of a record without a full rebuild.
// Used by the sweeper when categorizing snapshots against the age cutoff.
func ParseClosedAt(record *PersistedRecord) (time.Time, error) {
	return parseTimestamp(record.ClosedAt)
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, types.WrapError(types.KindValidation, types.ReasonInvalidTimestamp,
			fmt.Errorf("parsing timestamp: %w", err))
	}
	return ts, nil
}
