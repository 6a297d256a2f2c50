package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/backend/internal/types"
)

func testSession() types.Session {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return types.Session{
		ID:          "sess_01HX3Q0000000000000000TEST",
		Name:        "refactor auth",
		ProjectPath: "/home/dev/projects/auth",
		Config: types.LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
	}
}

func testMessages() []types.Message {
	base := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	return []types.Message{
		{ID: "msg_001", Role: types.RoleUser, Content: "rename the login handler", Timestamp: base},
		{ID: "msg_002", Role: types.RoleAssistant, Content: "done", Timestamp: base.Add(time.Minute)},
	}
}

func testTodos() []types.Todo {
	return []types.Todo{
		{Content: "rename handler", Status: types.TodoCompleted, ActiveForm: "renaming handler"},
		{Content: "update tests", Status: types.TodoPending, ActiveForm: "updating tests"},
	}
}

func TestEncodeProducesCurrentSchema(t *testing.T) {
	record, err := Encode(testSession(), testMessages(), testTodos(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, record.SchemaVersion)
	assert.Len(t, record.Messages, 2)
	assert.Len(t, record.Todos, 2)
	assert.True(t, record.Legacy(), "signature is attached later, by the engine")
}

func TestEncodeRejectsMessageWithoutID(t *testing.T) {
	messages := testMessages()
	messages[0].ID = ""

	_, err := Encode(testSession(), messages, nil, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonMissingID))
}

func TestEncodeRejectsMessageWithoutTimestamp(t *testing.T) {
	messages := testMessages()
	messages[1].Timestamp = time.Time{}

	_, err := Encode(testSession(), messages, nil, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonInvalidTimestamp))
}

func TestEncodeRejectsUnknownRole(t *testing.T) {
	messages := testMessages()
	messages[0].Role = "moderator"

	_, err := Encode(testSession(), messages, nil, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonUnknownRole))
}

func TestEncodeRejectsUnknownTodoStatus(t *testing.T) {
	todos := testTodos()
	todos[0].Status = "abandoned"

	_, err := Encode(testSession(), nil, todos, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonUnknownStatus))
}

func TestCanonicalIsDeterministic(t *testing.T) {
	closedAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	record1, err := Encode(testSession(), testMessages(), testTodos(), closedAt)
	require.NoError(t, err)
	record2, err := Encode(testSession(), testMessages(), testTodos(), closedAt)
	require.NoError(t, err)

	bytes1, err := Canonical(record1)
	require.NoError(t, err)
	bytes2, err := Canonical(record2)
	require.NoError(t, err)

	assert.Equal(t, bytes1, bytes2, "equal records must canonicalize identically")
}

func TestCanonicalExcludesSignature(t *testing.T) {
	record, err := Encode(testSession(), testMessages(), nil, time.Now())
	require.NoError(t, err)

	unsigned, err := Canonical(record)
	require.NoError(t, err)

	record.Signature = "deadbeef"
	signed, err := Canonical(record)
	require.NoError(t, err)

	assert.Equal(t, unsigned, signed, "signature must not feed into the signed bytes")
}

func TestDecodeRoundTrip(t *testing.T) {
	closedAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	record, err := Encode(testSession(), testMessages(), testTodos(), closedAt)
	require.NoError(t, err)
	record.Signature = "cafe"

	data, err := Marshal(record)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, record.SchemaVersion, decoded.SchemaVersion)
	assert.Equal(t, "cafe", decoded.Signature)
	assert.False(t, decoded.Legacy())

	session, messages, todos, gotClosedAt, err := Rebuild(decoded)
	require.NoError(t, err)
	assert.Equal(t, testSession(), session)
	assert.Equal(t, testMessages(), messages)
	assert.Equal(t, testTodos(), todos)
	assert.True(t, closedAt.Equal(gotClosedAt))
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"schema_version": `))
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
	assert.True(t, types.IsReason(err, types.ReasonMalformed))
}

func TestDecodeRejectsFutureVersion(t *testing.T) {
	_, err := Decode([]byte(`{"schema_version": 99, "session": {"id": "sess_x"}, "closed_at": "2026-03-10T10:00:00Z"}`))
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonUnsupportedVersion))
}

func TestDecodeRejectsMissingVersion(t *testing.T) {
	_, err := Decode([]byte(`{"session": {"id": "sess_x"}, "closed_at": "2026-03-10T10:00:00Z"}`))
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonInvalidVersion))
}

func TestDecodeRejectsUnknownRole(t *testing.T) {
	record, err := Encode(testSession(), testMessages(), nil, time.Now())
	require.NoError(t, err)
	record.Messages[0].Role = "oracle"

	data, err := Marshal(record)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonUnknownRole))
}

func TestDecodeRejectsBadTimestamp(t *testing.T) {
	record, err := Encode(testSession(), testMessages(), nil, time.Now())
	require.NoError(t, err)
	record.Messages[0].Timestamp = "yesterday"

	data, err := Marshal(record)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonInvalidTimestamp))
}

func TestDecodeErrorsNeverEchoContent(t *testing.T) {
	record, err := Encode(testSession(), testMessages(), nil, time.Now())
	require.NoError(t, err)
	record.Messages[0].Role = "secret-role-value"

	data, err := Marshal(record)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-role-value")
	assert.NotContains(t, types.Sanitize(err), "secret-role-value")
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	record, err := Encode(testSession(), testMessages(), nil, time.Now())
	require.NoError(t, err)
	record.Signature = "deadbeef"

	data, err := Marshal(record)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.False(t, decoded.Legacy())

	// One flipped byte in the signature key must fail the decode, not
	// drop the field and demote the record to unsigned
	mangled := bytes.Replace(data, []byte(`"signature"`), []byte(`"tignature"`), 1)
	require.NotEqual(t, data, mangled)

	_, err = Decode(mangled)
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonMalformed))
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	payload := strings.Repeat(`{"session":`, 30) + `1` + strings.Repeat(`}`, 30)

	_, err := Decode([]byte(payload))
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonMalformed))
}

func TestLegacyRecordDecodes(t *testing.T) {
	record, err := Encode(testSession(), testMessages(), nil, time.Now())
	require.NoError(t, err)

	data, err := Marshal(record)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, decoded.Legacy())
}
