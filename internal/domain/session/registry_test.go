package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/types"
)

func registryWorker(t *testing.T, id, path string) *Worker {
	t.Helper()
	w := NewWorker(newTestSession(id, path), 0, logging.NewNop())
	t.Cleanup(w.Stop)
	return w
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	w := registryWorker(t, "sess_a", "/projects/a")

	require.NoError(t, r.Register(w, 0))
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get("sess_a")
	assert.True(t, ok)
	assert.Equal(t, w, got)

	got, ok = r.FindByPath("/projects/a")
	assert.True(t, ok)
	assert.Equal(t, w, got)
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(registryWorker(t, "sess_a", "/projects/a"), 0))

	err := r.Register(registryWorker(t, "sess_a", "/projects/b"), 0)
	require.Error(t, err)
}

func TestRegisterRejectsDuplicateProjectPath(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(registryWorker(t, "sess_a", "/projects/a"), 0))

	err := r.Register(registryWorker(t, "sess_b", "/projects/a"), 0)
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonDuplicateProject))
}

func TestUnregisterFreesPath(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(registryWorker(t, "sess_a", "/projects/a"), 0))

	r.Unregister("sess_a")
	assert.Equal(t, 0, r.Count())

	_, ok := r.FindByPath("/projects/a")
	assert.False(t, ok)

	// Path is reusable after unregister
	require.NoError(t, r.Register(registryWorker(t, "sess_b", "/projects/a"), 0))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Unregister("sess_missing")
	assert.Equal(t, 0, r.Count())
}

func TestListReturnsCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(registryWorker(t, "sess_a", "/projects/a"), 0))
	require.NoError(t, r.Register(registryWorker(t, "sess_b", "/projects/b"), 0))

	sessions := r.List()
	assert.Len(t, sessions, 2)
}
