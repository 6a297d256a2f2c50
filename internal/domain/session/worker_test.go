package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/types"
)

func newTestSession(id, path string) types.Session {
	now := time.Now()
	return types.Session{
		ID:          id,
		Name:        "test session",
		ProjectPath: path,
		Config: types.LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestWorker(t *testing.T, maxMessages int) *Worker {
	t.Helper()
	w := NewWorker(newTestSession("sess_worker", "/tmp/project"), maxMessages, logging.NewNop())
	t.Cleanup(w.Stop)
	return w
}

func TestAppendAndReadMessages(t *testing.T) {
	w := newTestWorker(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := w.AppendMessage(ctx, types.Message{
			Role:    types.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	page, err := w.Messages(ctx, 0, AllMessages)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 3)
	assert.False(t, page.HasMore)
	assert.Equal(t, "message 0", page.Items[0].Content)
	assert.Equal(t, "message 2", page.Items[2].Content)
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	w := newTestWorker(t, 0)
	ctx := context.Background()

	require.NoError(t, w.AppendMessage(ctx, types.Message{Role: types.RoleUser, Content: "hi"}))

	page, err := w.Messages(ctx, 0, AllMessages)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.NotEmpty(t, page.Items[0].ID)
	assert.False(t, page.Items[0].Timestamp.IsZero())
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	w := newTestWorker(t, 0)

	err := w.AppendMessage(context.Background(), types.Message{Role: "narrator", Content: "x"})
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonUnknownRole))
}

func TestHistoryBoundEvictsOldest(t *testing.T) {
	w := newTestWorker(t, 5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, w.AppendMessage(ctx, types.Message{
			Role:    types.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	page, err := w.Messages(ctx, 0, AllMessages)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, "message 3", page.Items[0].Content, "oldest messages evicted first")
	assert.Equal(t, "message 7", page.Items[4].Content)
}

func TestPagination(t *testing.T) {
	w := newTestWorker(t, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, w.AppendMessage(ctx, types.Message{
			Role:    types.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	page, err := w.Messages(ctx, 0, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)
	assert.Equal(t, 10, page.Total)
	assert.True(t, page.HasMore)

	page, err = w.Messages(ctx, 8, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMore)

	page, err = w.Messages(ctx, 50, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestReplaceTodos(t *testing.T) {
	w := newTestWorker(t, 0)
	ctx := context.Background()

	todos := []types.Todo{
		{Content: "write tests", Status: types.TodoInProgress, ActiveForm: "writing tests"},
		{Content: "ship it", Status: types.TodoPending, ActiveForm: "shipping it"},
	}
	require.NoError(t, w.ReplaceTodos(ctx, todos))

	got, err := w.Todos(ctx)
	require.NoError(t, err)
	assert.Equal(t, todos, got)

	// Replacement is wholesale
	require.NoError(t, w.ReplaceTodos(ctx, todos[:1]))
	got, err = w.Todos(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReplaceTodosRejectsUnknownStatus(t *testing.T) {
	w := newTestWorker(t, 0)

	err := w.ReplaceTodos(context.Background(), []types.Todo{{Content: "x", Status: "paused"}})
	require.Error(t, err)
	assert.True(t, types.IsReason(err, types.ReasonUnknownStatus))
}

func TestContentIsConsistentCopy(t *testing.T) {
	w := newTestWorker(t, 0)
	ctx := context.Background()

	require.NoError(t, w.AppendMessage(ctx, types.Message{Role: types.RoleUser, Content: "hello"}))
	require.NoError(t, w.ReplaceTodos(ctx, []types.Todo{{Content: "t", Status: types.TodoPending}}))

	content, err := w.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess_worker", content.Session.ID)
	assert.Len(t, content.Messages, 1)
	assert.Len(t, content.Todos, 1)

	// Mutating the copy does not touch the worker
	content.Messages[0].Content = "mutated"
	page, err := w.Messages(ctx, 0, AllMessages)
	require.NoError(t, err)
	assert.Equal(t, "hello", page.Items[0].Content)
}

func TestStoppedWorkerRejectsRequests(t *testing.T) {
	w := NewWorker(newTestSession("sess_stop", "/tmp/project"), 0, logging.NewNop())
	w.Stop()
	w.Stop() // idempotent

	err := w.AppendMessage(context.Background(), types.Message{Role: types.RoleUser, Content: "x"})
	require.Error(t, err)
}

func TestConcurrentStopDoesNotPanic(t *testing.T) {
	w := NewWorker(newTestSession("sess_race", "/tmp/project"), 0, logging.NewNop())

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			w.Stop()
		}()
	}
	close(start)
	wg.Wait()

	err := w.AppendMessage(context.Background(), types.Message{Role: types.RoleUser, Content: "x"})
	require.Error(t, err)
}

func TestRequestHonorsContext(t *testing.T) {
	w := newTestWorker(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Worker is alive but the caller gave up
	_, err := w.Messages(ctx, 0, AllMessages)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
