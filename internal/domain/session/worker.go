// Package session implements live session workers and their registry.
//
// Each live session's conversation and task list are owned by exactly one
// worker goroutine and mutated only through its mailbox, so there is no
// shared mutable memory across sessions and no in-worker locking.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/shared/id"
	"github.com/loomworks/loom/backend/internal/types"
)

// DefaultMaxMessages bounds conversation history per worker
const DefaultMaxMessages = 1000

// AllMessages is the pagination sentinel requesting the full conversation
const AllMessages = -1

// ===========================================================================
// Mailbox requests
// ===========================================================================

type appendRequest struct {
	message types.Message
	reply   chan error
}

type replaceTodosRequest struct {
	todos []types.Todo
	reply chan error
}

type messagesRequest struct {
	offset int
	limit  int
	reply  chan types.MessagePage
}

type todosRequest struct {
	reply chan []types.Todo
}

type contentRequest struct {
	reply chan Content
}

// Content is everything a worker owns, read atomically at save time
type Content struct {
	Session  types.Session
	Messages []types.Message
	Todos    []types.Todo
}

// ===========================================================================
// Worker
// ===========================================================================

// Worker owns one session's mutable state behind a serialized mailbox.
// The session copy is additionally guarded by sessionMu so Session can be
// read without a round trip through the mailbox.
type Worker struct {
	sessionMu   sync.RWMutex
	session     types.Session
	messages    []types.Message
	todos       []types.Todo
	maxMessages int

	mailbox  chan interface{}
	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
	logger   *logging.Logger
}

// NewWorker creates and starts a worker for the given session
func NewWorker(session types.Session, maxMessages int, logger *logging.Logger) *Worker {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	w := &Worker{
		session:     session,
		maxMessages: maxMessages,
		mailbox:     make(chan interface{}),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		logger:      logger,
	}
	go w.run()
	return w
}

// Session returns a copy of the session the worker owns
func (w *Worker) Session() types.Session {
	w.sessionMu.RLock()
	defer w.sessionMu.RUnlock()
	return w.session
}

// ID returns the owning session's id
func (w *Worker) ID() string {
	return w.session.ID
}

func (w *Worker) touch() {
	w.sessionMu.Lock()
	w.session.UpdatedAt = time.Now()
	w.sessionMu.Unlock()
}

// AppendMessage adds a message to the conversation. A missing id or
// timestamp is filled in; when history is full the oldest message is
// evicted to make room.
func (w *Worker) AppendMessage(ctx context.Context, message types.Message) error {
	if !message.Role.Valid() {
		return types.NewError(types.KindValidation, types.ReasonUnknownRole)
	}
	if message.ID == "" {
		message.ID = id.NewMessageID().String()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	req := appendRequest{message: message, reply: make(chan error, 1)}
	if err := w.send(ctx, req); err != nil {
		return err
	}
	return w.awaitErr(ctx, req.reply)
}

// ReplaceTodos swaps the task list wholesale
func (w *Worker) ReplaceTodos(ctx context.Context, todos []types.Todo) error {
	for _, todo := range todos {
		if !todo.Status.Valid() {
			return types.NewError(types.KindValidation, types.ReasonUnknownStatus)
		}
	}

	req := replaceTodosRequest{todos: append([]types.Todo(nil), todos...), reply: make(chan error, 1)}
	if err := w.send(ctx, req); err != nil {
		return err
	}
	return w.awaitErr(ctx, req.reply)
}

// Messages returns one page of the conversation. limit of AllMessages
// returns everything from offset.
func (w *Worker) Messages(ctx context.Context, offset, limit int) (types.MessagePage, error) {
	req := messagesRequest{offset: offset, limit: limit, reply: make(chan types.MessagePage, 1)}
	if err := w.send(ctx, req); err != nil {
		return types.MessagePage{}, err
	}

	select {
	case page := <-req.reply:
		return page, nil
	case <-w.stopped:
		return types.MessagePage{}, errStopped()
	case <-ctx.Done():
		return types.MessagePage{}, ctx.Err()
	}
}

// Todos returns a copy of the current task list
func (w *Worker) Todos(ctx context.Context) ([]types.Todo, error) {
	req := todosRequest{reply: make(chan []types.Todo, 1)}
	if err := w.send(ctx, req); err != nil {
		return nil, err
	}

	select {
	case todos := <-req.reply:
		return todos, nil
	case <-w.stopped:
		return nil, errStopped()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Content reads the worker's full state in one serialized request,
// giving save a consistent view with no mutation interleaved.
func (w *Worker) Content(ctx context.Context) (Content, error) {
	req := contentRequest{reply: make(chan Content, 1)}
	if err := w.send(ctx, req); err != nil {
		return Content{}, err
	}

	select {
	case content := <-req.reply:
		return content, nil
	case <-w.stopped:
		return Content{}, errStopped()
	case <-ctx.Done():
		return Content{}, ctx.Err()
	}
}

// Stop shuts the worker down. Safe to call concurrently and more than
// once; in-flight requests racing the stop receive a stopped error.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// ===========================================================================
// Mailbox loop
// ===========================================================================

func (w *Worker) run() {
	defer close(w.stopped)

	for {
		select {
		case raw := <-w.mailbox:
			w.handle(raw)
		case <-w.done:
			return
		}
	}
}

func (w *Worker) handle(raw interface{}) {
	switch req := raw.(type) {
	case appendRequest:
		if len(w.messages) >= w.maxMessages {
			// History is full: evict the oldest entry
			w.logger.Debug("message history full, evicting oldest",
				zap.String("session_id", w.session.ID))
			w.messages = w.messages[1:]
		}
		w.messages = append(w.messages, req.message)
		w.touch()
		req.reply <- nil

	case replaceTodosRequest:
		w.todos = req.todos
		w.touch()
		req.reply <- nil

	case messagesRequest:
		req.reply <- w.page(req.offset, req.limit)

	case todosRequest:
		req.reply <- append([]types.Todo(nil), w.todos...)

	case contentRequest:
		req.reply <- Content{
			Session:  w.Session(),
			Messages: append([]types.Message(nil), w.messages...),
			Todos:    append([]types.Todo(nil), w.todos...),
		}
	}
}

func (w *Worker) page(offset, limit int) types.MessagePage {
	total := len(w.messages)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return types.MessagePage{Items: []types.Message{}, Total: total, HasMore: false}
	}

	end := total
	if limit != AllMessages && limit >= 0 && offset+limit < total {
		end = offset + limit
	}

	return types.MessagePage{
		Items:   append([]types.Message(nil), w.messages[offset:end]...),
		Total:   total,
		HasMore: end < total,
	}
}

func (w *Worker) send(ctx context.Context, req interface{}) error {
	select {
	case w.mailbox <- req:
		return nil
	case <-w.stopped:
		return errStopped()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) awaitErr(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-w.stopped:
		return errStopped()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errStopped() error {
	return types.NewError(types.KindValidation, types.ReasonInvalidSession)
}
