package session

import (
	"sync"

	"github.com/loomworks/loom/backend/internal/types"
)

// Registry tracks live session workers. It is an injected collaborator,
// not an ambient singleton: everything that needs the live set receives
// the same instance.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Worker
	byPath  map[string]string // project path -> session id
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Worker),
		byPath: make(map[string]string),
	}
}

// Register adds a worker to the live set. Admission is atomic: the live
// cap, the session id, and the project path are all checked under one
// lock, so concurrent registrations cannot overshoot maxLive. A maxLive
// of zero or less means unlimited.
func (r *Registry) Register(w *Worker, maxLive int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if maxLive > 0 && len(r.byID) >= maxLive {
		return types.NewError(types.KindCapacity, types.ReasonPopulationLimit)
	}

	session := w.Session()
	if _, exists := r.byID[session.ID]; exists {
		return types.NewError(types.KindValidation, types.ReasonInvalidSession)
	}
	if _, exists := r.byPath[session.ProjectPath]; exists {
		return types.NewError(types.KindCapacity, types.ReasonDuplicateProject)
	}

	r.byID[session.ID] = w
	r.byPath[session.ProjectPath] = session.ID
	return nil
}

// Unregister removes a worker from the live set. Idempotent.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.byID[sessionID]
	if !exists {
		return
	}
	delete(r.byID, sessionID)
	delete(r.byPath, w.Session().ProjectPath)
}

// Get returns the worker owning the given session, if live
func (r *Registry) Get(sessionID string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byID[sessionID]
	return w, ok
}

// FindByPath returns the worker bound to the given project path, if any
func (r *Registry) FindByPath(projectPath string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.byPath[projectPath]
	if !ok {
		return nil, false
	}
	w, ok := r.byID[sessionID]
	return w, ok
}

// Count returns the number of live workers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List returns copies of all live sessions
func (r *Registry) List() []types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]types.Session, 0, len(r.byID))
	for _, w := range r.byID {
		sessions = append(sessions, w.Session())
	}
	return sessions
}
