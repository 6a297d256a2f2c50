package session

import (
	"github.com/loomworks/loom/backend/internal/infrastructure/monitoring"
	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/types"

	"go.uber.org/zap"
)

// Supervisor starts and stops session workers. The persistence engine
// consumes it as an interface so resume tests can substitute failures.
type Supervisor interface {
	// Start brings up a worker for the session. Returns a typed capacity
	// error when the live-session cap is hit or the project path already
	// has a live session.
	Start(session types.Session) (*Worker, error)
	// Stop tears down the worker for the session. Idempotent.
	Stop(sessionID string) error
}

// LocalSupervisor runs workers in-process against a shared registry
type LocalSupervisor struct {
	registry    *Registry
	maxLive     int
	maxMessages int
	metrics     *monitoring.Metrics
	logger      *logging.Logger
}

// NewLocalSupervisor creates a supervisor bound to a registry
func NewLocalSupervisor(registry *Registry, maxLive, maxMessages int, metrics *monitoring.Metrics, logger *logging.Logger) *LocalSupervisor {
	return &LocalSupervisor{
		registry:    registry,
		maxLive:     maxLive,
		maxMessages: maxMessages,
		metrics:     metrics,
		logger:      logger,
	}
}

// Start registers a fresh worker. The live cap and project uniqueness are
// enforced atomically by the registry.
func (s *LocalSupervisor) Start(session types.Session) (*Worker, error) {
	w := NewWorker(session, s.maxMessages, s.logger)
	if err := s.registry.Register(w, s.maxLive); err != nil {
		w.Stop()
		if types.IsReason(err, types.ReasonPopulationLimit) {
			s.logger.Warn("live session cap reached",
				zap.Int("max_live", s.maxLive))
		}
		return nil, err
	}

	s.metrics.SetSessionsLive(s.registry.Count())
	s.logger.Info("session worker started", zap.String("session_id", session.ID))
	return w, nil
}

// Stop tears down and unregisters the worker, if live
func (s *LocalSupervisor) Stop(sessionID string) error {
	w, ok := s.registry.Get(sessionID)
	if !ok {
		return nil
	}
	w.Stop()
	s.registry.Unregister(sessionID)
	s.metrics.SetSessionsLive(s.registry.Count())
	s.logger.Info("session worker stopped", zap.String("session_id", sessionID))
	return nil
}
