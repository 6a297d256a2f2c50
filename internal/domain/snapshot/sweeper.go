package snapshot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/backend/internal/infrastructure/monitoring"
	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/persistence/codec"
	"github.com/loomworks/loom/backend/internal/types"
)

// SweepError records one snapshot the sweeper could not process
type SweepError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// SweepResult is the tri-state fold over one cleanup pass
type SweepResult struct {
	Deleted int          `json:"deleted"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Errors  []SweepError `json:"errors,omitempty"`
}

// Sweeper deletes snapshots older than an age threshold. It shares the
// store's delete primitive with the engine and never short-circuits: one
// bad file cannot abort the pass.
type Sweeper struct {
	store   *Store
	metrics *monitoring.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewSweeper creates a sweeper over the given store
func NewSweeper(store *Store, metrics *monitoring.Metrics, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Cleanup deletes snapshots whose closed_at is older than maxAge.
// Snapshots newer than the cutoff, or whose close time cannot be
// determined, are skipped rather than failed. Idempotent: an immediate
// re-run deletes nothing.
func (s *Sweeper) Cleanup(ctx context.Context, maxAge time.Duration) (SweepResult, error) {
	entries, err := s.store.List()
	if err != nil {
		return SweepResult{}, err
	}

	cutoff := s.now().Add(-maxAge)
	result := SweepResult{Errors: []SweepError{}}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		closedAt, err := s.closedAt(entry.ID)
		if err != nil {
			// Unparsable is a skip, not a failure: the sweeper only
			// deletes what it can positively age
			result.Skipped++
			s.logger.Warn("sweeper skipping unparsable snapshot",
				zap.String("session_id", entry.ID),
				zap.Error(err))
			continue
		}

		if !closedAt.Before(cutoff) {
			result.Skipped++
			continue
		}

		if err := s.store.Delete(entry.ID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, SweepError{
				ID:     entry.ID,
				Reason: types.ReasonOf(err),
			})
			s.logger.Error("sweeper delete failed",
				zap.String("session_id", entry.ID),
				zap.Error(err))
			continue
		}
		result.Deleted++
	}

	s.metrics.RecordSweep(result.Deleted, result.Skipped, result.Failed)
	if count, err := s.store.Count(); err == nil {
		s.metrics.SetPopulation(count)
	}
	s.logger.Info("sweep complete",
		zap.Int("deleted", result.Deleted),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *Sweeper) closedAt(sessionID string) (time.Time, error) {
	data, err := s.store.Read(sessionID)
	if err != nil {
		return time.Time{}, err
	}
	record, err := codec.Decode(data)
	if err != nil {
		return time.Time{}, err
	}
	return codec.ParseClosedAt(record)
}
