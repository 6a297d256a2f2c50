// Package snapshot implements the session persistence engine: durable
// save on close, guarded resume with path re-validation, population
// management, and the age sweeper.
package snapshot

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/backend/internal/domain/session"
	"github.com/loomworks/loom/backend/internal/infrastructure/monitoring"
	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/persistence/codec"
	"github.com/loomworks/loom/backend/internal/persistence/integrity"
	"github.com/loomworks/loom/backend/internal/persistence/ratelimit"
	"github.com/loomworks/loom/backend/internal/shared/paths"
	"github.com/loomworks/loom/backend/internal/types"
)

// Rate-limited operation names. Session and global budgets are separate
// operations so each carries its own limit and window.
const (
	OpResume       = "resume"
	OpResumeGlobal = "resume_global"
)

// warnFraction is the population level at which saves start warning
const warnFraction = 0.8

// Options configures engine capacity behavior
type Options struct {
	PopulationCap int
	AutoEvict     bool
}

// Engine coordinates the snapshot lifecycle. Saves are serialized per
// session; resumes for different sessions may run concurrently.
type Engine struct {
	store      *Store
	limiter    *ratelimit.Limiter
	supervisor session.Supervisor
	metrics    *monitoring.Metrics
	logger     *logging.Logger
	opts       Options

	mu          sync.Mutex
	saveLocks   map[string]*sync.Mutex
	lastResumed map[string]time.Time
}

// NewEngine creates a persistence engine
func NewEngine(store *Store, limiter *ratelimit.Limiter, supervisor session.Supervisor, metrics *monitoring.Metrics, logger *logging.Logger, opts Options) *Engine {
	return &Engine{
		store:       store,
		limiter:     limiter,
		supervisor:  supervisor,
		metrics:     metrics,
		logger:      logger,
		opts:        opts,
		saveLocks:   make(map[string]*sync.Mutex),
		lastResumed: make(map[string]time.Time),
	}
}

// Store exposes the underlying store to collaborators sharing the delete
// primitive.
func (e *Engine) Store() *Store {
	return e.store
}

// ===========================================================================
// Save
// ===========================================================================

// Save persists a closed session's content. Population limits apply only
// to new files; overwriting an existing snapshot never counts against the
// cap. The per-session lock keeps an autosave-on-close from interleaving
// with an explicit save.
func (e *Engine) Save(ctx context.Context, content session.Content) error {
	start := time.Now()
	sessionID := content.Session.ID

	if !e.store.Exists(sessionID) {
		if err := e.ensureCapacity(sessionID); err != nil {
			return err
		}
	}

	lock := e.saveLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := codec.Encode(content.Session, content.Messages, content.Todos, time.Now())
	if err != nil {
		return err
	}

	canonical, err := codec.Canonical(record)
	if err != nil {
		return err
	}
	signature, err := integrity.Sign(canonical)
	if err != nil {
		return types.WrapError(types.KindIO, types.ReasonIOFailure, err)
	}
	record.Signature = signature

	data, err := codec.Marshal(record)
	if err != nil {
		return err
	}

	if err := e.store.Write(sessionID, data); err != nil {
		e.logger.Error("snapshot write failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return err
	}

	e.refreshPopulation()
	e.metrics.RecordSave(time.Since(start))
	e.logger.Info("session snapshot saved",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(content.Messages)),
		zap.Int("todos", len(content.Todos)))
	return nil
}

// ensureCapacity enforces the population cap for a brand-new snapshot,
// evicting the least-recently-resumed snapshot when auto-eviction is on.
func (e *Engine) ensureCapacity(newID string) error {
	if e.opts.PopulationCap <= 0 {
		return nil
	}

	count, err := e.store.Count()
	if err != nil {
		return err
	}

	if float64(count) >= warnFraction*float64(e.opts.PopulationCap) && count < e.opts.PopulationCap {
		e.logger.Warn("snapshot population approaching cap",
			zap.Int("count", count),
			zap.Int("cap", e.opts.PopulationCap))
	}

	if count < e.opts.PopulationCap {
		return nil
	}

	if !e.opts.AutoEvict {
		return types.NewError(types.KindCapacity, types.ReasonPopulationLimit)
	}
	return e.evictOne(newID)
}

// evictOne deletes the least-recently-resumed snapshot. Never-resumed
// snapshots sort oldest, tie-broken by file age.
func (e *Engine) evictOne(excludeID string) error {
	entries, err := e.store.List()
	if err != nil {
		return err
	}

	var victim string
	var victimResumed time.Time
	var victimMod time.Time
	found := false

	e.mu.Lock()
	for _, entry := range entries {
		if entry.ID == excludeID {
			continue
		}
		resumed := e.lastResumed[entry.ID] // zero when never resumed
		if !found ||
			resumed.Before(victimResumed) ||
			(resumed.Equal(victimResumed) && entry.ModTime.Before(victimMod)) {
			victim = entry.ID
			victimResumed = resumed
			victimMod = entry.ModTime
			found = true
		}
	}
	e.mu.Unlock()

	if !found {
		return types.NewError(types.KindCapacity, types.ReasonPopulationLimit)
	}

	if err := e.store.Delete(victim); err != nil {
		return err
	}
	e.metrics.RecordEviction()
	e.logger.Info("snapshot evicted for capacity", zap.String("session_id", victim))
	return nil
}

// ===========================================================================
// Resume
// ===========================================================================

// Resume restores a saved session into a live worker.
//
// The pipeline runs Loading, PathValidating, Rebuilding, ProcessStarting,
// StateRestoring, Cleanup; any failure from ProcessStarting onward tears
// the started worker down so a data-less session never survives. The
// project path's identity is captured at validation and re-checked
// immediately before content restoration; a mismatch is treated as
// tampering.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*session.Worker, error) {
	start := time.Now()

	// Loading: both rate-limit scopes must pass before any I/O
	if err := e.checkRateLimits(sessionID); err != nil {
		return nil, err
	}

	data, err := e.store.Read(sessionID)
	if err != nil {
		if types.IsReason(err, types.ReasonNotFound) {
			return nil, types.NewError(types.KindIO, types.ReasonNotFound)
		}
		return nil, err
	}

	record, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}

	if record.Legacy() {
		e.logger.Warn("resuming unsigned legacy snapshot",
			zap.String("session_id", sessionID))
	} else {
		canonical, err := codec.Canonical(record)
		if err != nil {
			return nil, err
		}
		ok, err := integrity.Verify(canonical, record.Signature)
		if err != nil {
			return nil, types.WrapError(types.KindIO, types.ReasonIOFailure, err)
		}
		if !ok {
			e.metrics.RecordIntegrityFailure()
			e.logger.Error("snapshot signature mismatch",
				zap.String("session_id", sessionID))
			return nil, types.NewError(types.KindIntegrity, types.ReasonSignatureMismatch)
		}
	}

	// PathValidating
	resolved, err := paths.ValidateProjectPath(record.Session.ProjectPath)
	if err != nil {
		return nil, pathError(err)
	}
	cachedStat, err := paths.Capture(resolved)
	if err != nil {
		return nil, pathError(err)
	}

	// Rebuilding: created_at preserved, updated_at reset to now
	restored, messages, todos, _, err := codec.Rebuild(record)
	if err != nil {
		return nil, err
	}
	restored.UpdatedAt = time.Now()

	// ProcessStarting: supervisor enforces live cap and path uniqueness
	worker, err := e.supervisor.Start(restored)
	if err != nil {
		return nil, err
	}

	// StateRestoring: shrink the check-to-use window to one stat
	if err := e.restoreState(ctx, worker, resolved, cachedStat, messages, todos); err != nil {
		e.teardown(sessionID)
		return nil, err
	}

	// Cleanup: the snapshot is consumed; record both limiter scopes only
	// now that the resume succeeded
	if err := e.store.Delete(sessionID); err != nil {
		e.logger.Warn("consumed snapshot delete failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	e.limiter.Record(OpResume, sessionID)
	e.limiter.Record(OpResumeGlobal, ratelimit.GlobalScope)

	e.mu.Lock()
	e.lastResumed[sessionID] = time.Now()
	e.mu.Unlock()

	e.refreshPopulation()
	e.metrics.RecordResume(time.Since(start))
	e.logger.Info("session resumed",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(messages)),
		zap.Int("todos", len(todos)))
	return worker, nil
}

func (e *Engine) checkRateLimits(sessionID string) error {
	if ok, retryAfter := e.limiter.Check(OpResume, sessionID); !ok {
		e.metrics.RecordRateLimited("session")
		return types.NewError(types.KindCapacity, types.ReasonRateLimited).
			WithRetryAfter(retryAfter)
	}
	if ok, retryAfter := e.limiter.Check(OpResumeGlobal, ratelimit.GlobalScope); !ok {
		e.metrics.RecordRateLimited("global")
		return types.NewError(types.KindCapacity, types.ReasonRateLimited).
			WithRetryAfter(retryAfter)
	}
	return nil
}

// restoreState re-validates path identity, then pushes content into the
// running worker in original order.
func (e *Engine) restoreState(ctx context.Context, worker *session.Worker, resolved string, cached paths.PathStat, messages []types.Message, todos []types.Todo) error {
	current, err := paths.Capture(resolved)
	if err != nil {
		return pathError(err)
	}
	if !current.Equal(cached) {
		e.metrics.RecordPathMismatch()
		e.logger.Error("project path identity changed during restore",
			zap.String("session_id", worker.ID()))
		return types.NewError(types.KindPath, types.ReasonPathChanged)
	}

	for _, msg := range messages {
		if err := worker.AppendMessage(ctx, msg); err != nil {
			return err
		}
	}
	if err := worker.ReplaceTodos(ctx, todos); err != nil {
		return err
	}
	return nil
}

func (e *Engine) teardown(sessionID string) {
	if err := e.supervisor.Stop(sessionID); err != nil {
		e.logger.Error("worker teardown failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// ===========================================================================
// Listing and delete
// ===========================================================================

// ListResumable returns metadata for every readable snapshot. Unreadable
// or malformed files are logged and skipped, never fatal to the listing.
func (e *Engine) ListResumable(ctx context.Context) ([]types.SessionMetadata, error) {
	entries, err := e.store.List()
	if err != nil {
		return nil, err
	}

	items := make([]types.SessionMetadata, 0, len(entries))
	for _, entry := range entries {
		record, err := e.readRecord(entry.ID)
		if err != nil {
			e.logger.Warn("skipping unreadable snapshot in listing",
				zap.String("session_id", entry.ID),
				zap.Error(err))
			continue
		}

		closedAt, err := codec.ParseClosedAt(record)
		if err != nil {
			closedAt = entry.ModTime
		}

		items = append(items, types.SessionMetadata{
			ID:           record.Session.ID,
			Name:         record.Session.Name,
			ProjectPath:  record.Session.ProjectPath,
			ClosedAt:     closedAt,
			MessageCount: len(record.Messages),
			TodoCount:    len(record.Todos),
			Legacy:       record.Legacy(),
		})
	}
	return items, nil
}

// Delete removes a snapshot. Idempotent: deleting a missing snapshot
// succeeds.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	if err := e.store.Delete(sessionID); err != nil {
		return err
	}
	e.limiter.Reset(sessionID)

	e.mu.Lock()
	delete(e.lastResumed, sessionID)
	e.mu.Unlock()

	e.refreshPopulation()
	e.metrics.RecordDelete()
	e.logger.Info("snapshot deleted", zap.String("session_id", sessionID))
	return nil
}

func (e *Engine) readRecord(sessionID string) (*codec.PersistedRecord, error) {
	data, err := e.store.Read(sessionID)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

func (e *Engine) saveLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.saveLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.saveLocks[sessionID] = lock
	}
	return lock
}

func (e *Engine) refreshPopulation() {
	if count, err := e.store.Count(); err == nil {
		e.metrics.SetPopulation(count)
	}
}

// pathError maps filesystem-level path failures onto the path taxonomy
func pathError(err error) error {
	if types.KindOf(err) == types.KindPath {
		return err
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return types.WrapError(types.KindPath, types.ReasonPathNotFound, err)
	case strings.Contains(err.Error(), "not a directory"):
		return types.WrapError(types.KindPath, types.ReasonPathNotDirectory, err)
	default:
		return types.WrapError(types.KindPath, types.ReasonPathInvalid, err)
	}
}
