package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loomworks/loom/backend/internal/domain/session"
	"github.com/loomworks/loom/backend/internal/domain/snapshot"
	"github.com/loomworks/loom/backend/internal/infrastructure/monitoring"
	"github.com/loomworks/loom/backend/internal/logging"
	"github.com/loomworks/loom/backend/internal/shared/id"
	"github.com/loomworks/loom/backend/internal/shared/paths"
	"github.com/loomworks/loom/backend/internal/types"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	engine     *snapshot.Engine
	sweeper    *snapshot.Sweeper
	registry   *session.Registry
	supervisor session.Supervisor
	metrics    *monitoring.Metrics
	logger     *logging.Logger
	sweepAge   time.Duration
}

// NewHandlers creates a new handler set
func NewHandlers(
	engine *snapshot.Engine,
	sweeper *snapshot.Sweeper,
	registry *session.Registry,
	supervisor session.Supervisor,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
	sweepAge time.Duration,
) *Handlers {
	return &Handlers{
		engine:     engine,
		sweeper:    sweeper,
		registry:   registry,
		supervisor: supervisor,
		metrics:    metrics,
		logger:     logger,
		sweepAge:   sweepAge,
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Loom Backend",
		"version": "0.3.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	snap := h.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"live_sessions": h.registry.Count(),
		"snapshots":     snap.StoredSessions,
	})
}

// Stats reports aggregate counters as JSON
func (h *Handlers) Stats(c *gin.Context) {
	snap := h.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"total_requests": snap.TotalRequests,
		"total_errors":   snap.TotalErrors,
		"saved_total":    snap.SavedTotal,
		"resumed_total":  snap.ResumedTotal,
		"live_sessions":  snap.LiveSessions,
		"snapshots":      snap.StoredSessions,
	})
}

// ===========================================================================
// Live sessions
// ===========================================================================

type createSessionRequest struct {
	Name        string          `json:"name" binding:"required"`
	ProjectPath string          `json:"project_path" binding:"required"`
	Config      types.LLMConfig `json:"config"`
}

// CreateSession starts a fresh live session bound to a project directory
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := types.ValidateSessionName(req.Name); err != nil {
		h.logger.Warn("session name rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session name"})
		return
	}
	resolved, err := paths.ValidateProjectPath(req.ProjectPath)
	if err != nil {
		h.logger.Warn("project path rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project path"})
		return
	}
	if err := req.Config.Validate(); err != nil {
		h.logger.Warn("session config rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session config"})
		return
	}

	now := time.Now()
	sess := types.Session{
		ID:          id.NewSessionID().String(),
		Name:        req.Name,
		ProjectPath: resolved,
		Config:      req.Config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	worker, err := h.supervisor.Start(sess)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": worker.Session()})
}

// ListSessions returns live sessions and resumable snapshots
func (h *Handlers) ListSessions(c *gin.Context) {
	resumable, err := h.engine.ListResumable(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"live":      h.registry.List(),
		"resumable": resumable,
	})
}

type appendMessageRequest struct {
	Role    types.Role `json:"role" binding:"required"`
	Content string     `json:"content" binding:"required"`
}

// AppendMessage adds a message to a live session's conversation
func (h *Handlers) AppendMessage(c *gin.Context) {
	worker, ok := h.liveWorker(c)
	if !ok {
		return
	}

	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := worker.AppendMessage(c.Request.Context(), types.Message{
		Role:    req.Role,
		Content: req.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetMessages returns one page of a live session's conversation.
// limit=all requests the full history.
func (h *Handlers) GetMessages(c *gin.Context) {
	worker, ok := h.liveWorker(c)
	if !ok {
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	limit := session.AllMessages
	if raw := c.DefaultQuery("limit", "all"); raw != "all" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	page, err := worker.Messages(c.Request.Context(), offset, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type replaceTodosRequest struct {
	Todos []types.Todo `json:"todos"`
}

// ReplaceTodos swaps a live session's task list
func (h *Handlers) ReplaceTodos(c *gin.Context) {
	worker, ok := h.liveWorker(c)
	if !ok {
		return
	}

	var req replaceTodosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := worker.ReplaceTodos(c.Request.Context(), req.Todos); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetTodos returns a live session's task list
func (h *Handlers) GetTodos(c *gin.Context) {
	worker, ok := h.liveWorker(c)
	if !ok {
		return
	}

	todos, err := worker.Todos(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"todos": todos})
}

// ===========================================================================
// Persistence
// ===========================================================================

// SaveSession snapshots a live session without closing it
func (h *Handlers) SaveSession(c *gin.Context) {
	worker, ok := h.liveWorker(c)
	if !ok {
		return
	}

	content, err := worker.Content(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.engine.Save(c.Request.Context(), content); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CloseSession snapshots a live session, then tears its worker down
func (h *Handlers) CloseSession(c *gin.Context) {
	worker, ok := h.liveWorker(c)
	if !ok {
		return
	}

	content, err := worker.Content(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.engine.Save(c.Request.Context(), content); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.supervisor.Stop(worker.ID()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResumeSession restores a snapshot into a live worker
func (h *Handlers) ResumeSession(c *gin.Context) {
	sessionID := c.Param("id")

	worker, err := h.engine.Resume(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": worker.Session()})
}

// DeleteSnapshot removes a saved snapshot. Idempotent.
func (h *Handlers) DeleteSnapshot(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.engine.Delete(c.Request.Context(), sessionID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type cleanupRequest struct {
	MaxAgeDays int `json:"max_age_days"`
}

// Cleanup runs the age sweeper over stored snapshots
func (h *Handlers) Cleanup(c *gin.Context) {
	req := cleanupRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	maxAge := h.sweepAge
	if req.MaxAgeDays > 0 {
		maxAge = time.Duration(req.MaxAgeDays) * 24 * time.Hour
	}

	result, err := h.sweeper.Cleanup(c.Request.Context(), maxAge)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ===========================================================================
// Helpers
// ===========================================================================

// liveWorker resolves the :id route parameter to a live worker, writing
// the error response itself when the session is not live.
func (h *Handlers) liveWorker(c *gin.Context) (*session.Worker, bool) {
	sessionID := c.Param("id")
	worker, ok := h.registry.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return worker, true
}

// respondError logs the full failure internally and surfaces only the
// sanitized message. Raw paths, identifiers, and field values never reach
// the response body.
func (h *Handlers) respondError(c *gin.Context, err error) {
	h.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))

	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		var tagged *types.Error
		if asTagged(err, &tagged) && tagged.RetryAfter > 0 {
			seconds := int(tagged.RetryAfter.Round(time.Second).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
		}
	}

	c.JSON(status, gin.H{"error": types.Sanitize(err)})
}
