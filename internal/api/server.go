// Package api exposes the agent over HTTP: the public chat endpoint plus
// admin routes for sessions, knowledge entries and the event log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bookingagent/internal/agent"
	"bookingagent/internal/booking"
	"bookingagent/internal/database"
	"bookingagent/internal/events"
	"bookingagent/internal/session"
)

// Turner handles one chat turn.
type Turner interface {
	HandleTurn(ctx context.Context, req agent.TurnRequest) (agent.Reply, error)
}

// SweepRunner removes expired sessions on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// KnowledgeStore is the admin view of knowledge entries.
type KnowledgeStore interface {
	ListKnowledge(ctx context.Context, f database.KnowledgeFilter) ([]database.KnowledgeEntry, error)
	CreateKnowledge(ctx context.Context, e *database.KnowledgeEntry) error
	UpdateKnowledge(ctx context.Context, id int64, u database.KnowledgeUpdate) (*database.KnowledgeEntry, error)
	DeleteKnowledge(ctx context.Context, id int64) error
}

// EventLog is the persisted event outbox.
type EventLog interface {
	PendingEvents(ctx context.Context, limit int) ([]events.Event, error)
	MarkEventProcessed(ctx context.Context, id int64) error
}

// Deps wires the handlers. Knowledge and Events may be nil, in which case
// their routes are not registered.
type Deps struct {
	Agent     Turner
	Sessions  session.Store
	Sweeper   SweepRunner
	Knowledge KnowledgeStore
	Events    EventLog
	Logger    *zerolog.Logger
}

// Options tunes the router.
type Options struct {
	AdminAPIKey     string
	RateLimitPerMin int
	// MaxBodyBytes caps request bodies. Zero means 64 KiB.
	MaxBodyBytes int64
}

type handler struct {
	Deps
	maxBody int64
}

// NewRouter builds the gin engine.
func NewRouter(d Deps, opts Options) *gin.Engine {
	if d.Logger == nil {
		l := zerolog.Nop()
		d.Logger = &l
	}
	h := &handler{Deps: d, maxBody: opts.MaxBodyBytes}
	if h.maxBody <= 0 {
		h.maxBody = 64 << 10
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(d.Logger))

	limiter := NewRateLimiter(opts.RateLimitPerMin)
	r.POST("/api/agent/chat", limiter.Middleware(), h.chat)

	admin := r.Group("/api", RequireAPIKey(opts.AdminAPIKey))
	admin.GET("/agent/sessions", h.listSessions)
	admin.GET("/agent/sessions/:id", h.getSession)
	admin.DELETE("/agent/sessions/:id", h.deleteSession)
	admin.POST("/agent/sessions/sweep", h.sweepSessions)

	if d.Knowledge != nil {
		admin.GET("/admin/knowledge", h.listKnowledge)
		admin.POST("/admin/knowledge", h.createKnowledge)
		admin.PATCH("/admin/knowledge/:id", h.updateKnowledge)
		admin.DELETE("/admin/knowledge/:id", h.deleteKnowledge)
	}
	if d.Events != nil {
		admin.GET("/admin/events", h.pendingEvents)
		admin.POST("/admin/events/:id/processed", h.markEventProcessed)
	}
	return r
}

func (h *handler) chat(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)

	var req agent.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	reply, err := h.Agent.HandleTurn(c.Request.Context(), req)

	switch {
	case err == nil:
		c.JSON(http.StatusOK, reply)
	case errors.Is(err, agent.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, agent.ErrCollaborator):
		// The reply still carries the retry text and the unchanged session.
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, reply)
	case errors.Is(err, session.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session busy, try again"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *handler) listSessions(c *gin.Context) {
	list, err := h.Sessions.List(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
}

func (h *handler) getSession(c *gin.Context) {
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              s.ID,
		"state":           s.State,
		"language":        s.Language,
		"off_track_count": s.OffTrack,
		"collected_info":  s.Intent.Collected(),
		"missing_fields":  s.Intent.Missing(),
		"history":         s.History,
		"created_at":      s.CreatedAt,
		"updated_at":      s.UpdatedAt,
	})
}

func (h *handler) deleteSession(c *gin.Context) {
	err := h.Sessions.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) sweepSessions(c *gin.Context) {
	n, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (h *handler) listKnowledge(c *gin.Context) {
	f := database.KnowledgeFilter{Language: c.Query("language")}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active must be a boolean"})
			return
		}
		f.ActiveOnly = active
	}
	list, err := h.Knowledge.ListKnowledge(c.Request.Context(), f)
	if err != nil {
		h.internal(c, err)
		return
	}
	if list == nil {
		list = []database.KnowledgeEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": list, "count": len(list)})
}

type knowledgeRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
	Language string `json:"language"`
	IsActive *bool  `json:"is_active"`
}

func (h *handler) createKnowledge(c *gin.Context) {
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	if req.Title == "" || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and content are required"})
		return
	}
	lang, ok := booking.ParseLanguage(req.Language)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported language"})
		return
	}

	e := &database.KnowledgeEntry{
		Title:    req.Title,
		Category: req.Category,
		Content:  req.Content,
		Language: string(lang),
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	if err := h.Knowledge.CreateKnowledge(c.Request.Context(), e); err != nil {
		h.internal(c, err)
		return
	}
	LoggerFrom(c).Info().Int64("id", e.ID).Str("title", e.Title).Msg("knowledge entry created")
	c.JSON(http.StatusCreated, e)
}

func (h *handler) updateKnowledge(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var u database.KnowledgeUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if u.Language != nil {
		if _, ok := booking.ParseLanguage(*u.Language); !ok || *u.Language == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported language"})
			return
		}
	}
	e, err := h.Knowledge.UpdateKnowledge(c.Request.Context(), id, u)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "knowledge entry not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) deleteKnowledge(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := h.Knowledge.DeleteKnowledge(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "knowledge entry not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type eventView struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *handler) pendingEvents(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	list, err := h.Events.PendingEvents(c.Request.Context(), limit)
	if err != nil {
		h.internal(c, err)
		return
	}
	out := make([]eventView, 0, len(list))
	for _, e := range list {
		out = append(out, eventView{ID: e.ID, Type: e.Type, Payload: e.Payload, CreatedAt: e.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "count": len(out)})
}

func (h *handler) markEventProcessed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := h.Events.MarkEventProcessed(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		h.internal(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *handler) internal(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
