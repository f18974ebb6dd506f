package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/mentor"
	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/relationship"
)

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ingestRequest struct {
	Content        string         `json:"content" binding:"required"`
	SourceType     string         `json:"source_type"`
	Metadata       map[string]any `json:"metadata"`
	UserEntityID   *uuid.UUID     `json:"user_entity_id"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// IngestEvent accepts a capture and persists it durably before replying.
func (s *Server) IngestEvent(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := req.IdempotencyKey
	if header := c.GetHeader("Idempotency-Key"); header != "" {
		key = header
	}

	event, err := s.inbox.Enqueue(c.Request.Context(), models.EventPayload{
		Content:    req.Content,
		SourceType: req.SourceType,
		Metadata:   req.Metadata,
	}, "api", req.UserEntityID, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": event.ID, "status": event.Status})
}

// Process triggers one synchronous drain pass over pending events.
func (s *Server) Process(c *gin.Context) {
	result, err := s.archivist.Drain(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"claimed":   result.Claimed,
		"processed": result.Processed,
		"failed":    result.Failed,
	})
}

// Status reports inbox depth.
func (s *Server) Status(c *gin.Context) {
	counts, err := s.inbox.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	processed24h, err := s.store.CountProcessedSince(c.Request.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pending":            counts[models.EventStatusPending],
		"processing":         0,
		"processed_last_24h": processed24h,
		"failed":             counts[models.EventStatusFailed],
	})
}

type engineRequest struct {
	Mode      string      `json:"mode" binding:"required"`
	EventID   *uuid.UUID  `json:"eventId"`
	FullScan  bool        `json:"fullScan"`
	EntityIDs []uuid.UUID `json:"entityIds"`
}

// RunRelationshipEngine runs the engine in the requested mode and returns
// the per-mode result object.
func (s *Server) RunRelationshipEngine(c *gin.Context) {
	var req engineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var result *relationship.RunResult
	var err error
	switch relationship.Mode(req.Mode) {
	case relationship.ModeIncremental:
		if req.EventID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "incremental mode requires eventId"})
			return
		}
		entityIDs := req.EntityIDs
		if len(entityIDs) == 0 {
			entityIDs, err = s.entitiesForEvent(c, *req.EventID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		result, err = s.relEngine.RunIncremental(ctx, *req.EventID, entityIDs)
	case relationship.ModeNightly:
		result, err = s.relEngine.RunNightly(ctx, req.FullScan)
	case relationship.ModeOnDemand:
		result, err = s.relEngine.RunOnDemand(ctx, req.EntityIDs)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be incremental, nightly, or on-demand"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// entitiesForEvent reconstructs an event's entity snapshot from the
// referenced_by lists. Admin-path only; the hot path gets the snapshot
// straight from the archivist trigger.
func (s *Server) entitiesForEvent(c *gin.Context, eventID uuid.UUID) ([]uuid.UUID, error) {
	entities, err := s.store.ListAllEntities(c.Request.Context())
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, e := range entities {
		for _, ref := range e.Metadata.ReferencedByEventIDs {
			if ref == eventID {
				out = append(out, e.ID)
				break
			}
		}
	}
	return out, nil
}

// RelationshipEngineStatus reports the strategy set and active thresholds.
func (s *Server) RelationshipEngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"strategies": s.relEngine.StrategyNames(),
		"config": gin.H{
			"min_confidence":  s.cfg.Engine.MinConfidence,
			"decay_factor":    s.cfg.Engine.DecayFactor,
			"prune_threshold": s.cfg.Engine.PruneThreshold,
		},
	})
}

type chatRequest struct {
	Message             string            `json:"message" binding:"required"`
	ConversationHistory []mentor.ChatTurn `json:"conversation_history"`
	UserEntityID        *uuid.UUID        `json:"user_entity_id"`
}

// MentorChat answers a chat message. The user turn is persisted before
// the LLM call, so a 500 here never loses the capture.
func (s *Server) MentorChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.mentor.Chat(c.Request.Context(), req.Message, req.ConversationHistory, req.UserEntityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response":           result.Response,
		"user_event_id":      result.UserEventID,
		"assistant_event_id": result.AssistantEventID,
		"entities_mentioned": result.EntitiesMentioned,
		"context_used":       result.ContextUsed,
	})
}

// GenerateDigest synchronously runs digest generation. Zero insights is a
// success.
func (s *Server) GenerateDigest(c *gin.Context) {
	result, err := s.mentor.GenerateDigest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	insights := make([]gin.H, 0, len(result.Insights))
	for _, in := range result.Insights {
		insights = append(insights, gin.H{"type": in.Drivers.InsightType, "id": in.ID})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"insights_created": result.InsightsCreated,
		"insights":         insights,
	})
}

// MentorStatus reports mentor readiness and graph size.
func (s *Server) MentorStatus(c *gin.Context) {
	entityCount, err := s.store.CountEntities(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	signalCount, err := s.store.CountSignals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"context_mode": "dynamic",
		"model":        s.mentor.Model(),
		"entity_count": entityCount,
		"signal_count": signalCount,
	})
}

type feedbackRequest struct {
	InsightID uuid.UUID `json:"insight_id" binding:"required"`
}

// Acknowledge applies positive feedback to an insight's drivers.
func (s *Server) Acknowledge(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.feedback.Acknowledge(c.Request.Context(), req.InsightID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"entities_adjusted": result.EntitiesAdjusted,
		"changes":           result.Changes,
	})
}

// Dismiss applies negative feedback and records the dismissal pattern.
func (s *Server) Dismiss(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.feedback.Dismiss(c.Request.Context(), req.InsightID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"entities_adjusted": result.EntitiesAdjusted,
		"pattern_recorded":  result.PatternRecorded,
		"changes":           result.Changes,
		"pattern":           result.Pattern,
	})
}
