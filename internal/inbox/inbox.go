package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// Inbox is the durable FIFO of raw captures. A capture is durable before it
// is acknowledged to the caller; draining is at-least-once and correctness
// comes from pipeline idempotence, not exclusive claims.
type Inbox struct {
	store      storage.Store
	maxRetries int
	logger     *slog.Logger
}

// New creates an inbox over the store. maxRetries bounds how often a
// failing event is replayed before being marked failed.
func New(store storage.Store, maxRetries int) *Inbox {
	return &Inbox{
		store:      store,
		maxRetries: maxRetries,
		logger:     slog.Default().With("component", "inbox"),
	}
}

// Enqueue persists a raw event with status pending and returns its id.
// When idempotencyKey is non-empty and already known, the original event is
// returned instead of creating a duplicate.
func (i *Inbox) Enqueue(ctx context.Context, payload models.EventPayload, source string, userEntityID *uuid.UUID, idempotencyKey string) (*models.RawEvent, error) {
	if idempotencyKey != "" {
		existing, err := i.store.GetEventByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			i.logger.Debug("idempotent replay", "event_id", existing.ID, "key", idempotencyKey)
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
	}

	now := time.Now().UTC()
	event := &models.RawEvent{
		ID:           uuid.New(),
		Payload:      payload,
		Source:       source,
		Status:       models.EventStatusPending,
		Metadata:     map[string]any{},
		UserEntityID: userEntityID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if idempotencyKey != "" {
		event.Metadata["idempotency_key"] = idempotencyKey
	}

	if err := i.store.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, storage.ErrConflict) && idempotencyKey != "" {
			// Concurrent enqueue with the same key; return the winner.
			return i.store.GetEventByIdempotencyKey(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to enqueue event: %w", err)
	}

	i.logger.Info("event enqueued", "event_id", event.ID, "source", source)
	return event, nil
}

// ClaimPending returns the oldest pending events in FIFO order.
func (i *Inbox) ClaimPending(ctx context.Context, limit int) ([]*models.RawEvent, error) {
	return i.store.ClaimPending(ctx, limit)
}

// MarkProcessed transitions an event to processed.
func (i *Inbox) MarkProcessed(ctx context.Context, event *models.RawEvent) error {
	event.Status = models.EventStatusProcessed
	if err := i.store.UpdateEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
	}
	return nil
}

// RecordFailure increments the retry counter; after the retry budget is
// exhausted the event is marked failed with the reason recorded.
func (i *Inbox) RecordFailure(ctx context.Context, event *models.RawEvent, cause error) error {
	retries := event.Retries() + 1
	event.SetRetries(retries)

	if retries >= i.maxRetries {
		event.Status = models.EventStatusFailed
		event.Metadata["failure_reason"] = cause.Error()
		i.logger.Error("event failed permanently",
			"event_id", event.ID, "retries", retries, "error", cause)
	} else {
		i.logger.Warn("event processing failed, will retry",
			"event_id", event.ID, "retries", retries, "error", cause)
	}
	if err := i.store.UpdateEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record failure for event %s: %w", event.ID, err)
	}
	return nil
}

// Counts returns the per-status event totals for the status endpoint.
func (i *Inbox) Counts(ctx context.Context) (map[models.EventStatus]int, error) {
	return i.store.EventCounts(ctx)
}
