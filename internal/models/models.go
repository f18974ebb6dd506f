package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus tracks a raw event through the ingestion pipeline.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
)

// EventPayload is the captured content as submitted by the client.
type EventPayload struct {
	Content    string         `json:"content"`
	SourceType string         `json:"source_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RawEvent is a durable capture awaiting (or having completed) processing.
// Events are never deleted; they are the replay source for the whole graph.
type RawEvent struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Payload      EventPayload   `json:"payload" db:"payload"`
	Source       string         `json:"source" db:"source"`
	Status       EventStatus    `json:"status" db:"status"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`
	UserEntityID *uuid.UUID     `json:"user_entity_id,omitempty" db:"user_entity_id"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Retries returns the bounded-retry counter stored in event metadata.
func (e *RawEvent) Retries() int {
	if e.Metadata == nil {
		return 0
	}
	switch v := e.Metadata["retries"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// SetRetries updates the bounded-retry counter in event metadata.
func (e *RawEvent) SetRetries(n int) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata["retries"] = n
}

// EntityType is the closed set of entity categories. Type governs initial
// importance and is an input to pattern-based relationship detection.
type EntityType string

const (
	EntityTypeCoreIdentity EntityType = "core_identity"
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeRole         EntityType = "role"
	EntityTypeProject      EntityType = "project"
	EntityTypeFeature      EntityType = "feature"
	EntityTypeProduct      EntityType = "product"
	EntityTypeGoal         EntityType = "goal"
	EntityTypeSkill        EntityType = "skill"
	EntityTypeDecision     EntityType = "decision"
	EntityTypeTask         EntityType = "task"
	EntityTypeMeetingNote  EntityType = "meeting_note"
	EntityTypeLocation     EntityType = "location"
	EntityTypeConcept      EntityType = "concept"
	EntityTypeEvent        EntityType = "event"
	EntityTypeReflection   EntityType = "reflection"
)

var validEntityTypes = map[EntityType]bool{
	EntityTypeCoreIdentity: true,
	EntityTypePerson:       true,
	EntityTypeOrganization: true,
	EntityTypeRole:         true,
	EntityTypeProject:      true,
	EntityTypeFeature:      true,
	EntityTypeProduct:      true,
	EntityTypeGoal:         true,
	EntityTypeSkill:        true,
	EntityTypeDecision:     true,
	EntityTypeTask:         true,
	EntityTypeMeetingNote:  true,
	EntityTypeLocation:     true,
	EntityTypeConcept:      true,
	EntityTypeEvent:        true,
	EntityTypeReflection:   true,
}

// ValidEntityType reports whether t is a member of the closed type set.
func ValidEntityType(t EntityType) bool {
	return validEntityTypes[t]
}

// EntityMetadata carries the mutable attributes reinforced on repeat mentions.
type EntityMetadata struct {
	Aliases              []string    `json:"aliases,omitempty"`
	Tags                 []string    `json:"tags,omitempty"`
	StartDate            *time.Time  `json:"start_date,omitempty"`
	EndDate              *time.Time  `json:"end_date,omitempty"`
	IsUserEntity         bool        `json:"is_user_entity,omitempty"`
	MentionCount         int         `json:"mention_count"`
	ReferencedByEventIDs []uuid.UUID `json:"referenced_by_event_ids,omitempty"`
}

// Entity is a deduplicated node in the memory graph.
type Entity struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Title         string         `json:"title" db:"title"`
	Type          EntityType     `json:"type" db:"type"`
	Summary       string         `json:"summary" db:"summary"`
	Metadata      EntityMetadata `json:"metadata" db:"metadata"`
	SourceEventID uuid.UUID      `json:"source_event_id" db:"source_event_id"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// Chunk is a bounded slice of entity text, keyed by (entity_id, ordinal) so
// reprocessing overwrites rather than duplicates.
type Chunk struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	EntityID  uuid.UUID      `json:"entity_id" db:"entity_id"`
	Text      string         `json:"text" db:"text"`
	Ordinal   int            `json:"ordinal" db:"ordinal"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Embedding is the vector for one chunk under one embedding model.
type Embedding struct {
	ChunkID   uuid.UUID `json:"chunk_id" db:"chunk_id"`
	Vector    []float32 `json:"vector" db:"vector"`
	ModelID   string    `json:"model_id" db:"model_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Signal holds the importance/recency/novelty scores for one entity.
// Exactly one Signal row exists per entity.
type Signal struct {
	EntityID       uuid.UUID  `json:"entity_id" db:"entity_id"`
	Importance     float64    `json:"importance" db:"importance"`
	Recency        float64    `json:"recency" db:"recency"`
	Novelty        float64    `json:"novelty" db:"novelty"`
	LastSurfacedAt *time.Time `json:"last_surfaced_at,omitempty" db:"last_surfaced_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// EdgeMetadata records how an edge was found and how often it has been
// re-detected.
type EdgeMetadata struct {
	SourceStrategy     string      `json:"source_strategy,omitempty"`
	ReinforcementCount int         `json:"reinforcement_count"`
	DetectedInEvents   []uuid.UUID `json:"detected_in_events,omitempty"`
	// Set by the topology strategy: the entity and edge kinds the 2-hop
	// inference passed through.
	IntermediateEntityID *uuid.UUID `json:"intermediate_entity_id,omitempty"`
	IntermediateKinds    []string   `json:"intermediate_kinds,omitempty"`
}

// Edge is a directed, typed, weighted relationship between two entities.
// At most one edge exists per (from_id, to_id, kind) triple; repeat detection
// reinforces weight instead of inserting.
type Edge struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	FromID           uuid.UUID    `json:"from_id" db:"from_id"`
	ToID             uuid.UUID    `json:"to_id" db:"to_id"`
	Kind             string       `json:"kind" db:"kind"`
	Confidence       float64      `json:"confidence" db:"confidence"`
	Importance       float64      `json:"importance" db:"importance"`
	Description      string       `json:"description,omitempty" db:"description"`
	StartDate        *time.Time   `json:"start_date,omitempty" db:"start_date"`
	EndDate          *time.Time   `json:"end_date,omitempty" db:"end_date"`
	Weight           float64      `json:"weight" db:"weight"`
	LastReinforcedAt time.Time    `json:"last_reinforced_at" db:"last_reinforced_at"`
	Metadata         EdgeMetadata `json:"metadata" db:"metadata"`
	SourceEventID    *uuid.UUID   `json:"source_event_id,omitempty" db:"source_event_id"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// Canonical edge kinds emitted by the deterministic strategies. The kind set
// is deliberately open: the LLM strategy may coin new snake_case kinds.
const (
	EdgeKindRoleAt              = "role_at"
	EdgeKindTemporalOverlap     = "temporal_overlap"
	EdgeKindSemanticallyRelated = "semantically_related"
	EdgeKindInferredConnection  = "inferred_connection"
)

// InsightStatus tracks user feedback on a generated insight.
type InsightStatus string

const (
	InsightStatusOpen         InsightStatus = "open"
	InsightStatusAcknowledged InsightStatus = "acknowledged"
	InsightStatusDismissed    InsightStatus = "dismissed"
)

// Insight types generated by the daily digest.
const (
	InsightTypeDeltaWatch = "delta_watch"
	InsightTypeConnection = "connection"
	InsightTypePrompt     = "prompt"
)

// InsightDrivers names the graph records that justify an insight. The
// feedback processor adjusts signals exactly on these ids.
type InsightDrivers struct {
	EntityIDs   []uuid.UUID    `json:"entity_ids"`
	EdgeIDs     []uuid.UUID    `json:"edge_ids,omitempty"`
	InsightType string         `json:"insight_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Insight is a mentor-generated observation surfaced to the user.
type Insight struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Title     string         `json:"title" db:"title"`
	Body      string         `json:"body" db:"body"`
	Drivers   InsightDrivers `json:"drivers" db:"drivers"`
	Status    InsightStatus  `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// PatternSignature is the dismissal fingerprint matched against future
// insights so the mentor stops repeating itself.
type PatternSignature struct {
	TitleKeywords []string    `json:"title_keywords,omitempty"`
	BodyKeywords  []string    `json:"body_keywords,omitempty"`
	EntityIDs     []uuid.UUID `json:"entity_ids,omitempty"`
}

// DismissedPattern accumulates dismissals of similar insights.
type DismissedPattern struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	InsightType       string           `json:"insight_type" db:"insight_type"`
	DriverEntityTypes []EntityType     `json:"driver_entity_types" db:"driver_entity_types"`
	Signature         PatternSignature `json:"pattern_signature" db:"pattern_signature"`
	DismissedCount    int              `json:"dismissed_count" db:"dismissed_count"`
	FirstDismissedAt  time.Time        `json:"first_dismissed_at" db:"first_dismissed_at"`
	LastDismissedAt   time.Time        `json:"last_dismissed_at" db:"last_dismissed_at"`
}
