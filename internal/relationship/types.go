package relationship

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/models"
)

// Mode selects the engine's operating profile.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeNightly     Mode = "nightly"
	ModeOnDemand    Mode = "on-demand"
)

// Candidate is a proposed relationship emitted by a detection strategy,
// not yet filtered or committed.
type Candidate struct {
	FromID      uuid.UUID
	ToID        uuid.UUID
	Kind        string
	Confidence  float64
	Importance  float64
	Description string
	StartDate   *time.Time
	EndDate     *time.Time

	SourceStrategy string
	// Topology inference provenance.
	IntermediateEntityID *uuid.UUID
	IntermediateKinds    []string
}

// RunContext carries per-run inputs shared by strategies.
type RunContext struct {
	Mode Mode
	// EventID is set for incremental runs triggered by one event.
	EventID *uuid.UUID
	// EventText is the cleaned text of the triggering event, used by the
	// LLM strategy in incremental mode.
	EventText string
}

// Strategy is a pure candidate producer over a set of entities. Strategies
// never write edges; the engine owns the commit protocol.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, entities []*models.Entity, rc *RunContext) ([]Candidate, error)
}

// RunResult is the per-mode outcome reported to callers.
type RunResult struct {
	Mode             Mode          `json:"mode"`
	EdgesCreated     int           `json:"edges_created"`
	EdgesUpdated     int           `json:"edges_updated"`
	EdgesDecayed     *int64        `json:"edges_decayed,omitempty"`
	EdgesPruned      *int64        `json:"edges_pruned,omitempty"`
	EntitiesAnalyzed int           `json:"entities_analyzed"`
	ProcessingTime   time.Duration `json:"processing_time"`
	StrategiesUsed   []string      `json:"strategies_used"`
}
