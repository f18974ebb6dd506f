package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline and engine metrics, registered on the default registry and
// served from /metrics.
var (
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_events_processed_total",
		Help: "Raw events fully processed by the archivist.",
	})
	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_events_failed_total",
		Help: "Raw events that exhausted their retry budget.",
	})
	EntitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_entities_created_total",
		Help: "Entities created by the resolver.",
	})
	EntitiesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_entities_merged_total",
		Help: "Candidates merged into existing entities.",
	})
	ChunksEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_chunks_embedded_total",
		Help: "Chunk embeddings generated.",
	})
	EdgesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_edges_created_total",
		Help: "Edges created by the relationship engine.",
	})
	EdgesReinforced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_edges_reinforced_total",
		Help: "Edge reinforcements (weight increments).",
	})
	EdgesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "umg_edges_pruned_total",
		Help: "Edges removed by nightly pruning.",
	})
	EngineRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "umg_engine_run_duration_seconds",
		Help:    "Relationship engine run duration by mode.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"mode"})
	InsightsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umg_insights_generated_total",
		Help: "Digest insights generated by type.",
	}, []string{"type"})
)
