package relationship

import (
	"context"
	"fmt"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// topologyFanout bounds how many outgoing edges are followed per hop.
const topologyFanout = 10

// TopologyStrategy infers connections by walking two hops of outgoing
// edges: if A -> B -> C and A has no direct edge to C, propose one. Depth
// is fixed at two hops to keep the walk from exploding on dense graphs.
type TopologyStrategy struct {
	store storage.Store
}

var _ Strategy = (*TopologyStrategy)(nil)

func NewTopologyStrategy(store storage.Store) *TopologyStrategy {
	return &TopologyStrategy{store: store}
}

func (s *TopologyStrategy) Name() string { return "graph_topology" }

func (s *TopologyStrategy) Detect(ctx context.Context, entities []*models.Entity, rc *RunContext) ([]Candidate, error) {
	var out []Candidate
	seen := map[[2]string]bool{}

	for _, source := range entities {
		firstHops, err := s.store.ListEdgesFrom(ctx, source.ID, topologyFanout)
		if err != nil {
			return nil, fmt.Errorf("failed to list edges from %s: %w", source.ID, err)
		}
		for _, first := range firstHops {
			secondHops, err := s.store.ListEdgesFrom(ctx, first.ToID, topologyFanout)
			if err != nil {
				return nil, fmt.Errorf("failed to list edges from %s: %w", first.ToID, err)
			}
			for _, second := range secondHops {
				target := second.ToID
				if target == source.ID || target == first.ToID {
					continue
				}
				key := [2]string{source.ID.String(), target.String()}
				if seen[key] {
					continue
				}
				seen[key] = true

				direct, err := s.store.EdgeExistsBetween(ctx, source.ID, target)
				if err != nil {
					return nil, fmt.Errorf("failed to check direct edge: %w", err)
				}
				if direct {
					continue
				}

				intermediate := first.ToID
				out = append(out, Candidate{
					FromID:               source.ID,
					ToID:                 target,
					Kind:                 models.EdgeKindInferredConnection,
					Confidence:           0.5,
					Importance:           0.4,
					Description:          fmt.Sprintf("Connected through an intermediate via %s then %s", first.Kind, second.Kind),
					SourceStrategy:       s.Name(),
					IntermediateEntityID: &intermediate,
					IntermediateKinds:    []string{first.Kind, second.Kind},
				})
			}
		}
	}
	return out, nil
}
