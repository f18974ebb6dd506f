package archivist

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/evan-ryan-york/umg/internal/models"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// ReferenceMap maps pronouns and short names appearing in event text to
// candidate entity ids. It is threaded through extraction and resolution
// to disambiguate first-person and anaphoric references.
type ReferenceMap struct {
	entries map[string]referenceEntry
}

type referenceEntry struct {
	EntityID uuid.UUID
	Title    string
}

var firstPersonPronouns = []string{"i", "me", "my", "mine", "myself"}

// BuildReferenceMap scans recent entities for short-name antecedents and
// pins first-person pronouns to the capturing user's entity when known.
// The user entity is preferred over any other is_user_entity match.
func BuildReferenceMap(ctx context.Context, store storage.Store, text string, userEntityID *uuid.UUID) (*ReferenceMap, error) {
	rm := &ReferenceMap{entries: map[string]referenceEntry{}}

	userEntity, err := resolveUserEntity(ctx, store, userEntityID)
	if err != nil {
		return nil, err
	}
	if userEntity != nil {
		for _, p := range firstPersonPronouns {
			rm.entries[p] = referenceEntry{EntityID: userEntity.ID, Title: userEntity.Title}
		}
	}

	recent, err := store.ListRecentEntities(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent entities: %w", err)
	}
	lower := strings.ToLower(text)
	for _, e := range recent {
		short := shortName(e.Title)
		if short == "" || strings.EqualFold(short, e.Title) {
			continue
		}
		if strings.Contains(lower, strings.ToLower(short)) {
			key := strings.ToLower(short)
			if _, taken := rm.entries[key]; !taken {
				rm.entries[key] = referenceEntry{EntityID: e.ID, Title: e.Title}
			}
		}
	}
	return rm, nil
}

func resolveUserEntity(ctx context.Context, store storage.Store, userEntityID *uuid.UUID) (*models.Entity, error) {
	if userEntityID != nil {
		e, err := store.GetEntity(ctx, *userEntityID)
		if err == nil {
			return e, nil
		}
		// A dangling user entity id is not fatal; fall through to the
		// is_user_entity scan.
	}
	people, err := store.ListEntitiesByType(ctx, models.EntityTypePerson)
	if err != nil {
		return nil, fmt.Errorf("failed to list person entities: %w", err)
	}
	for _, p := range people {
		if p.Metadata.IsUserEntity {
			return p, nil
		}
	}
	return nil, nil
}

// shortName returns the first word of a multi-word title ("Water OS" ->
// "Water"). First words of three characters or fewer are too ambiguous
// and yield an empty string.
func shortName(title string) string {
	fields := strings.Fields(title)
	if len(fields) < 2 {
		return ""
	}
	if len(fields[0]) <= 3 {
		return ""
	}
	return fields[0]
}

// Lookup returns the entity id bound to a pronoun or short name.
func (rm *ReferenceMap) Lookup(term string) (uuid.UUID, bool) {
	entry, ok := rm.entries[strings.ToLower(strings.TrimSpace(term))]
	return entry.EntityID, ok
}

// Len returns the number of bound references.
func (rm *ReferenceMap) Len() int { return len(rm.entries) }

// PromptLines renders the map for inclusion in the extraction prompt,
// sorted for deterministic output.
func (rm *ReferenceMap) PromptLines() []string {
	keys := make([]string, 0, len(rm.entries))
	for k := range rm.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%q refers to %q", k, rm.entries[k].Title))
	}
	return lines
}
