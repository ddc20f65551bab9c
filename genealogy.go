package reasonbank

import (
	"context"
	"fmt"
)

// Genealogy is one record's place in the evolution graph: the chain of
// ancestors it descends from and the records derived from it.
type Genealogy struct {
	Record      MemoryRecord   `json:"record"`
	Ancestors   []MemoryRecord `json:"ancestors"`   // nearest first
	Descendants []MemoryRecord `json:"descendants"` // oldest first
}

// maxAncestorDepth bounds the parent walk so a cyclic parent reference in
// bad data cannot loop forever.
const maxAncestorDepth = 50

// TraceGenealogy walks the parent chain upward and lists descendants for
// one record. Ancestors whose records were deleted end the chain silently;
// genealogy references are weak by design.
func TraceGenealogy(ctx context.Context, store GenealogyStore, id string) (*Genealogy, error) {
	rec, err := store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("trace genealogy of %s: %w", id, err)
	}

	g := &Genealogy{Record: rec}
	seen := map[string]bool{id: true}

	parentID := rec.ParentID
	for depth := 0; parentID != "" && depth < maxAncestorDepth; depth++ {
		if seen[parentID] {
			break
		}
		seen[parentID] = true

		parent, err := store.GetRecord(ctx, parentID)
		if err != nil {
			// Dangling reference: the ancestor was deleted.
			break
		}
		g.Ancestors = append(g.Ancestors, parent)
		parentID = parent.ParentID
	}

	descendants, err := store.ListDescendants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list descendants of %s: %w", id, err)
	}
	g.Descendants = descendants

	return g, nil
}

// Stage reports how far this lineage has evolved: one more than the known
// ancestor chain.
func (g *Genealogy) Stage() int {
	return len(g.Ancestors) + 1
}

// DeriveRecord creates a child record pre-wired into the genealogy: parent
// set, evolution stage incremented, derivedFrom carrying every source ID.
func DeriveRecord(parent MemoryRecord, sources []string, title, description, content string) MemoryRecord {
	derived := make([]string, 0, len(sources)+1)
	derived = append(derived, parent.ID)
	for _, id := range sources {
		if id != parent.ID {
			derived = append(derived, id)
		}
	}
	return MemoryRecord{
		Title:          title,
		Description:    description,
		Content:        content,
		ParentID:       parent.ID,
		DerivedFrom:    derived,
		EvolutionStage: parent.EvolutionStage + 1,
		DomainCategory: parent.DomainCategory,
	}
}
