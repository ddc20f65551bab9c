package reasonbank

import (
	"context"
	"fmt"
	"testing"
)

// fakeLineageStore serves genealogy lookups from in-memory maps.
type fakeLineageStore struct {
	records     map[string]MemoryRecord
	descendants map[string][]MemoryRecord
}

func (s *fakeLineageStore) GetRecord(ctx context.Context, id string) (MemoryRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return MemoryRecord{}, fmt.Errorf("memory %s not found", id)
	}
	return rec, nil
}

func (s *fakeLineageStore) ListDescendants(ctx context.Context, id string) ([]MemoryRecord, error) {
	return s.descendants[id], nil
}

func TestTraceGenealogyAncestorChain(t *testing.T) {
	store := &fakeLineageStore{records: map[string]MemoryRecord{
		"grandparent": {ID: "grandparent", Title: "origin"},
		"parent":      {ID: "parent", ParentID: "grandparent"},
		"child":       {ID: "child", ParentID: "parent"},
	}}

	g, err := TraceGenealogy(context.Background(), store, "child")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}

	if len(g.Ancestors) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(g.Ancestors))
	}
	if g.Ancestors[0].ID != "parent" || g.Ancestors[1].ID != "grandparent" {
		t.Errorf("ancestors should be nearest first, got %s then %s",
			g.Ancestors[0].ID, g.Ancestors[1].ID)
	}
	if g.Stage() != 3 {
		t.Errorf("expected stage 3, got %d", g.Stage())
	}
}

func TestTraceGenealogyUnknownRecord(t *testing.T) {
	store := &fakeLineageStore{records: map[string]MemoryRecord{}}
	if _, err := TraceGenealogy(context.Background(), store, "ghost"); err == nil {
		t.Fatal("expected error for a record that does not exist")
	}
}

func TestTraceGenealogyDanglingParent(t *testing.T) {
	store := &fakeLineageStore{records: map[string]MemoryRecord{
		"child": {ID: "child", ParentID: "deleted"},
	}}

	g, err := TraceGenealogy(context.Background(), store, "child")
	if err != nil {
		t.Fatalf("a deleted ancestor must end the chain, not fail: %v", err)
	}
	if len(g.Ancestors) != 0 {
		t.Errorf("expected empty ancestor chain, got %d", len(g.Ancestors))
	}
	if g.Stage() != 1 {
		t.Errorf("expected stage 1, got %d", g.Stage())
	}
}

func TestTraceGenealogyCycleGuard(t *testing.T) {
	store := &fakeLineageStore{records: map[string]MemoryRecord{
		"a": {ID: "a", ParentID: "b"},
		"b": {ID: "b", ParentID: "a"},
	}}

	g, err := TraceGenealogy(context.Background(), store, "a")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(g.Ancestors) != 1 || g.Ancestors[0].ID != "b" {
		t.Errorf("a parent cycle must stop at the first repeat, got %d ancestors", len(g.Ancestors))
	}
}

func TestTraceGenealogyDescendants(t *testing.T) {
	store := &fakeLineageStore{
		records: map[string]MemoryRecord{"root": {ID: "root"}},
		descendants: map[string][]MemoryRecord{
			"root": {{ID: "child-1"}, {ID: "child-2"}},
		},
	}

	g, err := TraceGenealogy(context.Background(), store, "root")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(g.Descendants) != 2 || g.Descendants[0].ID != "child-1" {
		t.Errorf("unexpected descendants: %+v", g.Descendants)
	}
}

func TestDeriveRecord(t *testing.T) {
	parent := MemoryRecord{
		ID:             "parent",
		EvolutionStage: 2,
		DomainCategory: DomainAlgorithms,
	}

	child := DeriveRecord(parent, []string{"other", "parent"}, "title", "desc", "content")

	if child.ParentID != "parent" {
		t.Errorf("expected parent ID set, got %q", child.ParentID)
	}
	if child.EvolutionStage != 3 {
		t.Errorf("expected stage 3, got %d", child.EvolutionStage)
	}
	if child.DomainCategory != DomainAlgorithms {
		t.Errorf("domain should be inherited, got %q", child.DomainCategory)
	}
	if len(child.DerivedFrom) != 2 || child.DerivedFrom[0] != "parent" || child.DerivedFrom[1] != "other" {
		t.Errorf("derivedFrom should lead with the parent and dedupe it from sources, got %v", child.DerivedFrom)
	}
}
