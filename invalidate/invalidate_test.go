package invalidate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/eringen/draftdesk/document"
	"github.com/eringen/draftdesk/session"
)

func setupInvalidator(t *testing.T) (*Invalidator, *session.Store) {
	t.Helper()
	s, err := session.NewStore(filepath.Join(t.TempDir(), "tabs.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, NewHub()), s
}

func TestSaveMarksOwnStatus(t *testing.T) {
	inv, s := setupInvalidator(t)
	ctx := context.Background()
	tab := session.NewTabID()

	if err := inv.Record(ctx, tab, Mutation{Kind: Save, From: document.Published}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	tr, _ := s.Triple(ctx, tab)
	assert.Equal(t, tr, document.Triple{false, true, false})
}

func TestNewDocumentSaveMarksDraft(t *testing.T) {
	inv, s := setupInvalidator(t)
	ctx := context.Background()
	tab := session.NewTabID()

	inv.Record(ctx, tab, Mutation{Kind: Save})
	tr, _ := s.Triple(ctx, tab)
	assert.Equal(t, tr, document.Triple{true, false, false})
}

func TestStatusChangeMarksBoth(t *testing.T) {
	inv, s := setupInvalidator(t)
	ctx := context.Background()
	tab := session.NewTabID()

	inv.Record(ctx, tab, Mutation{Kind: StatusChange, From: document.Draft, To: document.Archive})
	tr, _ := s.Triple(ctx, tab)
	assert.Equal(t, tr, document.Triple{true, false, true})
}

func TestAffected(t *testing.T) {
	tests := []struct {
		m    Mutation
		want []document.Status
	}{
		{Mutation{Kind: Rename, From: document.Archive}, []document.Status{document.Archive}},
		{Mutation{Kind: Delete, From: document.Draft}, []document.Status{document.Draft}},
		{Mutation{Kind: StatusChange, From: document.Draft, To: document.Draft}, []document.Status{document.Draft}},
		{Mutation{Kind: StatusChange, From: document.Published, To: document.Draft}, []document.Status{document.Published, document.Draft}},
	}
	for _, tt := range tests {
		assert.Equal(t, Affected(tt.m), tt.want)
	}
}

func TestConsumeClearsWholeTriple(t *testing.T) {
	inv, s := setupInvalidator(t)
	ctx := context.Background()
	tab := session.NewTabID()

	inv.Mark(ctx, tab, document.Draft, document.Published)

	stale, err := inv.Consume(ctx, tab, document.Draft)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	assert.Equal(t, stale, true)

	// The Published bit went with it: a second view mounting right after
	// observes nothing.
	stale, _ = inv.Consume(ctx, tab, document.Published)
	assert.Equal(t, stale, false)
	tr, _ := s.Triple(ctx, tab)
	assert.Equal(t, tr.Any(), false)
}

func TestConsumeOtherView(t *testing.T) {
	inv, _ := setupInvalidator(t)
	ctx := context.Background()
	tab := session.NewTabID()

	inv.Mark(ctx, tab, document.Archive)
	stale, _ := inv.Consume(ctx, tab, document.Draft)
	assert.Equal(t, stale, false)
}

func TestTabsAreIndependent(t *testing.T) {
	inv, _ := setupInvalidator(t)
	ctx := context.Background()
	a, b := session.NewTabID(), session.NewTabID()

	inv.Mark(ctx, a, document.Draft)
	stale, _ := inv.Consume(ctx, b, document.Draft)
	assert.Equal(t, stale, false)
	stale, _ = inv.Consume(ctx, a, document.Draft)
	assert.Equal(t, stale, true)
}

func TestMarkNothing(t *testing.T) {
	inv, s := setupInvalidator(t)
	ctx := context.Background()
	tab := session.NewTabID()

	if err := inv.Mark(ctx, tab); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	tr, _ := s.Triple(ctx, tab)
	assert.Equal(t, tr.Any(), false)
}
