// Package invalidate tells list views when their cached collection went
// stale because of a mutation made elsewhere in the same tab.
//
// Two mechanisms are provided. The persisted triple survives page
// navigations and is consumed by the next list view that mounts. The Hub
// pushes the same signal to list views that are already mounted, each with
// its own pending flag.
package invalidate

import (
	"context"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/eringen/draftdesk/document"
)

// Store persists the triple of each tab.
type Store interface {
	MarkStale(ctx context.Context, tab string, t document.Triple) error
	ConsumeTriple(ctx context.Context, tab string) (document.Triple, error)
}

// Invalidator marks and consumes staleness for tabs.
type Invalidator struct {
	store  Store
	hub    *Hub
	logger *log.Logger
}

// New returns an Invalidator over store. hub may be nil.
func New(store Store, hub *Hub) *Invalidator {
	return &Invalidator{store: store, hub: hub, logger: log.New("invalidate")}
}

// Hub returns the live notification hub, or nil.
func (inv *Invalidator) Hub() *Hub { return inv.hub }

// Mark OR-sets the bit of every status in the persisted triple of tab and
// notifies mounted views through the hub.
func (inv *Invalidator) Mark(ctx context.Context, tab string, statuses ...document.Status) error {
	t := document.TripleOf(statuses...)
	if !t.Any() {
		return nil
	}
	if err := inv.store.MarkStale(ctx, tab, t); err != nil {
		return fmt.Errorf("invalidate: mark: %w", err)
	}
	if inv.hub != nil {
		inv.hub.Publish(tab, t)
	}
	return nil
}

// Consume reports whether the collection of view is stale and clears the
// whole persisted triple, not just the bit of view.
//
// The clear is consume-once per mount: when two list views of different
// statuses mount one after another, only the first observes the signal. A
// view that stays mounted should use a Hub subscription instead.
func (inv *Invalidator) Consume(ctx context.Context, tab string, view document.Status) (bool, error) {
	t, err := inv.store.ConsumeTriple(ctx, tab)
	if err != nil {
		return false, fmt.Errorf("invalidate: consume: %w", err)
	}
	if t.Any() && !t.Has(view) {
		inv.logger.Debugf("tab %s: %s view discarded pending bits %v", tab, view, t)
	}
	return t.Has(view), nil
}

// Affected returns the statuses a mutation touches.
func Affected(m Mutation) []document.Status {
	switch m.Kind {
	case StatusChange:
		if m.From == m.To {
			return []document.Status{m.From}
		}
		return []document.Status{m.From, m.To}
	default:
		if m.From == "" {
			return []document.Status{document.Draft}
		}
		return []document.Status{m.From}
	}
}

// MutationKind enumerates document mutations that affect listings.
type MutationKind int

const (
	Save MutationKind = iota
	Rename
	Delete
	StatusChange
)

// Mutation describes one change to a document. From is its status before
// the change (empty for a never-saved document); To is only used by
// StatusChange.
type Mutation struct {
	Kind MutationKind
	From document.Status
	To   document.Status
}

// Record marks every status affected by m.
func (inv *Invalidator) Record(ctx context.Context, tab string, m Mutation) error {
	return inv.Mark(ctx, tab, Affected(m)...)
}
