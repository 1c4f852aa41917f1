package draft

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// ErrUnknownAction is returned when invoking an unregistered component action.
var ErrUnknownAction = errors.New("draft: unknown component action")

// LoadFunc supplies the project the widget opens with.
type LoadFunc func(ctx context.Context) (json.RawMessage, error)

// SaveFunc persists what the widget hands over.
type SaveFunc func(ctx context.Context, in SaveInput) (any, error)

// ActionHandler runs a custom per-component toolbar action.
type ActionHandler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Widget is the capability contract of the authoring widget. The widget
// calls the load and save callbacks on its own cadence.
type Widget interface {
	OnLoad(LoadFunc)
	OnSave(SaveFunc)
	Markup() string
	Styles() string
	RegisterComponentAction(componentKind, actionID string, h ActionHandler)
}

// Attach wires c into w for the document named by ref.
func Attach(w Widget, c *Controller, ref Ref) {
	w.OnLoad(func(ctx context.Context) (json.RawMessage, error) {
		return c.Load(ctx, ref)
	})
	w.OnSave(func(ctx context.Context, in SaveInput) (any, error) {
		return c.Save(ctx, in)
	})
}

// Actions is a registry of component actions. It implements the action part
// of Widget and can be embedded by widget adapters.
type Actions struct {
	mu sync.RWMutex
	m  map[string]map[string]ActionHandler
}

// RegisterComponentAction adds or replaces the handler of an action.
func (a *Actions) RegisterComponentAction(componentKind, actionID string, h ActionHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil {
		a.m = make(map[string]map[string]ActionHandler)
	}
	if a.m[componentKind] == nil {
		a.m[componentKind] = make(map[string]ActionHandler)
	}
	a.m[componentKind][actionID] = h
}

// Invoke runs a registered action.
func (a *Actions) Invoke(ctx context.Context, componentKind, actionID string, payload json.RawMessage) (json.RawMessage, error) {
	a.mu.RLock()
	h := a.m[componentKind][actionID]
	a.mu.RUnlock()
	if h == nil {
		return nil, ErrUnknownAction
	}
	return h(ctx, payload)
}

// ActionsFor lists the action ids registered for componentKind, sorted.
func (a *Actions) ActionsFor(componentKind string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.m[componentKind]))
	for id := range a.m[componentKind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Kinds lists the component kinds that have at least one action, sorted.
func (a *Actions) Kinds() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	kinds := make([]string, 0, len(a.m))
	for k, ids := range a.m {
		if len(ids) > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}
