// Package fetch runs cancellable collection fetches on behalf of mounted
// views. Once a mount is cancelled none of its callbacks run again.
package fetch

import (
	"context"
	"errors"
	"sync"

	"github.com/labstack/gommon/log"
)

// Fetcher loads the collection of one category.
type Fetcher[T any] func(ctx context.Context, category string) ([]T, error)

// Callbacks are the state-mutating hooks of a mounted view. Either may be nil.
type Callbacks[T any] struct {
	OnLoading func(loading bool)
	OnData    func(items []T)
}

// Manager starts fetches through one Fetcher.
type Manager[T any] struct {
	fetch  Fetcher[T]
	logger *log.Logger
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger sets the logger receiving fetch diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewManager returns a Manager over fn.
func NewManager[T any](fn Fetcher[T], opts ...Option) *Manager[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New("fetch")
	}
	return &Manager[T]{fetch: fn, logger: o.logger}
}

// Mount is one view instance's registration for a category. Each mount owns
// its own cancellation handle derived from the parent context.
type Mount[T any] struct {
	m        *Manager[T]
	category string
	cb       Callbacks[T]

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex // guards the fields below and every callback invocation
	gen       int
	stop      context.CancelFunc
	unmounted bool
	wg        sync.WaitGroup
}

// Mount registers a view for category. Nothing is fetched until Refetch.
func (m *Manager[T]) Mount(parent context.Context, category string, cb Callbacks[T]) *Mount[T] {
	ctx, cancel := context.WithCancel(parent)
	mt := &Mount[T]{m: m, category: category, cb: cb, ctx: ctx, cancel: cancel}
	// A parent cancellation counts as an unmount.
	context.AfterFunc(ctx, mt.Unmount)
	return mt
}

// Category returns the mounted category.
func (mt *Mount[T]) Category() string { return mt.category }

// Refetch starts a fetch, cancelling the previous one of this mount. It is a
// no-op after Unmount.
func (mt *Mount[T]) Refetch() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.unmounted {
		return
	}
	if mt.stop != nil {
		mt.stop()
	}
	ctx, stop := context.WithCancel(mt.ctx)
	mt.stop = stop
	mt.gen++
	gen := mt.gen
	if mt.cb.OnLoading != nil {
		mt.cb.OnLoading(true)
	}

	mt.wg.Add(1)
	go func() {
		defer mt.wg.Done()
		defer stop()
		items, err := mt.m.fetch(ctx, mt.category)
		mt.settle(ctx, gen, items, err)
	}()
}

// settle acts on a fetch result unless the mount moved on.
func (mt *Mount[T]) settle(ctx context.Context, gen int, items []T, err error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.unmounted || gen != mt.gen || ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		mt.m.logger.Errorf("fetch %s: %v", mt.category, err)
		items = []T{}
	}
	if items == nil {
		items = []T{}
	}
	if mt.cb.OnData != nil {
		mt.cb.OnData(items)
	}
	if mt.cb.OnLoading != nil {
		mt.cb.OnLoading(false)
	}
}

// Unmount cancels the outstanding fetch. Once it returns no callback of this
// mount runs again.
func (mt *Mount[T]) Unmount() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.unmounted {
		return
	}
	mt.unmounted = true
	mt.cancel()
}

// Wait blocks until every fetch started by this mount has settled.
func (mt *Mount[T]) Wait() {
	mt.wg.Wait()
}

// FetchAll fetches every category in parallel, each through its own mount,
// and returns the collections by category. A failing category yields an
// empty collection without affecting its siblings. Categories whose fetch
// was cancelled are absent from the result.
func (m *Manager[T]) FetchAll(ctx context.Context, categories ...string) map[string][]T {
	var mu sync.Mutex
	out := make(map[string][]T, len(categories))
	mounts := make([]*Mount[T], 0, len(categories))
	for _, cat := range categories {
		mt := m.Mount(ctx, cat, Callbacks[T]{
			OnData: func(items []T) {
				mu.Lock()
				out[cat] = items
				mu.Unlock()
			},
		})
		mt.Refetch()
		mounts = append(mounts, mt)
	}
	for _, mt := range mounts {
		mt.Wait()
		mt.Unmount()
	}
	return out
}

// Load fetches one category through a temporary mount. ok is false when the
// fetch was cancelled.
func (m *Manager[T]) Load(ctx context.Context, category string) (items []T, ok bool) {
	mt := m.Mount(ctx, category, Callbacks[T]{
		OnData: func(got []T) {
			items, ok = got, true
		},
	})
	mt.Refetch()
	mt.Wait()
	mt.Unmount()
	return items, ok
}
