// Package draft keeps the editor's working copy of a document in step with
// the document service. Every save requests the version after the one the
// session cache holds and updates the cache only once the service accepted
// it.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/eringen/draftdesk/document"
	"github.com/eringen/draftdesk/remote"
	"github.com/eringen/draftdesk/session"
)

var (
	// ErrValidation is returned for an empty name or snapshot.
	ErrValidation = remote.ErrValidation
	// ErrSaveInFlight is returned when a save starts while another is pending.
	ErrSaveInFlight = errors.New("draft: save already in flight")
	// ErrNotLoaded is returned when saving before Load.
	ErrNotLoaded = errors.New("draft: no document loaded")
)

// State is the controller's lifecycle position.
type State int

const (
	Uninitialized State = iota
	Loaded
	Dirty
	Saving
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loaded:
		return "loaded"
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Service is the part of the document service the controller calls.
type Service interface {
	LoadStatic(ctx context.Context, locator string) (string, error)
	Save(ctx context.Context, req remote.SaveRequest) (string, error)
}

// Cache is the tab's session cache.
type Cache interface {
	Active(ctx context.Context, tab string) (session.Active, bool, error)
	CheckLease(ctx context.Context, tab, lease string) error
	CommitSave(ctx context.Context, tab, lease string, a session.Active, stale document.Triple) error
}

// Ref names the document to edit. DocumentID is empty for a freshly
// generated document, Locator is the generation result to start from.
type Ref struct {
	DocumentID string
	Locator    string
	Status     document.Status
}

// SaveInput is what the editing widget hands over on save.
type SaveInput struct {
	Markup  string
	Project json.RawMessage
	Name    string
}

// Controller drives one tab's editing session. It is bound to the editor
// lease minted when the tab entered the editor.
type Controller struct {
	tab     string
	lease   string
	svc     Service
	cache   Cache
	starter string
	logger  *log.Logger

	mu     sync.Mutex
	state  State
	status document.Status
	docID  string // assigned by the first successful save
}

// Config holds the controller's collaborators.
type Config struct {
	Tab     string
	Lease   string
	Service Service
	Cache   Cache
	// Starter is the locator loaded when neither the cache nor the ref
	// provides a document.
	Starter string
	Logger  *log.Logger
}

// New returns an Uninitialized controller.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = log.New("draft")
	}
	return &Controller{
		tab:     cfg.Tab,
		lease:   cfg.Lease,
		svc:     cfg.Service,
		cache:   cfg.Cache,
		starter: cfg.Starter,
		logger:  cfg.Logger,
	}
}

// State returns the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Lease returns the editor lease the controller is bound to.
func (c *Controller) Lease() string { return c.lease }

// Load returns the authoring project for ref. The cached snapshot is used
// when it belongs to ref's document and parses; otherwise a starter is
// fetched from the service and wrapped as a one-page project.
func (c *Controller) Load(ctx context.Context, ref Ref) (json.RawMessage, error) {
	c.mu.Lock()
	if ref.Status != "" {
		c.status = ref.Status
	}
	if ref.DocumentID == "" {
		ref.DocumentID = c.docID
	}
	c.mu.Unlock()

	a, ok, err := c.cache.Active(ctx, c.tab)
	if err != nil {
		return nil, fmt.Errorf("draft: load: %w", err)
	}
	if ok && a.DocumentID == ref.DocumentID && document.CoherentProject([]byte(a.Snapshot)) {
		c.setState(Loaded)
		return json.RawMessage(a.Snapshot), nil
	}

	locator := ref.Locator
	if locator == "" {
		locator = c.starter
	}
	if ok && a.Snapshot != "" {
		c.logger.Warnf("tab %s: cached snapshot for %q unusable, loading %s", c.tab, a.DocumentID, locator)
	}
	markup, err := c.svc.LoadStatic(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("draft: load starter: %w", err)
	}
	c.setState(Loaded)
	return document.StarterProject(markup), nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MarkDirty records an unsaved edit.
func (c *Controller) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Loaded {
		c.state = Dirty
	}
}

// Save sends in as the next version of the active document. On success the
// session cache receives the new pointer together with the staleness bit of
// the document's status; on failure it is left as it was, so a retry
// requests the same version again.
func (c *Controller) Save(ctx context.Context, in SaveInput) (session.Active, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return session.Active{}, fmt.Errorf("%w: display name is required", ErrValidation)
	}
	if !document.CoherentProject(in.Project) {
		return session.Active{}, fmt.Errorf("%w: snapshot is empty", ErrValidation)
	}

	c.mu.Lock()
	switch c.state {
	case Uninitialized:
		c.mu.Unlock()
		return session.Active{}, ErrNotLoaded
	case Saving:
		c.mu.Unlock()
		return session.Active{}, ErrSaveInFlight
	}
	c.state = Saving
	status := c.status
	c.mu.Unlock()

	next, err := c.save(ctx, name, in)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Dirty
		return session.Active{}, err
	}
	c.state = Loaded
	c.docID = next.DocumentID
	if status == "" {
		c.status = document.Draft
	}
	return next, nil
}

func (c *Controller) save(ctx context.Context, name string, in SaveInput) (session.Active, error) {
	if err := c.cache.CheckLease(ctx, c.tab, c.lease); err != nil {
		return session.Active{}, err
	}
	cur, ok, err := c.cache.Active(ctx, c.tab)
	if err != nil {
		return session.Active{}, fmt.Errorf("draft: save: %w", err)
	}
	if !ok {
		return session.Active{}, session.ErrNoActive
	}

	req := remote.SaveRequest{
		Markup:  in.Markup,
		Project: in.Project,
		Name:    name,
		Version: cur.Version + 1,
	}
	if cur.DocumentID != "" {
		id := cur.DocumentID
		req.DocumentID = &id
	}
	id, err := c.svc.Save(ctx, req)
	if err != nil {
		return session.Active{}, err
	}

	next := session.Active{
		DocumentID: id,
		Version:    req.Version,
		Filename:   name,
		Snapshot:   string(in.Project),
	}
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	if status == "" {
		status = document.Draft
	}
	if err := c.cache.CommitSave(ctx, c.tab, c.lease, next, document.TripleOf(status)); err != nil {
		// The service holds the revision but this tab no longer points at it.
		c.logger.Errorf("tab %s: saved %s v%d but could not record it: %v", c.tab, id, req.Version, err)
		return session.Active{}, err
	}
	return next, nil
}
