// Package draftdesk is a newsletter desk built with Go, Echo, and templ.
// It drives a remote document service: lists newsletters by status,
// streams generations, and keeps the editor's working copy in step with
// the service through a per-tab session cache.
//
// Pages are rendered through the ViewFuncs struct so deployments can
// replace any of them; DefaultViews returns the built-in set.
package draftdesk

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/eringen/draftdesk/document"
	"github.com/eringen/draftdesk/draft"
	"github.com/eringen/draftdesk/invalidate"
	"github.com/eringen/draftdesk/remote"
	"github.com/eringen/draftdesk/session"
	"github.com/eringen/draftdesk/views"
)

// ViewFuncs holds the components the desk calls when rendering pages.
type ViewFuncs struct {
	Home        func(p views.Page, lists []views.ListData) templ.Component
	List        func(p views.Page, l views.ListData) templ.Component
	Detail      func(p views.Page, id string, revs []document.Revision, st document.Status) templ.Component
	Generator   func(p views.Page) templ.Component
	Editor      func(p views.Page, d views.EditorData) templ.Component
	Login       func(p views.Page, d views.LoginData) templ.Component
	NotFound    func(p views.Page) templ.Component
	ServerError func(p views.Page) templ.Component
}

// DefaultViews returns the built-in pages.
func DefaultViews() ViewFuncs {
	return ViewFuncs{
		Home:        views.Home,
		List:        views.List,
		Detail:      views.Detail,
		Generator:   views.Generator,
		Editor:      views.Editor,
		Login:       views.Login,
		NotFound:    views.NotFound,
		ServerError: views.ServerError,
	}
}

// App is the central desk application. It wires together the tab cache,
// the list cache and its invalidator, the document service client,
// handlers, and middleware.
type App struct {
	Config      Config
	Echo        *echo.Echo
	Sessions    *session.Store
	Lists       *ListCache
	Invalidator *invalidate.Invalidator
	Remote      *remote.Client
	Views       ViewFuncs

	generateLimiter *Limiter
	loginLimiter    *Limiter
	editors         *editorRegistry
	actions         draft.Actions
	customRoutes    []func(*App)
	logger          *log.Logger
	stopPrune       chan struct{}
}

// New creates a desk App with the given configuration and view functions.
func New(cfg Config, views ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:  cfg,
		Echo:    echo.New(),
		Views:   views,
		editors: newEditorRegistry(),
		logger:  log.New("desk"),
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Init opens the tab cache, builds the service client, and registers
// middleware and routes. Start calls it; tests call it directly.
func (a *App) Init() error {
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("draftdesk: SessionSecret is required")
	}

	if a.Sessions == nil {
		store, err := session.NewStore(a.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("draftdesk: init tab cache: %w", err)
		}
		a.Sessions = store
	}

	if a.Remote == nil {
		client, err := remote.New(a.Config.ServiceURL, remote.WithLogger(log.New("remote")))
		if err != nil {
			return fmt.Errorf("draftdesk: init service client: %w", err)
		}
		a.Remote = client
	}

	a.Lists = NewListCache(a.Config.ListCacheTTL)
	a.Invalidator = invalidate.New(a.Sessions, invalidate.NewHub())
	a.generateLimiter = NewLimiter(a.Config.GenerateLimit, a.Config.GenerateWindow)
	a.loginLimiter = NewLimiter(5, time.Minute)
	a.registerBuiltinActions()

	a.setupMiddleware()
	a.setupRoutes()

	for _, fn := range a.customRoutes {
		fn(a)
	}

	a.stopPrune = make(chan struct{})
	go a.pruneTabs(time.Hour)
	return nil
}

// Start initializes the app and starts the server.
func (a *App) Start() error {
	if err := a.Init(); err != nil {
		return err
	}
	if err := a.Echo.Start(a.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	e.GET("/public/desk.js", echo.WrapHandler(http.StripPrefix("/public/", http.FileServer(http.FS(embeddedFS)))))

	e.GET("/", a.handleHome)
	for _, st := range document.Statuses {
		e.GET("/"+st.Slug()+"/", a.handleList(st))
	}
	e.GET("/newsletter/:id/", a.handleDetail)
	e.POST("/newsletter/:id/rename/", a.handleRename)
	e.POST("/newsletter/:id/status/", a.handleStatus)
	e.POST("/newsletter/:id/delete/", a.handleDelete)
	e.POST("/newsletter/:id/edit/", a.handleEdit)

	e.GET("/new/", a.handleNew)
	e.POST("/generate/", a.handleGenerate)

	e.GET("/editor/", a.handleEditor)
	e.GET("/editor/project/", a.handleProjectLoad)
	e.POST("/editor/project/", a.handleProjectSave)
	e.POST("/editor/dirty/", a.handleDirty)
	e.POST("/editor/export/", a.handleExport)
	e.POST("/editor/action/:kind/:action/", a.handleAction)

	e.GET("/events/lists/", a.handleListEvents)

	e.GET("/login/", a.handleLoginPage)
	e.POST("/login/", a.handleLogin)
	e.POST("/signup/", a.handleSignup)
	e.POST("/logout/", a.handleLogout)
}

// pruneTabs drops tab rows idle longer than Config.TabIdle and expired list
// collections until Close.
func (a *App) pruneTabs(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopPrune:
			return
		case <-ticker.C:
		}
		n, err := a.Sessions.Prune(context.Background(), time.Now().Add(-a.Config.TabIdle))
		if err != nil {
			a.logger.Errorf("prune tabs: %v", err)
			continue
		}
		if swept := a.Lists.Sweep(); n > 0 || swept > 0 {
			a.logger.Infof("pruned %d idle tabs, %d expired lists", n, swept)
		}
	}
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.stopPrune != nil {
		close(a.stopPrune)
		a.stopPrune = nil
	}
	if a.generateLimiter != nil {
		a.generateLimiter.Stop()
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.Invalidator != nil {
		a.Invalidator.Hub().Close()
	}
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MustEnv returns the value of the environment variable key, or fatally exits if empty.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("draftdesk: required environment variable %s is not set", key)
	}
	return v
}
