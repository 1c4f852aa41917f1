// Package docstore is a reference implementation of the document service
// the desk talks to. It stores users, revisions and generated files in
// SQLite and serves the JSON and streaming endpoints over echo.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Config holds the service settings.
type Config struct {
	Addr         string        `yaml:"addr"`
	DatabasePath string        `yaml:"database_path"`
	OutputDir    string        `yaml:"output_dir"`
	ThumbnailDir string        `yaml:"thumbnail_dir"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	AllowOrigins []string      `yaml:"allow_origins"`
	// StepDelay paces progress frames.
	StepDelay time.Duration `yaml:"step_delay"`
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/docstore.db"
	}
	if c.OutputDir == "" {
		c.OutputDir = "generated-html"
	}
	if c.ThumbnailDir == "" {
		c.ThumbnailDir = "data/thumbnails"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 12 * time.Hour
	}
}

// StarterFile is the blank template served to editors with nothing to
// start from.
const StarterFile = "template.html"

// Server is the document service application.
type Server struct {
	Config    Config
	Echo      *echo.Echo
	Store     *Store
	Generator Generator
	Exporter  Exporter
}

// Option configures a Server.
type Option func(*Server)

// WithGenerator replaces the default TemplateGenerator.
func WithGenerator(g Generator) Option {
	return func(s *Server) { s.Generator = g }
}

// WithExporter replaces the default HTMLExporter.
func WithExporter(e Exporter) Option {
	return func(s *Server) { s.Exporter = e }
}

// WithStore uses an already opened store.
func WithStore(st *Store) Option {
	return func(s *Server) { s.Store = st }
}

// New creates a Server. The store is opened by Init unless given.
func New(cfg Config, opts ...Option) *Server {
	cfg.setDefaults()
	s := &Server{Config: cfg, Echo: echo.New()}
	s.Echo.HideBanner = true
	for _, opt := range opts {
		opt(s)
	}
	if s.Generator == nil {
		s.Generator = NewTemplateGenerator(cfg.OutputDir)
	}
	if s.Exporter == nil {
		s.Exporter = NewHTMLExporter()
	}
	return s
}

// Init opens the store and registers middleware and routes.
func (s *Server) Init() error {
	if s.Store == nil {
		st, err := NewStore(s.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("docstore: init store: %w", err)
		}
		s.Store = st
	}
	if err := os.MkdirAll(s.Config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("docstore: output dir: %w", err)
	}
	starter := filepath.Join(s.Config.OutputDir, StarterFile)
	if _, err := os.Stat(starter); os.IsNotExist(err) {
		if err := os.WriteFile(starter, []byte(DefaultTemplate), 0o644); err != nil {
			return fmt.Errorf("docstore: starter template: %w", err)
		}
	}
	s.setupMiddleware()
	s.setupRoutes()
	return nil
}

// Start initializes the server and listens on Config.Addr.
func (s *Server) Start() error {
	if err := s.Init(); err != nil {
		return err
	}
	if err := s.Echo.Start(s.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

// Close releases the store.
func (s *Server) Close() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

func (s *Server) setupMiddleware() {
	e := s.Echo
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger().Infof("%s %s -> %d (%s)", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if len(s.Config.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     s.Config.AllowOrigins,
			AllowCredentials: true,
			AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

func (s *Server) setupRoutes() {
	e := s.Echo

	e.POST("/login", s.handleLogin)
	e.POST("/signup", s.handleSignup)
	e.POST("/generate", s.handleGenerate)
	e.POST("/export", s.handleExport)
	e.Static("/html", s.Config.OutputDir)
	e.Static("/thumbnails", s.Config.ThumbnailDir)

	auth := e.Group("", s.requireToken)
	auth.POST("/save-draft", s.handleSave)
	auth.POST("/newsletters", s.handleList)
	auth.POST("/newsletter-details", s.handleDetails)
	auth.PUT("/newsletter-rename", s.handleRename)
	auth.PUT("/newsletter-status-update", s.handleStatus)
	auth.DELETE("/newsletter-delete", s.handleDelete)
	auth.POST("/newsletter-thumbnail", s.handleThumbnail)
}

// httpErrorHandler answers {"detail": "..."} with a status derived from the
// store's sentinel errors.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	detail := "Internal Server Error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		detail = fmt.Sprint(he.Message)
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrUnknownToken):
		code, detail = http.StatusUnauthorized, "User Session Timed Out"
	case errors.Is(err, ErrVersionConflict):
		code, detail = http.StatusConflict, err.Error()
	case errors.Is(err, ErrNotFound):
		code, detail = http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrNotAcceptable):
		code, detail = http.StatusNotAcceptable, "Not Acceptable"
	case errors.Is(err, ErrInvalidCredentials):
		code, detail = http.StatusBadRequest, "Invalid credentials"
	case errors.Is(err, ErrDuplicateUser):
		code, detail = http.StatusBadRequest, "duplicate key value violates unique constraint"
	default:
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}
	if c.Request().Method == http.MethodHead {
		c.NoContent(code)
		return
	}
	c.JSON(code, map[string]string{"detail": detail})
}
