package draftdesk

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eringen/draftdesk/draft"
	"github.com/eringen/draftdesk/remote"
)

// Config holds all configuration for the desk.
type Config struct {
	Name string `yaml:"name"` // Shown in the page header (default "Draft Desk")

	Addr         string `yaml:"addr"`          // Listen address (default ":3000")
	ServiceURL   string `yaml:"service_url"`   // Document service base URL (default "http://localhost:8000")
	DatabasePath string `yaml:"database_path"` // Tab cache SQLite path (default "data/tabs.db")

	SessionSecret string `yaml:"session_secret"` // Required: cookie signing secret
	CookieSecure  bool   `yaml:"cookie_secure"`  // Set true for HTTPS

	// StarterLocator is opened in the editor when a tab has nothing else
	// to start from (default "template.html").
	StarterLocator string `yaml:"starter_locator"`

	ListCacheTTL   time.Duration `yaml:"list_cache_ttl"`  // Per-tab list TTL (default 1min)
	GenerateLimit  int           `yaml:"generate_limit"`  // Generations per window and tab (default 3)
	GenerateWindow time.Duration `yaml:"generate_window"` // (default 1min)
	TabIdle        time.Duration `yaml:"tab_idle"`        // Tab rows untouched this long are pruned (default 24h)
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "Draft Desk"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.ServiceURL == "" {
		c.ServiceURL = "http://localhost:8000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/tabs.db"
	}
	if c.StarterLocator == "" {
		c.StarterLocator = "template.html"
	}
	if c.ListCacheTTL == 0 {
		c.ListCacheTTL = time.Minute
	}
	if c.GenerateLimit == 0 {
		c.GenerateLimit = 3
	}
	if c.GenerateWindow == 0 {
		c.GenerateWindow = time.Minute
	}
	if c.TabIdle == 0 {
		c.TabIdle = 24 * time.Hour
	}
}

// LoadConfig reads a YAML file into v. A missing file leaves v untouched.
func LoadConfig(path string, v any) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("draftdesk: read config: %w", err)
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("draftdesk: parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides c with the DESK_* environment variables that are set.
func (c *Config) ApplyEnv() {
	c.Addr = EnvOr("DESK_ADDR", c.Addr)
	c.ServiceURL = EnvOr("DESK_SERVICE_URL", c.ServiceURL)
	c.DatabasePath = EnvOr("DESK_DATABASE_PATH", c.DatabasePath)
	c.SessionSecret = EnvOr("DESK_SESSION_SECRET", c.SessionSecret)
	c.StarterLocator = EnvOr("DESK_STARTER_LOCATOR", c.StarterLocator)
	if v, err := strconv.ParseBool(os.Getenv("DESK_COOKIE_SECURE")); err == nil {
		c.CookieSecure = v
	}
	if n, err := strconv.Atoi(os.Getenv("DESK_GENERATE_LIMIT")); err == nil && n > 0 {
		c.GenerateLimit = n
	}
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithRemote uses an already configured document service client.
func WithRemote(c *remote.Client) Option {
	return func(a *App) {
		a.Remote = c
	}
}

// WithComponentAction registers an editor toolbar action on every editing
// session the desk opens.
func WithComponentAction(componentKind, actionID string, h draft.ActionHandler) Option {
	return func(a *App) {
		a.actions.RegisterComponentAction(componentKind, actionID, h)
	}
}
