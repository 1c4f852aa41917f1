package draftdesk

import (
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	echosession "github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/eringen/draftdesk/session"
	"github.com/eringen/draftdesk/views"
)

const (
	sessionName = "desk_tab"
	tabKey      = "tab"
	tabCtxKey   = "draftdesk.tab"
)

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

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

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			// Streams and websockets must not be buffered.
			return strings.HasPrefix(path, "/public/") || path == "/generate/" || strings.HasPrefix(path, "/events/")
		},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' https: data: blob:; connect-src 'self' ws: wss:",
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
	}))

	e.Use(echosession.Middleware(a.newSessionStore()))

	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		ContextKey:  middleware.DefaultCSRFConfig.ContextKey,
		TokenLookup: "header:X-CSRF-Token,form:_csrf",
		CookieName:  "_csrf",
		CookiePath:  "/",
		CookieSameSite: func() http.SameSite {
			return http.SameSiteLaxMode
		}(),
		CookieSecure: a.Config.CookieSecure,
		ErrorHandler: func(err error, c echo.Context) error {
			return c.String(http.StatusForbidden, "Forbidden")
		},
	}))

	e.Use(middleware.AddTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		RedirectCode: http.StatusMovedPermanently,
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/public")
		},
	}))

	e.Use(cacheControlMiddleware)
	e.Use(a.tabMiddleware)
	e.Use(a.routeLifecycle)
}

func cacheControlMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if strings.HasPrefix(c.Request().URL.Path, "/public/") {
			c.Response().Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			// Every page reflects per-tab state.
			c.Response().Header().Set("Cache-Control", "no-store")
		}
		return next(c)
	}
}

// newSessionStore keeps the tab id in a browser-session cookie: it lives
// until the browser discards it, like the tab it stands for.
func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   0,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

// tabMiddleware assigns every visitor a tab id on first contact.
func (a *App) tabMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if strings.HasPrefix(c.Request().URL.Path, "/public/") {
			return next(c)
		}
		sess, err := echosession.Get(sessionName, c)
		if sess == nil {
			return err
		}
		if err != nil {
			// An undecodable cookie (rotated secret) starts a fresh tab.
			a.logger.Warnf("tab cookie: %v", err)
		}
		id, _ := sess.Values[tabKey].(string)
		if id == "" {
			id = session.NewTabID()
			sess.Values[tabKey] = id
			if err := sess.Save(c.Request(), c.Response()); err != nil {
				return err
			}
		}
		c.Set(tabCtxKey, id)
		return next(c)
	}
}

// routeLifecycle clears the tab's active-document group whenever a page
// outside the editor is entered. Credential, staleness and status survive.
func (a *App) routeLifecycle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Method == http.MethodGet && !editorScoped(c.Request().URL.Path) {
			tab := TabID(c)
			if err := a.Sessions.LeaveEditor(c.Request().Context(), tab); err != nil {
				c.Logger().Errorf("tab %s: leave editor: %v", tab, err)
			}
			a.editors.drop(tab)
		}
		return next(c)
	}
}

func editorScoped(path string) bool {
	return strings.HasPrefix(path, "/editor") ||
		strings.HasPrefix(path, "/public/") ||
		strings.HasPrefix(path, "/events/")
}

// TabID returns the tab id assigned by the desk's middleware.
func TabID(c echo.Context) string {
	id, _ := c.Get(tabCtxKey).(string)
	return id
}

// CsrfToken extracts the CSRF token from the Echo context.
func CsrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}

// credential returns the tab's bearer token, empty when signed out.
func (a *App) credential(c echo.Context) string {
	tok, err := a.Sessions.Credential(c.Request().Context(), TabID(c))
	if err != nil {
		c.Logger().Errorf("tab %s: read credential: %v", TabID(c), err)
		return ""
	}
	return tok
}

// page builds the layout data for the current request.
func (a *App) page(c echo.Context, title string) views.Page {
	return views.Page{
		SiteName: a.Config.Name,
		Title:    title,
		CSRF:     CsrfToken(c),
		SignedIn: a.credential(c) != "",
	}
}
