package draftdesk

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/eringen/draftdesk/document"
	"github.com/eringen/draftdesk/draft"
	"github.com/eringen/draftdesk/fetch"
	"github.com/eringen/draftdesk/invalidate"
	"github.com/eringen/draftdesk/remote"
	"github.com/eringen/draftdesk/session"
	"github.com/eringen/draftdesk/views"
)

// listFetch is one request's view of its collection fetches. The fetch
// manager swallows errors; listFetch keeps what the handler still needs to
// know about them.
type listFetch struct {
	mu     sync.Mutex
	failed map[string]bool
	unauth bool
}

func (lf *listFetch) record(category string, err error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.failed[category] = true
	if errors.Is(err, remote.ErrUnauthorized) {
		lf.unauth = true
	}
}

func (lf *listFetch) ok(category string) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return !lf.failed[category]
}

func (lf *listFetch) unauthorized() bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.unauth
}

// listManager returns a fetch manager listing collections with credential.
func (a *App) listManager(credential string) (*fetch.Manager[document.Summary], *listFetch) {
	client := a.Remote.With(credential)
	lf := &listFetch{failed: make(map[string]bool)}
	fn := func(ctx context.Context, category string) ([]document.Summary, error) {
		st, err := document.ParseStatus(category)
		if err != nil {
			return nil, err
		}
		items, err := client.List(ctx, st)
		if err != nil && ctx.Err() == nil {
			lf.record(category, err)
		}
		return items, err
	}
	return fetch.NewManager(fn, fetch.WithLogger(a.logger)), lf
}

func (a *App) handleHome(c echo.Context) error {
	cred := a.credential(c)
	if cred == "" {
		return redirectLogin(c)
	}
	ctx := c.Request().Context()

	mgr, lf := a.listManager(cred)
	cats := make([]string, len(document.Statuses))
	for i, st := range document.Statuses {
		cats[i] = string(st)
	}
	got := mgr.FetchAll(ctx, cats...)
	if lf.unauthorized() {
		return remote.ErrUnauthorized
	}
	if ctx.Err() != nil {
		return nil
	}

	lists := make([]views.ListData, 0, len(document.Statuses))
	for _, st := range document.Statuses {
		lists = append(lists, views.ListData{Status: st, Items: got[string(st)]})
	}
	return Render(c, a.Views.Home(a.page(c, ""), lists))
}

// handleList serves one status collection. Mounting consumes the tab's
// staleness triple; a stale collection is dropped from the list cache
// before it is read.
func (a *App) handleList(st document.Status) echo.HandlerFunc {
	return func(c echo.Context) error {
		cred := a.credential(c)
		if cred == "" {
			return redirectLogin(c)
		}
		ctx := c.Request().Context()
		tab := TabID(c)

		stale, err := a.Invalidator.Consume(ctx, tab, st)
		if err != nil {
			return err
		}
		if stale {
			a.Lists.Invalidate(tab, st)
		}
		if err := a.Sessions.SetStatus(ctx, tab, st); err != nil {
			c.Logger().Errorf("tab %s: track status: %v", tab, err)
		}

		mgr, lf := a.listManager(cred)
		items, _ := a.Lists.Load(ctx, tab, st, func(ctx context.Context) ([]document.Summary, bool) {
			items, ok := mgr.Load(ctx, string(st))
			return items, ok && lf.ok(string(st))
		})
		if lf.unauthorized() {
			return remote.ErrUnauthorized
		}
		if ctx.Err() != nil {
			return nil
		}
		return Render(c, a.Views.List(a.page(c, string(st)), views.ListData{Status: st, Items: items}))
	}
}

// browsedStatus is the status named by the request, falling back to the
// collection the tab browsed last.
func (a *App) browsedStatus(c echo.Context, field string) document.Status {
	v := c.QueryParam(field)
	if v == "" {
		v = c.FormValue(field)
	}
	if st, err := document.ParseStatus(v); err == nil {
		return st
	}
	st, err := a.Sessions.Status(c.Request().Context(), TabID(c))
	if err != nil {
		return document.Draft
	}
	return st
}

func (a *App) handleDetail(c echo.Context) error {
	cred := a.credential(c)
	if cred == "" {
		return redirectLogin(c)
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	st := a.browsedStatus(c, "status")
	if err := a.Sessions.SetStatus(ctx, TabID(c), st); err != nil {
		c.Logger().Errorf("tab %s: track status: %v", TabID(c), err)
	}

	revs, err := a.Remote.With(cred).Detail(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	title := ""
	if len(revs) > 0 {
		title = revs[0].Name
	}
	return Render(c, a.Views.Detail(a.page(c, title), id, revs, st))
}

// recordMutation flags the statuses m touches, both in the tab's persisted
// triple and in the desk's own list cache.
func (a *App) recordMutation(c echo.Context, m invalidate.Mutation) {
	tab := TabID(c)
	for _, st := range invalidate.Affected(m) {
		a.Lists.Invalidate(tab, st)
	}
	if err := a.Invalidator.Record(c.Request().Context(), tab, m); err != nil {
		c.Logger().Errorf("tab %s: record mutation: %v", tab, err)
	}
}

func (a *App) handleRename(c echo.Context) error {
	cred := a.credential(c)
	if cred == "" {
		return redirectLogin(c)
	}
	id := c.Param("id")
	st := a.browsedStatus(c, "status")
	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if err := a.Remote.With(cred).Rename(c.Request().Context(), id, name); err != nil {
		return err
	}
	a.recordMutation(c, invalidate.Mutation{Kind: invalidate.Rename, From: st})
	return c.Redirect(http.StatusSeeOther, views.DetailURL(id, st))
}

func (a *App) handleStatus(c echo.Context) error {
	cred := a.credential(c)
	if cred == "" {
		return redirectLogin(c)
	}
	id := c.Param("id")
	to, err := document.ParseStatus(c.FormValue("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	from := a.browsedStatus(c, "from")
	if err := a.Remote.With(cred).UpdateStatus(c.Request().Context(), id, to); err != nil {
		return err
	}
	a.recordMutation(c, invalidate.Mutation{Kind: invalidate.StatusChange, From: from, To: to})
	return c.Redirect(http.StatusSeeOther, views.DetailURL(id, to))
}

func (a *App) handleDelete(c echo.Context) error {
	cred := a.credential(c)
	if cred == "" {
		return redirectLogin(c)
	}
	id := c.Param("id")
	st := a.browsedStatus(c, "status")
	req := remote.DeleteRequest{
		DocumentID: id,
		Scope:      remote.Scope(c.FormValue("scope")),
		Latest:     c.FormValue("latest") == "true",
		Sole:       c.FormValue("sole") == "true",
	}
	if req.Scope != remote.ThisVersionOnly {
		req.Scope = remote.AllVersions
	} else {
		v, err := strconv.Atoi(c.FormValue("version"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "version is required")
		}
		req.Version = v
	}
	if err := a.Remote.With(cred).Delete(c.Request().Context(), req); err != nil {
		return err
	}
	a.recordMutation(c, invalidate.Mutation{Kind: invalidate.Delete, From: st})
	if req.Scope == remote.AllVersions || req.Sole {
		return c.Redirect(http.StatusSeeOther, views.ListURL(st))
	}
	return c.Redirect(http.StatusSeeOther, views.DetailURL(id, st))
}

// handleEdit hands a stored revision over to the editor.
func (a *App) handleEdit(c echo.Context) error {
	if a.credential(c) == "" {
		return redirectLogin(c)
	}
	version := c.FormValue("version")
	if _, err := strconv.Atoi(version); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "version is required")
	}
	st := a.browsedStatus(c, "status")
	return c.Redirect(http.StatusSeeOther, revisionEditorURL(c.Param("id"), version, st))
}

func redirectLogin(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, "/login/")
}

func (a *App) handleLoginPage(c echo.Context) error {
	d := views.LoginData{Signup: c.QueryParam("mode") == "signup"}
	p := a.page(c, "Sign in")
	if d.Signup {
		p.Title = "Create account"
	}
	switch {
	case c.QueryParam("expired") != "":
		p.Notice = remote.Timeout + ". Sign in again."
	case c.QueryParam("signedup") != "":
		p.Notice = "Account created. Sign in."
	}
	return Render(c, a.Views.Login(p, d))
}

func credentialsFrom(c echo.Context) remote.Credentials {
	return remote.Credentials{
		Email:    strings.TrimSpace(c.FormValue("email")),
		Password: c.FormValue("password"),
	}
}

// rejected reports whether err is the service refusing the credentials
// rather than failing.
func rejected(err error) bool {
	var rerr *remote.Error
	return errors.Is(err, remote.ErrValidation) || (errors.As(err, &rerr) && rerr.Status >= 400 && rerr.Status < 500)
}

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts, try again later")
	}
	cr := credentialsFrom(c)
	sess, err := a.Remote.Login(c.Request().Context(), cr)
	if err != nil {
		if rejected(err) {
			a.loginLimiter.Record(ip)
			return RenderStatus(c, http.StatusUnauthorized, a.Views.Login(a.page(c, "Sign in"),
				views.LoginData{Email: cr.Email, Error: "Wrong email or password."}))
		}
		return err
	}
	tab := TabID(c)
	if err := a.Sessions.SetCredential(c.Request().Context(), tab, sess.AccessToken); err != nil {
		return err
	}
	a.Lists.Forget(tab)
	return c.Redirect(http.StatusSeeOther, "/")
}

// handleSignup registers an account with the document service. The new
// user still signs in on the next page.
func (a *App) handleSignup(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many attempts, try again later")
	}
	cr := credentialsFrom(c)
	if _, err := a.Remote.Signup(c.Request().Context(), cr); err != nil {
		if !rejected(err) {
			return err
		}
		a.loginLimiter.Record(ip)
		msg := "Could not create the account."
		var rerr *remote.Error
		switch {
		case errors.Is(err, remote.ErrValidation):
			msg = "Email and password are required."
		case errors.As(err, &rerr) && strings.Contains(rerr.Detail, "duplicate"):
			msg = "That email is already registered."
		}
		return RenderStatus(c, http.StatusBadRequest, a.Views.Login(a.page(c, "Create account"),
			views.LoginData{Signup: true, Email: cr.Email, Error: msg}))
	}
	c.Logger().Infof("signup: account created for %s", cr.Email)
	return c.Redirect(http.StatusSeeOther, "/login/?signedup=1")
}

func (a *App) handleLogout(c echo.Context) error {
	a.forgetCredential(c)
	return redirectLogin(c)
}

func (a *App) forgetCredential(c echo.Context) {
	tab := TabID(c)
	if err := a.Sessions.ClearCredential(c.Request().Context(), tab); err != nil {
		c.Logger().Errorf("tab %s: clear credential: %v", tab, err)
	}
	a.Lists.Forget(tab)
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if errors.Is(err, remote.ErrUnauthorized) {
		// The service forgot the credential; so does the tab.
		a.forgetCredential(c)
		if wantsJSON(c) {
			_ = c.JSON(http.StatusUnauthorized, detail{remote.Timeout})
			return
		}
		_ = c.Redirect(http.StatusSeeOther, "/login/?expired=1")
		return
	}

	code, msg := http.StatusInternalServerError, ""
	var he *echo.HTTPError
	var rerr *remote.Error
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg, _ = he.Message.(string)
	case errors.Is(err, remote.ErrValidation):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, remote.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, remote.ErrConflict):
		code, msg = http.StatusConflict, "a newer version was saved elsewhere; reload the document"
	case errors.Is(err, session.ErrLeaseLost):
		code, msg = http.StatusConflict, "this document was opened in another editor"
	case errors.Is(err, session.ErrNoActive):
		code, msg = http.StatusConflict, "the editor was closed"
	case errors.Is(err, draft.ErrSaveInFlight):
		code, msg = http.StatusConflict, "a save is already in progress"
	case errors.Is(err, draft.ErrNotLoaded):
		code, msg = http.StatusBadRequest, "load the document before saving"
	case errors.Is(err, draft.ErrUnknownAction):
		code = http.StatusNotFound
	case errors.As(err, &rerr) && rerr.Status >= 400 && rerr.Status < 500:
		code, msg = rerr.Status, rerr.Detail
	}
	if msg == "" {
		msg = http.StatusText(code)
	}

	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
	}
	if wantsJSON(c) {
		_ = c.JSON(code, detail{msg})
		return
	}
	switch {
	case code == http.StatusNotFound:
		_ = RenderStatus(c, code, a.Views.NotFound(a.page(c, "Not found")))
	case code >= 500:
		_ = RenderStatus(c, code, a.Views.ServerError(a.page(c, "Error")))
	default:
		_ = c.String(code, msg)
	}
}
