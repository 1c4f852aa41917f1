package draftdesk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/eringen/draftdesk/document"
	"github.com/eringen/draftdesk/draft"
	"github.com/eringen/draftdesk/remote"
	"github.com/eringen/draftdesk/session"
	"github.com/eringen/draftdesk/views"
)

const maxActionPayload = 8 << 20

type ctxKey int

const tabContextKey ctxKey = iota

// tabFromContext returns the tab a component action runs for.
func tabFromContext(ctx context.Context) string {
	tab, _ := ctx.Value(tabContextKey).(string)
	return tab
}

// tabService is the document service as one tab sees it. The credential is
// looked up on every call so a sign-in during an editing session applies.
type tabService struct {
	a   *App
	tab string
}

func (s tabService) client(ctx context.Context) (*remote.Client, error) {
	cred, err := s.a.Sessions.Credential(ctx, s.tab)
	if err != nil {
		return nil, err
	}
	if cred == "" {
		return nil, fmt.Errorf("%w: signed out", remote.ErrUnauthorized)
	}
	return s.a.Remote.With(cred), nil
}

func (s tabService) LoadStatic(ctx context.Context, locator string) (string, error) {
	c, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	return c.LoadStatic(ctx, locator)
}

func (s tabService) Save(ctx context.Context, req remote.SaveRequest) (string, error) {
	c, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	return c.Save(ctx, req)
}

// deskWidget adapts the browser-side authoring widget to draft.Widget. The
// browser reaches the load and save callbacks through /editor/project/.
type deskWidget struct {
	*draft.Actions

	mu     sync.Mutex
	load   draft.LoadFunc
	save   draft.SaveFunc
	markup string
	styles string
}

func (w *deskWidget) OnLoad(fn draft.LoadFunc) {
	w.mu.Lock()
	w.load = fn
	w.mu.Unlock()
}

func (w *deskWidget) OnSave(fn draft.SaveFunc) {
	w.mu.Lock()
	w.save = fn
	w.mu.Unlock()
}

// Markup returns the markup of the last accepted save.
func (w *deskWidget) Markup() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.markup
}

// Styles returns the styles of the last accepted save.
func (w *deskWidget) Styles() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.styles
}

func (w *deskWidget) open(ctx context.Context) (json.RawMessage, error) {
	w.mu.Lock()
	fn := w.load
	w.mu.Unlock()
	if fn == nil {
		return nil, draft.ErrNotLoaded
	}
	return fn(ctx)
}

func (w *deskWidget) commit(ctx context.Context, in draft.SaveInput, styles string) (any, error) {
	w.mu.Lock()
	fn := w.save
	w.mu.Unlock()
	if fn == nil {
		return nil, draft.ErrNotLoaded
	}
	out, err := fn(ctx, in)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.markup, w.styles = in.Markup, styles
	w.mu.Unlock()
	return out, nil
}

type editorSession struct {
	ctrl   *draft.Controller
	widget *deskWidget
	ref    draft.Ref
}

func (es *editorSession) status() document.Status {
	if es.ref.Status == "" {
		return document.Draft
	}
	return es.ref.Status
}

// editorRegistry holds the live editing session of every tab.
type editorRegistry struct {
	mu sync.Mutex
	m  map[string]*editorSession
}

func newEditorRegistry() *editorRegistry {
	return &editorRegistry{m: make(map[string]*editorSession)}
}

func (r *editorRegistry) put(tab string, es *editorSession) {
	r.mu.Lock()
	r.m[tab] = es
	r.mu.Unlock()
}

// get returns the session of tab if it is bound to lease.
func (r *editorRegistry) get(tab, lease string) *editorSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	es := r.m[tab]
	if es == nil || es.ctrl.Lease() != lease {
		return nil
	}
	return es
}

func (r *editorRegistry) drop(tab string) {
	r.mu.Lock()
	delete(r.m, tab)
	r.mu.Unlock()
}

func (a *App) openEditor(tab, lease string, ref draft.Ref) *editorSession {
	ctrl := draft.New(draft.Config{
		Tab:     tab,
		Lease:   lease,
		Service: tabService{a: a, tab: tab},
		Cache:   a.Sessions,
		Starter: a.Config.StarterLocator,
		Logger:  log.New("draft"),
	})
	w := &deskWidget{Actions: &a.actions}
	draft.Attach(w, ctrl, ref)
	es := &editorSession{ctrl: ctrl, widget: w, ref: ref}
	a.editors.put(tab, es)
	return es
}

// editorFor returns the editing session bound to lease. After a restart the
// session is rebuilt from the tab cache as long as the lease still holds.
func (a *App) editorFor(c echo.Context, lease string) (*editorSession, error) {
	tab := TabID(c)
	if es := a.editors.get(tab, lease); es != nil {
		return es, nil
	}
	if lease == "" {
		return nil, session.ErrLeaseLost
	}
	ctx := c.Request().Context()
	if err := a.Sessions.CheckLease(ctx, tab, lease); err != nil {
		return nil, err
	}
	act, ok, err := a.Sessions.Active(ctx, tab)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, session.ErrNoActive
	}
	st, err := a.Sessions.Status(ctx, tab)
	if err != nil {
		return nil, err
	}
	es := a.openEditor(tab, lease, draft.Ref{DocumentID: act.DocumentID, Status: st})
	if _, err := es.widget.open(ctx); err != nil {
		return nil, err
	}
	return es, nil
}

// handleEditor enters the editing surface. A stored revision is opened by
// doc and version; a generation result by locator.
func (a *App) handleEditor(c echo.Context) error {
	cred := a.credential(c)
	if cred == "" {
		return redirectLogin(c)
	}
	ctx := c.Request().Context()
	tab := TabID(c)

	ref := draft.Ref{Status: a.browsedStatus(c, "status")}
	act := session.Active{Filename: "Untitled"}
	data := views.EditorData{Name: act.Filename}

	if id := c.QueryParam("doc"); id != "" {
		revs, err := a.Remote.With(cred).Detail(ctx, id)
		if err != nil {
			return err
		}
		rev, latest, err := pickRevision(revs, c.QueryParam("version"))
		if err != nil {
			return err
		}
		// Saves continue from the latest version even when an older one
		// is opened.
		act = session.Active{DocumentID: id, Version: latest, Filename: rev.Name, Snapshot: string(rev.Project)}
		ref.DocumentID = id
		data.DocumentID, data.Version, data.Name = id, rev.Version, rev.Name
	} else {
		ref.Locator = c.QueryParam("locator")
		ref.Status = document.Draft
		data.Locator = ref.Locator
	}

	lease, err := a.Sessions.EnterEditor(ctx, tab, act)
	if err != nil {
		return err
	}
	a.openEditor(tab, lease, ref)

	data.Lease = lease
	data.Status = ref.Status
	data.Actions = make(map[string][]string)
	for _, kind := range a.actions.Kinds() {
		data.Actions[kind] = a.actions.ActionsFor(kind)
	}
	return Render(c, a.Views.Editor(a.page(c, data.Name), data))
}

// pickRevision returns the revision named by version (the latest when
// empty) and the latest version number.
func pickRevision(revs []document.Revision, version string) (document.Revision, int, error) {
	if len(revs) == 0 {
		return document.Revision{}, 0, remote.ErrNotFound
	}
	latest := revs[0]
	for _, r := range revs[1:] {
		if r.Version > latest.Version {
			latest = r
		}
	}
	if version == "" {
		return latest, latest.Version, nil
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return document.Revision{}, 0, echo.NewHTTPError(http.StatusBadRequest, "bad version")
	}
	for _, r := range revs {
		if r.Version == v {
			return r, latest.Version, nil
		}
	}
	return document.Revision{}, 0, echo.NewHTTPError(http.StatusNotFound, "no such version")
}

func (a *App) handleProjectLoad(c echo.Context) error {
	es, err := a.editorFor(c, c.QueryParam("lease"))
	if err != nil {
		return err
	}
	project, err := es.widget.open(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, project)
}

type projectSave struct {
	Lease   string          `json:"lease"`
	Markup  string          `json:"html"`
	Styles  string          `json:"css"`
	Project json.RawMessage `json:"projectData"`
	Name    string          `json:"name"`
}

type projectSaved struct {
	DocumentID string `json:"documentId"`
	Version    int    `json:"version"`
	Name       string `json:"name"`
}

func (a *App) handleProjectSave(c echo.Context) error {
	var req projectSave
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed save request")
	}
	es, err := a.editorFor(c, req.Lease)
	if err != nil {
		return err
	}
	out, err := es.widget.commit(c.Request().Context(), draft.SaveInput{
		Markup:  req.Markup,
		Project: req.Project,
		Name:    req.Name,
	}, req.Styles)
	if err != nil {
		return err
	}
	saved, _ := out.(session.Active)
	tab := TabID(c)
	a.Lists.Invalidate(tab, es.status())
	// The commit already persisted the triple; mounted lists only need the push.
	a.Invalidator.Hub().Publish(tab, document.TripleOf(es.status()))
	return c.JSON(http.StatusOK, projectSaved{DocumentID: saved.DocumentID, Version: saved.Version, Name: saved.Filename})
}

func (a *App) handleDirty(c echo.Context) error {
	es, err := a.editorFor(c, c.FormValue("lease"))
	if err != nil {
		return err
	}
	es.ctrl.MarkDirty()
	return c.JSON(http.StatusOK, map[string]string{"state": es.ctrl.State().String()})
}

type exportRequest struct {
	Lease  string `json:"lease"`
	Markup string `json:"html"`
	Styles string `json:"css"`
	Name   string `json:"name"`
}

// handleExport packages the editor's markup through the document service
// and returns it as a download.
func (a *App) handleExport(c echo.Context) error {
	var req exportRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed export request")
	}
	es, err := a.editorFor(c, req.Lease)
	if err != nil {
		return err
	}
	markup, styles := req.Markup, req.Styles
	if strings.TrimSpace(markup) == "" {
		markup, styles = es.widget.Markup(), es.widget.Styles()
	}
	if strings.TrimSpace(markup) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to export yet")
	}
	cred := a.credential(c)
	if cred == "" {
		return remote.ErrUnauthorized
	}
	accept := c.Request().Header.Get(echo.HeaderAccept)
	if accept == "" {
		accept = echo.MIMETextHTML
	}
	payload, ctype, err := a.Remote.With(cred).Export(c.Request().Context(), exportDocument(req.Name, markup, styles), accept)
	if err != nil {
		return err
	}
	name := Slugify(req.Name)
	if name == "" {
		name = "newsletter"
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name+".html"))
	return c.Blob(http.StatusOK, ctype, payload)
}

func (a *App) handleAction(c echo.Context) error {
	es, err := a.editorFor(c, c.QueryParam("lease"))
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxActionPayload))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("null")
	}
	ctx := context.WithValue(c.Request().Context(), tabContextKey, TabID(c))
	out, err := es.widget.Invoke(ctx, c.Param("kind"), c.Param("action"), body)
	if err != nil {
		return err
	}
	if out == nil {
		out = json.RawMessage(`{}`)
	}
	return c.JSONBlob(http.StatusOK, out)
}

func (a *App) registerBuiltinActions() {
	a.actions.RegisterComponentAction("document", "thumbnail", a.thumbnailAction)
}

type thumbnailPayload struct {
	Filename string `json:"filename"`
	// Image is base64, optionally as a data: URL.
	Image string `json:"image"`
}

// thumbnailAction uploads a preview image for the saved document of the
// action's tab.
func (a *App) thumbnailAction(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	tab := tabFromContext(ctx)
	var in thumbnailPayload
	if err := json.Unmarshal(payload, &in); err != nil || in.Image == "" {
		return nil, fmt.Errorf("%w: image is required", remote.ErrValidation)
	}
	act, ok, err := a.Sessions.Active(ctx, tab)
	if err != nil {
		return nil, err
	}
	if !ok || act.DocumentID == "" {
		return nil, fmt.Errorf("%w: save the newsletter before adding a thumbnail", remote.ErrValidation)
	}
	data := in.Image
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not base64", remote.ErrValidation)
	}
	if in.Filename == "" {
		in.Filename = "thumbnail.png"
	}

	client, err := tabService{a: a, tab: tab}.client(ctx)
	if err != nil {
		return nil, err
	}
	url, err := client.UploadThumbnail(ctx, act.DocumentID, in.Filename, bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	st, err := a.Sessions.Status(ctx, tab)
	if err == nil {
		a.Lists.Invalidate(tab, st)
		if err := a.Invalidator.Mark(ctx, tab, st); err != nil {
			a.logger.Errorf("tab %s: mark thumbnail change: %v", tab, err)
		}
	}
	return json.Marshal(map[string]string{"thumbnail_url": url})
}
