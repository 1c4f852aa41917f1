package views

import (
	"context"
	"embed"
	"html/template"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/eringen/draftdesk/document"
)

// Each page's markup lives in templates/<page>.html as a "content" block;
// layout.html holds the chrome and the shared partials.
//
//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"statuses":    func() []document.Status { return document.Statuses },
	"listURL":     ListURL,
	"detailURL":   DetailURL,
	"statusClass": StatusClass,
	"formatTime":  FormatTime,
	"sortedKeys":  sortedKeys,
	"join":        strings.Join,
}

func parse(page string) *template.Template {
	return template.Must(template.New(page).Funcs(funcs).
		ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html"))
}

var (
	homePage        = parse("home")
	listPage        = parse("list")
	detailPage      = parse("detail")
	generatorPage   = parse("generator")
	editorPage      = parse("editor")
	loginPage       = parse("login")
	notFoundPage    = parse("notfound")
	serverErrorPage = parse("servererror")
)

type pageData struct {
	Page Page
	Data any
}

func render(t *template.Template, p Page, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return t.ExecuteTemplate(w, "layout", pageData{Page: p, Data: data})
	})
}

// Home shows the three collections side by side.
func Home(p Page, lists []ListData) templ.Component {
	return render(homePage, p, lists)
}

// List shows one collection. The page subscribes to staleness pushes for
// its status.
func List(p Page, l ListData) templ.Component {
	return render(listPage, p, l)
}

type detailData struct {
	Name   string
	Base   string
	Status document.Status
	Revs   []document.Revision
}

// Detail shows the revision history of one document, newest first.
func Detail(p Page, id string, revs []document.Revision, st document.Status) templ.Component {
	d := detailData{Base: DetailURL(id, ""), Status: st, Revs: revs}
	if len(revs) > 0 {
		d.Name = revs[0].Name
	}
	return render(detailPage, p, d)
}

// Generator is the new-newsletter form. Progress frames are appended to the
// list below it as they arrive.
func Generator(p Page) templ.Component {
	return render(generatorPage, p, nil)
}

// Editor hosts the authoring widget. The widget talks to /editor/project/
// with the lease on the page.
func Editor(p Page, d EditorData) templ.Component {
	return render(editorPage, p, d)
}

// Login is the sign-in form, or the account creation form when d.Signup is set.
func Login(p Page, d LoginData) templ.Component {
	return render(loginPage, p, d)
}

func NotFound(p Page) templ.Component {
	return render(notFoundPage, p, nil)
}

func ServerError(p Page) templ.Component {
	return render(serverErrorPage, p, nil)
}
