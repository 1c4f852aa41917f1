package views

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"

	"github.com/eringen/draftdesk/document"
)

func renderString(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return buf.String()
}

func TestLayoutChrome(t *testing.T) {
	p := Page{SiteName: "Desk", Title: "Drafts", CSRF: "tok", SignedIn: true, Notice: "Saved"}
	out := renderString(t, NotFound(p))

	for _, want := range []string{
		"<title>Drafts | Desk</title>",
		`<meta name="csrf-token" content="tok">`,
		`<a href="/drafts/">Draft</a>`,
		`<input type="hidden" name="_csrf" value="tok">`,
		`<p class="notice" role="status">Saved</p>`,
		"<h1>Not found</h1>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("page missing %q:\n%s", want, out)
		}
	}

	out = renderString(t, NotFound(Page{SiteName: "Desk"}))
	if strings.Contains(out, "Sign out") {
		t.Error("signed out pages should not offer Sign out")
	}
	if !strings.Contains(out, "<title>Desk</title>") {
		t.Errorf("untitled page should use the site name:\n%s", out)
	}
}

func TestListEscapesNames(t *testing.T) {
	items := []document.Summary{{
		ID: "a b", Name: `<script>alert("x")</script>`, Version: 3, Status: document.Draft,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
	out := renderString(t, List(Page{SiteName: "Desk"}, ListData{Status: document.Draft, Items: items}))

	if strings.Contains(out, "<script>alert") {
		t.Errorf("document name was not escaped:\n%s", out)
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Errorf("escaped name missing:\n%s", out)
	}
	if !strings.Contains(out, `data-view="Draft"`) || !strings.Contains(out, "<td>v3</td>") {
		t.Errorf("list markup incomplete:\n%s", out)
	}
	if !strings.Contains(out, `href="/newsletter/a%20b/?status=Draft"`) {
		t.Errorf("detail link = %s", out)
	}

	out = renderString(t, List(Page{SiteName: "Desk"}, ListData{Status: document.Archive}))
	if !strings.Contains(out, "Nothing here yet.") {
		t.Errorf("empty list should say so:\n%s", out)
	}
}

func TestDetailRevisionForms(t *testing.T) {
	revs := []document.Revision{
		{ID: "doc", Name: "Weekly", Version: 2},
		{ID: "doc", Name: "Weekly", Version: 1},
	}
	out := renderString(t, Detail(Page{SiteName: "Desk", CSRF: "tok"}, "doc", revs, document.Published))

	for _, want := range []string{
		"<h1>Weekly</h1>",
		`action="/newsletter/doc/rename/"`,
		`<option value="Published" selected>`,
		`data-confirm="Delete version 2?"`,
		`<input type="hidden" name="latest" value="true">`,
		`<input type="hidden" name="latest" value="false">`,
		`<input type="hidden" name="sole" value="false">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("detail page missing %q:\n%s", want, out)
		}
	}
}

func TestEditorData(t *testing.T) {
	d := EditorData{
		Lease: "L1", DocumentID: "doc", Version: 4, Name: "Spring", Status: document.Draft,
		Actions: map[string][]string{"image": {"thumbnail", "crop"}, "heading": {"case"}},
	}
	out := renderString(t, Editor(Page{SiteName: "Desk"}, d))

	for _, want := range []string{
		`data-lease="L1"`,
		`data-version="4"`,
		`value="Spring"`,
		`data-kind="heading" data-actions="case"`,
		`data-kind="image" data-actions="thumbnail,crop"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("editor page missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, `data-kind="heading"`) > strings.Index(out, `data-kind="image"`) {
		t.Error("actions should be listed in kind order")
	}
}

func TestLoginModes(t *testing.T) {
	p := Page{SiteName: "Desk", CSRF: "tok"}

	out := renderString(t, Login(p, LoginData{Error: "Wrong email or password.", Email: "ada@example.com"}))
	for _, want := range []string{`action="/login/"`, "Wrong email or password.", `value="ada@example.com"`, `href="/login/?mode=signup"`} {
		if !strings.Contains(out, want) {
			t.Errorf("sign-in form missing %q:\n%s", want, out)
		}
	}

	out = renderString(t, Login(p, LoginData{Signup: true}))
	if !strings.Contains(out, `action="/signup/"`) || !strings.Contains(out, "<h1>Create account</h1>") {
		t.Errorf("signup form = %s", out)
	}
	if strings.Contains(out, `class="error"`) {
		t.Error("no error expected without one")
	}
}
