package views

import "github.com/eringen/draftdesk/document"

// Page carries what every page of the desk needs into the layout.
type Page struct {
	SiteName string
	Title    string
	CSRF     string
	SignedIn bool
	// Notice is a one-line message shown above the content.
	Notice string
}

// EditorData describes the editing session a page opens.
type EditorData struct {
	Lease      string
	DocumentID string
	Version    int
	Name       string
	Locator    string
	Status     document.Status
	// Actions maps a component kind to its registered toolbar action ids.
	Actions map[string][]string
}

// ListData is one status collection.
type ListData struct {
	Status document.Status
	Items  []document.Summary
}

// LoginData drives the sign-in page.
type LoginData struct {
	// Signup switches the form to account creation.
	Signup bool
	Error  string
	Email  string
}
