package views

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/eringen/draftdesk/document"
)

// PathEscape wraps url.PathEscape for use in links.
func PathEscape(s string) string {
	return url.PathEscape(s)
}

// FormatTime renders a timestamp for the lists; zero renders as a dash.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 2, 2006 15:04")
}

// StatusClass returns the CSS class of a status badge.
func StatusClass(st document.Status) string {
	return "badge badge-" + strings.ToLower(string(st))
}

// ListURL is the list route of a status.
func ListURL(st document.Status) string {
	return "/" + st.Slug() + "/"
}

// DetailURL is the revision history route of a document reached from the
// st collection.
func DetailURL(id string, st document.Status) string {
	u := "/newsletter/" + PathEscape(id) + "/"
	if st != "" {
		u += "?status=" + url.QueryEscape(string(st))
	}
	return u
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
