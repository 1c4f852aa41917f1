package draftdesk

import (
	"html"
	"net/url"
	"strings"

	"github.com/eringen/draftdesk/document"
)

// Slugify converts a display name to a file-name-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// editorURL opens the editor on a generation result.
func editorURL(locator string) string {
	q := url.Values{"locator": {locator}, "status": {string(document.Draft)}}
	return "/editor/?" + q.Encode()
}

// revisionEditorURL opens the editor on a stored revision.
func revisionEditorURL(id, version string, st document.Status) string {
	q := url.Values{"doc": {id}, "version": {version}}
	if st != "" {
		q.Set("status", string(st))
	}
	return "/editor/?" + q.Encode()
}

// exportDocument wraps the widget's markup and styles into one page.
func exportDocument(name, markup, styles string) string {
	if strings.Contains(strings.ToLower(markup), "<html") {
		if styles == "" {
			return markup
		}
		if i := strings.Index(strings.ToLower(markup), "</head>"); i >= 0 {
			return markup[:i] + "<style>" + styles + "</style>" + markup[i:]
		}
		return markup
	}
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(name))
	b.WriteString("</title>")
	if styles != "" {
		b.WriteString("<style>" + styles + "</style>")
	}
	b.WriteString("</head><body>")
	b.WriteString(markup)
	b.WriteString("</body></html>")
	return b.String()
}

