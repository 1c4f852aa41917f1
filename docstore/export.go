package docstore

import (
	"errors"
	"mime"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	mhtml "github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

// ErrNotAcceptable is returned when no supported format matches Accept.
var ErrNotAcceptable = errors.New("docstore: no acceptable export format")

// Exporter packages markup for download.
type Exporter interface {
	// Export returns the payload, its content type and a download file name.
	Export(markup, accept string) ([]byte, string, string, error)
}

// HTMLExporter returns a minified, self-contained HTML file.
type HTMLExporter struct {
	m *minify.M
}

// NewHTMLExporter returns an exporter with HTML, CSS and JS minifiers.
func NewHTMLExporter() *HTMLExporter {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.Add("text/html", &mhtml.Minifier{KeepDocumentTags: true, KeepEndTags: true})
	return &HTMLExporter{m: m}
}

const htmlType = "text/html"

// Export implements Exporter.
func (e *HTMLExporter) Export(markup, accept string) ([]byte, string, string, error) {
	if !accepts(accept, htmlType) {
		return nil, "", "", ErrNotAcceptable
	}
	if !strings.Contains(strings.ToLower(markup), "<html") {
		markup = "<!DOCTYPE html><html><head><meta charset=\"utf-8\"></head><body>" + markup + "</body></html>"
	}
	out, err := e.m.String(htmlType, markup)
	if err != nil {
		// Fall back to the original markup rather than failing the download.
		out = markup
	}
	return []byte(out), htmlType + "; charset=utf-8", "newsletter.html", nil
}

// accepts reports whether an Accept header admits mediaType.
func accepts(header, mediaType string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}
	major := strings.SplitN(mediaType, "/", 2)[0]
	for _, part := range strings.Split(header, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if params["q"] == "0" {
			continue
		}
		if mt == "*/*" || mt == mediaType || mt == major+"/*" {
			return true
		}
	}
	return false
}
