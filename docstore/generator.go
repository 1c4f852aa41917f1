package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// GenerateRequest is the generator form.
type GenerateRequest struct {
	Topic        string
	Content      string
	Tone         string
	TemplateName string
	Template     []byte // optional, the default template is used when empty
}

// Generator produces a document for req, reporting progress through step,
// and returns the file name of the result relative to the output directory.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, step func(msg string) error) (string, error)
}

// DefaultTemplate is used when the request carries no template file.
const DefaultTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Newsletter</title>
<style>body{font-family:Georgia,serif;max-width:640px;margin:0 auto;padding:24px;color:#222}h1{font-size:28px}.tone{color:#888;font-size:13px}</style>
</head>
<body>
<header><h1 data-slot="title">Newsletter</h1><p class="tone" data-slot="tone"></p></header>
<main data-slot="content"></main>
<footer><p>You are receiving this because you subscribed.</p></footer>
</body>
</html>`

// TemplateGenerator fills an HTML template with the request's content
// guidance. It does not call out to a language model: the guidance is
// rendered from Markdown as is.
type TemplateGenerator struct {
	OutputDir string
	md        goldmark.Markdown
	policy    *bluemonday.Policy
}

// NewTemplateGenerator returns a generator writing into dir.
func NewTemplateGenerator(dir string) *TemplateGenerator {
	return &TemplateGenerator{
		OutputDir: dir,
		md:        goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
		policy:    bluemonday.UGCPolicy(),
	}
}

var errNoSlot = errors.New("template has no body")

// Generate implements Generator.
func (g *TemplateGenerator) Generate(ctx context.Context, req GenerateRequest, step func(string) error) (string, error) {
	if err := step("Received content..."); err != nil {
		return "", err
	}
	tmpl := req.Template
	if len(bytes.TrimSpace(tmpl)) == 0 {
		tmpl = []byte(DefaultTemplate)
		if err := step("No template uploaded, using the default template"); err != nil {
			return "", err
		}
	} else if err := step("Starting with " + req.TemplateName); err != nil {
		return "", err
	}

	doc, err := html.Parse(bytes.NewReader(tmpl))
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	if err := g.checkpoint(ctx, step, "Step 1: Parsed template"); err != nil {
		return "", err
	}

	guidance := req.Content
	if strings.TrimSpace(guidance) == "" {
		guidance = "## " + req.Topic
	}
	var rendered bytes.Buffer
	if err := g.md.Convert([]byte(guidance), &rendered); err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	safe := g.policy.SanitizeReader(&rendered)
	if err := g.checkpoint(ctx, step, "Step 2: Rendered content guidance"); err != nil {
		return "", err
	}

	if err := inject(doc, req, safe); err != nil {
		return "", err
	}
	if err := g.checkpoint(ctx, step, "Step 3: Filled template with content"); err != nil {
		return "", err
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	name := slugify(req.Topic)
	if name == "" {
		name = "newsletter"
	}
	name += "-" + strings.ToLower(ulid.Make().String()) + ".html"
	if err := os.MkdirAll(g.OutputDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(g.OutputDir, name), out.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	if err := step("Step 4: Created output file"); err != nil {
		return "", err
	}
	return name, nil
}

func (g *TemplateGenerator) checkpoint(ctx context.Context, step func(string) error, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return step(msg)
}

// inject places the title, tone and content into the template. Elements are
// located by their data-slot attribute; content falls back to the body.
func inject(doc *html.Node, req GenerateRequest, content io.Reader) error {
	slots := map[string]*html.Node{}
	var body, title *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Body:
				body = n
			case atom.Title:
				title = n
			}
			for _, a := range n.Attr {
				if a.Key == "data-slot" {
					if _, ok := slots[a.Val]; !ok {
						slots[a.Val] = n
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if req.Topic != "" {
		if title != nil {
			setText(title, req.Topic)
		}
		if n := slots["title"]; n != nil {
			setText(n, req.Topic)
		}
	}
	if n := slots["tone"]; n != nil && req.Tone != "" {
		setText(n, "Tone: "+req.Tone)
	}

	target := slots["content"]
	if target == nil {
		target = body
	}
	if target == nil {
		return errNoSlot
	}
	nodes, err := html.ParseFragment(content, &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div})
	if err != nil {
		return fmt.Errorf("parse content: %w", err)
	}
	for _, n := range nodes {
		target.AppendChild(n)
	}
	return nil
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func slugify(s string) string {
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
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 48 {
		out = strings.TrimRight(out[:48], "-")
	}
	return out
}
