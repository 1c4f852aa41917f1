// Package remote is the HTTP client of the document service: generation,
// saving, listing and the per-document mutations.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/eringen/draftdesk/document"
	"github.com/eringen/draftdesk/stream"
)

// Client talks to one document service.
type Client struct {
	base       *url.URL
	credential string
	http       *http.Client
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCredential sets the bearer credential sent with every call.
func WithCredential(token string) Option {
	return func(c *Client) { c.credential = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}
	c := &Client{base: u}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		// No overall timeout: generation streams stay open for minutes.
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = log.New("remote")
	}
	return c, nil
}

// With returns a copy of c carrying credential.
func (c *Client) With(credential string) *Client {
	cp := *c
	cp.credential = credential
	return &cp
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, err
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
	return req, nil
}

// do sends req and returns the response when it is 2xx. Any other outcome
// is an *Error.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Op: op, Err: err}
	}
	c.logger.Debugf("%s %s %d %s", req.Method, req.URL.Path, resp.StatusCode, time.Since(start))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, &Error{Op: op, Status: resp.StatusCode, Detail: readDetail(resp.Body)}
}

// readDetail extracts {"detail": "..."} or {"message": "..."} from an error body.
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 8<<10))
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// GenerateRequest is the generator form.
type GenerateRequest struct {
	Topic        string
	Content      string
	Tone         string
	TemplateName string
	Template     io.Reader // optional template file
}

// Generate submits req and decodes the progress stream, handing every frame
// to fn. An empty topic fails with ErrValidation before any network call.
// Cancelling ctx aborts the stream with stream.ErrAborted.
func (c *Client) Generate(ctx context.Context, req GenerateRequest, fn func(stream.Frame)) (stream.Result, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return stream.Result{}, fmt.Errorf("%w: topic is required", ErrValidation)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("topic", req.Topic)
	if strings.TrimSpace(req.Content) != "" {
		mw.WriteField("content", req.Content)
	}
	if strings.TrimSpace(req.Tone) != "" {
		mw.WriteField("tone", req.Tone)
	}
	if req.Template != nil {
		name := req.TemplateName
		if name == "" {
			name = "template.html"
		}
		fw, err := mw.CreateFormFile("template", name)
		if err != nil {
			return stream.Result{}, err
		}
		if _, err := io.Copy(fw, req.Template); err != nil {
			return stream.Result{}, fmt.Errorf("remote: generate: read template: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stream.Result{}, err
	}

	hr, err := c.newRequest(ctx, http.MethodPost, "/generate", &buf)
	if err != nil {
		return stream.Result{}, err
	}
	hr.Header.Set("Content-Type", mw.FormDataContentType())
	hr.Header.Set("Accept", "text/event-stream")
	resp, err := c.do("generate", hr)
	if err != nil {
		if ctx.Err() != nil {
			return stream.Result{}, stream.ErrAborted
		}
		return stream.Result{}, err
	}
	defer resp.Body.Close()
	return stream.Decode(ctx, resp.Body, fn)
}

// SaveRequest is one atomic save. DocumentID is empty for a never-saved
// document and is then sent as null.
type SaveRequest struct {
	Markup     string          `json:"html"`
	Project    json.RawMessage `json:"projectData"`
	Name       string          `json:"fname"`
	Version    int             `json:"version"`
	DocumentID *string         `json:"projID"`
}

// Save stores a new revision and returns the document id, which the service
// assigns on the first save.
func (c *Client) Save(ctx context.Context, req SaveRequest) (string, error) {
	if req.DocumentID != nil && *req.DocumentID == "" {
		req.DocumentID = nil
	}
	var out struct {
		DocumentID string `json:"projID"`
	}
	if err := c.doJSON(ctx, "save", http.MethodPost, "/save-draft", req, &out); err != nil {
		return "", err
	}
	if out.DocumentID == "" {
		return "", &Error{Op: "save", Status: http.StatusOK, Err: fmt.Errorf("response carries no document id")}
	}
	return out.DocumentID, nil
}

// LoadStatic fetches the markup of a generated document by its locator.
func (c *Client) LoadStatic(ctx context.Context, locator string) (string, error) {
	locator = strings.TrimLeft(locator, "/")
	if locator == "" || strings.Contains(locator, "..") {
		return "", fmt.Errorf("%w: bad locator %q", ErrValidation, locator)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/html/"+url.PathEscape(locator), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do("load static", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Op: "load static", Err: err}
	}
	return string(b), nil
}

// List returns the latest revision of every document with status st, most
// recently edited first.
func (c *Client) List(ctx context.Context, st document.Status) ([]document.Summary, error) {
	var out []document.Summary
	err := c.doJSON(ctx, "list", http.MethodPost, "/newsletters", map[string]string{"type": string(st)}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Detail returns every revision of a document, latest first.
func (c *Client) Detail(ctx context.Context, id string) ([]document.Revision, error) {
	var out []document.Revision
	err := c.doJSON(ctx, "detail", http.MethodPost, "/newsletter-details", map[string]string{"file_id": id}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Rename sets the display name of a document.
func (c *Client) Rename(ctx context.Context, id, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	return c.doJSON(ctx, "rename", http.MethodPut, "/newsletter-rename",
		map[string]string{"file_id": id, "file_name": name}, nil)
}

// UpdateStatus moves a document to another category.
func (c *Client) UpdateStatus(ctx context.Context, id string, st document.Status) error {
	if !st.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, st)
	}
	return c.doJSON(ctx, "update status", http.MethodPut, "/newsletter-status-update",
		map[string]string{"file_id": id, "project_status": string(st)}, nil)
}

// Scope selects what a delete removes.
type Scope string

const (
	AllVersions     Scope = "all"
	ThisVersionOnly Scope = "version"
)

// DeleteRequest removes a document or one of its revisions. Latest tells
// the service the revision is the current one; Sole tells it the revision
// is the only one, which always deletes the whole document.
type DeleteRequest struct {
	DocumentID string
	Version    int
	Scope      Scope
	Latest     bool
	Sole       bool
}

type deletePayload struct {
	DocumentID string `json:"fileID"`
	Version    int    `json:"version"`
	Scope      Scope  `json:"scope"`
	Latest     bool   `json:"latest"`
}

// Delete removes revisions of a document.
func (c *Client) Delete(ctx context.Context, req DeleteRequest) error {
	p := deletePayload{DocumentID: req.DocumentID, Version: req.Version, Scope: req.Scope, Latest: req.Latest}
	if req.Sole || p.Scope == "" {
		p.Scope = AllVersions
	}
	if p.Scope == ThisVersionOnly && p.Version <= 0 {
		return fmt.Errorf("%w: version required for a single-version delete", ErrValidation)
	}
	return c.doJSON(ctx, "delete", http.MethodDelete, "/newsletter-delete", p, nil)
}

// Export packages markup for download. accept selects the format; the
// returned content type is the one the service chose.
func (c *Client) Export(ctx context.Context, markup, accept string) ([]byte, string, error) {
	b, err := json.Marshal(map[string]string{"html": markup})
	if err != nil {
		return nil, "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/export", bytes.NewReader(b))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.do("export", req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &Error{Op: "export", Err: err}
	}
	return payload, resp.Header.Get("Content-Type"), nil
}

// UploadThumbnail attaches a preview image to a document and returns its URL.
func (c *Client) UploadThumbnail(ctx context.Context, id, filename string, img io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("file_id", id)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, img); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/newsletter-thumbnail", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do("upload thumbnail", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		URL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Op: "upload thumbnail", Status: resp.StatusCode, Err: err}
	}
	return out.URL, nil
}

// Credentials are the login form fields.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is a successful login.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        string `json:"user"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, cr Credentials) (Session, error) {
	if cr.Email == "" || cr.Password == "" {
		return Session{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	var s Session
	if err := c.doJSON(ctx, "login", http.MethodPost, "/login", cr, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Signup registers a new user and returns the service's message.
func (c *Client) Signup(ctx context.Context, cr Credentials) (string, error) {
	if cr.Email == "" || cr.Password == "" {
		return "", fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, "signup", http.MethodPost, "/signup", cr, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
