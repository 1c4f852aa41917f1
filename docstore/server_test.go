package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eringen/draftdesk/document"
	"github.com/eringen/draftdesk/remote"
	"github.com/eringen/draftdesk/stream"
)

func setupTestServer(t *testing.T) (*Server, *remote.Client) {
	t.Helper()
	dir := t.TempDir()
	srv := New(Config{
		DatabasePath: filepath.Join(dir, "docstore.db"),
		OutputDir:    filepath.Join(dir, "html"),
		ThumbnailDir: filepath.Join(dir, "thumbs"),
	})
	if err := srv.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ts := httptest.NewServer(srv.Echo)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	c, err := remote.New(ts.URL)
	if err != nil {
		t.Fatalf("remote.New failed: %v", err)
	}
	return srv, c
}

func login(t *testing.T, c *remote.Client) *remote.Client {
	t.Helper()
	ctx := context.Background()
	cr := remote.Credentials{Email: "ada@example.com", Password: "s3cret"}
	if _, err := c.Signup(ctx, cr); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	sess, err := c.Login(ctx, cr)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sess.AccessToken == "" {
		t.Fatal("access token should not be empty")
	}
	return c.With(sess.AccessToken)
}

var testProject = json.RawMessage(`{"pages":[{"name":"Edit Template","component":"<p>x</p>"}]}`)

func TestGenerateThenLoadStatic(t *testing.T) {
	_, c := setupTestServer(t)
	ctx := context.Background()

	var progress []string
	res, err := c.Generate(ctx, remote.GenerateRequest{Topic: "Spring Update", Content: "We *moved* offices."},
		func(f stream.Frame) {
			if f.Kind == stream.Progress {
				progress = append(progress, f.Text)
			}
		})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(progress) == 0 || progress[0] != "Received content..." {
		t.Errorf("progress = %v", progress)
	}
	markup, err := c.LoadStatic(ctx, res.Locator)
	if err != nil {
		t.Fatalf("LoadStatic(%q) failed: %v", res.Locator, err)
	}
	if !strings.Contains(markup, "<em>moved</em>") {
		t.Errorf("markup missing rendered content: %s", markup)
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, req GenerateRequest, step func(string) error) (string, error) {
	step("Received content...")
	return "", errors.New("LLM failed after 3 attempts.")
}

func TestGenerateFailureFrame(t *testing.T) {
	dir := t.TempDir()
	srv := New(Config{DatabasePath: filepath.Join(dir, "d.db"), OutputDir: dir}, WithGenerator(failingGenerator{}))
	if err := srv.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ts := httptest.NewServer(srv.Echo)
	defer ts.Close()
	defer srv.Close()
	c, _ := remote.New(ts.URL)

	res, err := c.Generate(context.Background(), remote.GenerateRequest{Topic: "x"}, nil)
	if !errors.Is(err, stream.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if res.Message != "Error: LLM failed after 3 attempts." {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestSaveListDetailRoundTrip(t *testing.T) {
	_, anon := setupTestServer(t)
	c := login(t, anon)
	ctx := context.Background()

	id, err := c.Save(ctx, remote.SaveRequest{Markup: "<p>x</p>", Project: testProject, Name: "Q3 launch", Version: 1})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := c.Save(ctx, remote.SaveRequest{Project: testProject, Name: "Q3 launch", Version: 2, DocumentID: &id}); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	// Replaying version 2 is a conflict.
	_, err = c.Save(ctx, remote.SaveRequest{Project: testProject, Name: "Q3 launch", Version: 2, DocumentID: &id})
	if !errors.Is(err, remote.ErrConflict) {
		t.Fatalf("replay err = %v, want ErrConflict", err)
	}

	list, err := c.List(ctx, document.Draft)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].Version != 2 {
		t.Fatalf("List = %+v", list)
	}

	if err := c.Rename(ctx, id, "Q3 recap"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if err := c.UpdateStatus(ctx, id, document.Published); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	pub, _ := c.List(ctx, document.Published)
	if len(pub) != 1 || pub[0].Name != "Q3 recap" {
		t.Errorf("Published = %+v", pub)
	}

	revs, err := c.Detail(ctx, id)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if len(revs) != 2 || revs[0].Version != 2 {
		t.Errorf("Detail = %+v", revs)
	}

	if err := c.Delete(ctx, remote.DeleteRequest{DocumentID: id, Version: 2, Scope: remote.ThisVersionOnly, Latest: true}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	revs, _ = c.Detail(ctx, id)
	if len(revs) != 1 || revs[0].Version != 1 {
		t.Errorf("after delete Detail = %+v", revs)
	}
	if err := c.Delete(ctx, remote.DeleteRequest{DocumentID: id, Version: 1, Scope: remote.ThisVersionOnly, Sole: true}); err != nil {
		t.Fatalf("sole Delete failed: %v", err)
	}
	if _, err := c.Detail(ctx, id); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Detail after delete err = %v, want ErrNotFound", err)
	}
}

func TestUnauthorized(t *testing.T) {
	_, c := setupTestServer(t)
	_, err := c.With("bogus").List(context.Background(), document.Draft)
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	var rerr *remote.Error
	if errors.As(err, &rerr) && rerr.Detail != remote.Timeout {
		t.Errorf("Detail = %q, want %q", rerr.Detail, remote.Timeout)
	}
}

func TestExportEndpoint(t *testing.T) {
	_, c := setupTestServer(t)
	payload, ctype, err := c.Export(context.Background(), "<p>  hi  </p>", "text/html")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.HasPrefix(ctype, "text/html") || !strings.Contains(string(payload), "hi") {
		t.Errorf("Export = %q, %q", payload, ctype)
	}
	_, _, err = c.Export(context.Background(), "<p>hi</p>", "application/pdf")
	var rerr *remote.Error
	if !errors.As(err, &rerr) || rerr.Status != 406 {
		t.Errorf("err = %v, want 406", err)
	}
}
