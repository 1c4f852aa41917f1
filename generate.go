package draftdesk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/draftdesk/remote"
	"github.com/eringen/draftdesk/stream"
)

func (a *App) handleNew(c echo.Context) error {
	if a.credential(c) == "" {
		return redirectLogin(c)
	}
	return Render(c, a.Views.Generator(a.page(c, "New newsletter")))
}

// writeEvent writes one server-sent event and flushes it.
func writeEvent(w *echo.Response, event, data string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := w.Write([]byte(b.String())); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// handleGenerate submits the generator form and relays the decoded progress
// stream to the browser as server-sent events:
//
//	progress  one step, in arrival order
//	done      the editor URL of the generated document
//	failure   the service's message
//	expired   the sign-in URL after the credential timed out
//
// Closing the browser connection cancels the request context, which aborts
// the upstream stream.
func (a *App) handleGenerate(c echo.Context) error {
	cred := a.credential(c)
	if cred == "" {
		return remote.ErrUnauthorized
	}
	tab := TabID(c)
	if !a.generateLimiter.Allow(tab) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many generations, wait a minute")
	}

	req := remote.GenerateRequest{
		Topic:   strings.TrimSpace(c.FormValue("topic")),
		Content: c.FormValue("content"),
		Tone:    c.FormValue("tone"),
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	if fh, err := c.FormFile("template"); err == nil && fh.Size > 0 {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		req.Template = f
		req.TemplateName = fh.Filename
	}

	ctx := c.Request().Context()
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var writeErr error
	res, err := a.Remote.With(cred).Generate(ctx, req, func(f stream.Frame) {
		if f.Kind != stream.Progress || writeErr != nil {
			return
		}
		writeErr = writeEvent(w, "progress", f.Text)
	})
	var gerr *stream.GenerationError
	switch {
	case err == nil:
		c.Logger().Infof("tab %s: generated %s", tab, res.Locator)
		return writeEvent(w, "done", editorURL(res.Locator))
	case errors.Is(err, stream.ErrAborted):
		c.Logger().Infof("tab %s: generation aborted", tab)
		return nil
	case errors.Is(err, remote.ErrUnauthorized):
		a.forgetCredential(c)
		return writeEvent(w, "expired", "/login/?expired=1")
	case errors.As(err, &gerr) && gerr.Message != "":
		return writeEvent(w, "failure", gerr.Message)
	default:
		c.Logger().Errorf("tab %s: generation failed: %v", tab, err)
		return writeEvent(w, "failure", "Generation failed. Try again.")
	}
}
