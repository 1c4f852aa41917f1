package docstore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/draftdesk/document"
)

const userKey = "docstore.user"

// requireToken resolves the bearer token to a user.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(h, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing or invalid token")
		}
		user, err := s.Store.ResolveToken(c.Request().Context(), strings.TrimSpace(h[len("Bearer "):]))
		if err != nil {
			return err
		}
		c.Set(userKey, user)
		return next(c)
	}
}

func userFrom(c echo.Context) string {
	u, _ := c.Get(userKey).(string)
	return u
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	user, err := s.Store.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		return err
	}
	token, err := s.Store.IssueToken(ctx, user, s.Config.TokenTTL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
		"user":         strings.ToLower(strings.TrimSpace(in.Email)),
	})
}

func (s *Server) handleSignup(c echo.Context) error {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if _, err := s.Store.CreateUser(c.Request().Context(), in.Email, in.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "User created successfully."})
}

// handleGenerate streams progress frames while the generator runs. The
// terminal frame is "done|<file>" or "done|Error: <reason>".
func (s *Server) handleGenerate(c echo.Context) error {
	req := GenerateRequest{
		Topic:   c.FormValue("topic"),
		Content: c.FormValue("content"),
		Tone:    c.FormValue("tone"),
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "topic is required")
	}
	if fh, err := c.FormFile("template"); err == nil {
		if fh.Size > maxUploadSize {
			return echo.NewHTTPError(http.StatusBadRequest, "Template too large (max 10MB)")
		}
		f, err := fh.Open()
		if err != nil {
			return err
		}
		req.Template, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			return err
		}
		req.TemplateName = fh.Filename
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	frame := func(payload string) error {
		if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
			return err
		}
		res.Flush()
		return nil
	}
	step := func(msg string) error {
		if err := frame(msg); err != nil {
			return err
		}
		if s.Config.StepDelay > 0 {
			select {
			case <-time.After(s.Config.StepDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	name, err := s.Generator.Generate(ctx, req, step)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.Logger().Warnf("generate %q: %v", req.Topic, err)
		return frame("done|Error: " + err.Error())
	}
	return frame("done|" + name)
}

type savePayload struct {
	Markup  string          `json:"html"`
	Project json.RawMessage `json:"projectData"`
	Name    string          `json:"fname"`
	Version int             `json:"version"`
	ID      *string         `json:"projID"`
}

func (s *Server) handleSave(c echo.Context) error {
	var in savePayload
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(in.Name) == "" || !document.CoherentProject(in.Project) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "fname and projectData are required")
	}
	rev := Revision{Version: in.Version, Name: in.Name, Project: string(in.Project), Markup: in.Markup}
	if in.ID != nil && *in.ID != "null" {
		rev.DocumentID = *in.ID
	}
	id, err := s.Store.Save(c.Request().Context(), userFrom(c), rev)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"projID": id})
}

func (s *Server) handleList(c echo.Context) error {
	var in struct {
		Type string `json:"type"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	st, err := document.ParseStatus(in.Type)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	list, err := s.Store.List(c.Request().Context(), userFrom(c), st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleDetails(c echo.Context) error {
	var in struct {
		ID string `json:"file_id"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	revs, err := s.Store.Revisions(c.Request().Context(), userFrom(c), in.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, revs)
}

func (s *Server) handleRename(c echo.Context) error {
	var in struct {
		ID   string `json:"file_id"`
		Name string `json:"file_name"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(in.Name) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "file_name is required")
	}
	if err := s.Store.Rename(c.Request().Context(), userFrom(c), in.ID, strings.TrimSpace(in.Name)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"file_id": in.ID})
}

func (s *Server) handleStatus(c echo.Context) error {
	var in struct {
		ID     string `json:"file_id"`
		Status string `json:"project_status"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	st, err := document.ParseStatus(in.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err := s.Store.SetStatus(c.Request().Context(), userFrom(c), in.ID, st); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"file_id": in.ID, "project_status": string(st)})
}

func (s *Server) handleDelete(c echo.Context) error {
	var in struct {
		ID      string `json:"fileID"`
		Version int    `json:"version"`
		Scope   string `json:"scope"`
		Latest  bool   `json:"latest"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	all := in.Scope != "version"
	if err := s.Store.Delete(c.Request().Context(), userFrom(c), in.ID, in.Version, all); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"fileID": in.ID})
}

func (s *Server) handleExport(c echo.Context) error {
	var in struct {
		Markup string `json:"html"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	payload, ctype, name, err := s.Exporter.Export(in.Markup, c.Request().Header.Get(echo.HeaderAccept))
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, ctype, payload)
}
