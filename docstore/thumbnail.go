package docstore

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
	"golang.org/x/image/draw"
)

const (
	thumbnailWidth = 400
	jpegQuality    = 80
	maxUploadSize  = 10 << 20 // 10MB
)

// Thumbnail is an encoded preview image.
type Thumbnail struct {
	Filename string
	Width    int
	Height   int
	Data     []byte
}

// processThumbnail decodes an image from src, scales it down to
// thumbnailWidth when wider and encodes it as JPEG.
func processThumbnail(src io.Reader, documentID string) (Thumbnail, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return Thumbnail{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > thumbnailWidth {
		newH := h * thumbnailWidth / w
		if newH < 1 {
			newH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, thumbnailWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w, h = thumbnailWidth, newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Thumbnail{}, fmt.Errorf("encode jpeg: %w", err)
	}
	name := strings.ToLower(documentID) + "-" + strings.ToLower(ulid.Make().String()) + ".jpg"
	return Thumbnail{Filename: name, Width: w, Height: h, Data: buf.Bytes()}, nil
}

func (s *Server) handleThumbnail(c echo.Context) error {
	user := userFrom(c)
	id := c.FormValue("file_id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file_id is required")
	}
	file, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No image file provided")
	}
	if file.Size > maxUploadSize {
		return echo.NewHTTPError(http.StatusBadRequest, "File too large (max 10MB)")
	}
	if _, _, err := s.Store.Latest(c.Request().Context(), user, id); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	thumb, err := processThumbnail(src, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid image: "+err.Error())
	}
	if err := os.MkdirAll(s.Config.ThumbnailDir, 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Config.ThumbnailDir, thumb.Filename), thumb.Data, 0o644); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}

	url := "/thumbnails/" + thumb.Filename
	if err := s.Store.SetThumbnail(c.Request().Context(), user, id, url); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"thumbnail_url": url, "width": thumb.Width, "height": thumb.Height})
}
