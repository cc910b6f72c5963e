package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/raine/local-market-estimator/internal/estimate"
)

// maxUploadBytes caps the whole request body: the image limit plus room for
// the multipart envelope and the other form fields.
const maxUploadBytes = estimate.MaxImageSize + 1<<20

const imageField = "image"

// errUploadTooLarge is returned when the request body exceeds maxUploadBytes.
var errUploadTooLarge = errors.New("upload too large")

// limitBody caps the request body for upload endpoints.
func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
}

// readImage reads the uploaded image field. The returned image is not yet
// validated.
func readImage(c *gin.Context) (estimate.Image, error) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		if isBodyTooLarge(err) {
			return estimate.Image{}, errUploadTooLarge
		}
		return estimate.Image{}, fmt.Errorf("no image provided: %w", err)
	}

	f, err := fh.Open()
	if err != nil {
		return estimate.Image{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	// Read one byte past the limit so oversize files are still reported by
	// their real size class.
	data, err := io.ReadAll(io.LimitReader(f, estimate.MaxImageSize+1))
	if err != nil {
		return estimate.Image{}, fmt.Errorf("failed to read upload: %w", err)
	}

	size := fh.Size
	if size < int64(len(data)) {
		size = int64(len(data))
	}
	return estimate.Image{
		Name:     fh.Filename,
		MIMEType: estimate.DetectMIMEType(fh.Header.Get("Content-Type"), data),
		Size:     size,
		Data:     data,
	}, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
