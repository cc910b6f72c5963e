package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"formatBytes": formatBytes,
}).ParseFS(templatesFS, "templates/*.html"))

// Renderable is anything that can draw a complete page.
type Renderable interface {
	Render(w io.Writer) error
}

type page struct {
	tmpl *template.Template
	name string
	data any
}

func (p page) Render(w io.Writer) error {
	return p.tmpl.ExecuteTemplate(w, p.name, p.data)
}

// recoveryPage replaces any view that failed to render.
var recoveryPage Renderable = page{tmpl: templates, name: "recovery.html"}

// renderWithFallback renders view into a buffer first so a failure part way
// through never reaches the client. On failure the recovery page is shown
// instead.
func renderWithFallback(c *gin.Context, status int, view Renderable) {
	var buf bytes.Buffer
	err := safeRender(&buf, view)
	if err == nil {
		c.Data(status, "text/html; charset=utf-8", buf.Bytes())
		return
	}
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("failed to render page")
	renderRecovery(c)
}

// renderRecovery writes the recovery page with a 500 status.
func renderRecovery(c *gin.Context) {
	var buf bytes.Buffer
	if err := safeRender(&buf, recoveryPage); err != nil {
		log.Error().Err(err).Msg("failed to render recovery page")
		c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte("Something went wrong. Please reload the page."))
		return
	}
	c.Data(http.StatusInternalServerError, "text/html; charset=utf-8", buf.Bytes())
}

func safeRender(w io.Writer, view Renderable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while rendering: %v", r)
		}
	}()
	return view.Render(w)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
