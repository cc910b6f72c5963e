package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/raine/local-market-estimator/internal/estimate"
	"github.com/raine/local-market-estimator/internal/form"
	"github.com/raine/local-market-estimator/internal/present"
)

const sessionCookie = "mle_session"

type indexData struct {
	Form       form.Snapshot
	Result     *present.ResultView
	Error      string
	Accept     string
	MaxSizeMB  int
	Submitting bool
}

// sessionID returns the caller's session id, issuing a cookie if needed.
func (s *Server) sessionID(c *gin.Context) string {
	id, err := c.Cookie(sessionCookie)
	if err != nil || uuid.Validate(id) != nil {
		id = uuid.NewString()
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, id, int(s.sessionTTL.Seconds()), "/", "", false, true)
	return id
}

// session returns the caller's form, creating it on first use.
func (s *Server) session(c *gin.Context) *form.Controller {
	return s.registry.Get(s.sessionID(c))
}

func (s *Server) handleIndex(c *gin.Context) {
	// Viewing the page does not start a form; the first edit does
	snap := form.Snapshot{State: form.StateIdle}
	if ctrl, ok := s.registry.Lookup(s.sessionID(c)); ok {
		snap = ctrl.Snapshot()
	}

	data := indexData{
		Form:       snap,
		Error:      present.Error(snap.Report),
		Accept:     strings.Join(estimate.AcceptedMIMETypes, ","),
		MaxSizeMB:  estimate.MaxImageSize / (1024 * 1024),
		Submitting: snap.State == form.StateSubmitting,
	}
	if snap.Result != nil {
		view := present.Result(snap.Result)
		data.Result = &view
	}
	renderWithFallback(c, http.StatusOK, page{tmpl: templates, name: "index.html", data: data})
}

func (s *Server) handleSelectImage(c *gin.Context) {
	ctrl := s.session(c)
	limitBody(c)

	img, err := readImage(c)
	switch {
	case errors.Is(err, errUploadTooLarge):
		ctrl.RejectImage(estimate.ReasonTooLarge)
	case err != nil:
		log.Debug().Err(err).Msg("image upload unreadable")
		ctrl.RejectImage(estimate.ReasonUnsupportedType)
	default:
		// Validation failures are recorded on the form
		_ = ctrl.SelectImage(img)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleSetPostalCode(c *gin.Context) {
	ctrl := s.session(c)
	_ = ctrl.SetPostalCode(strings.TrimSpace(c.PostForm("postalCode")))
	c.Redirect(http.StatusSeeOther, "/")
}

// handleSubmit starts an estimation and holds the request until it settles,
// so the redirect lands on the outcome. If the client goes away the
// estimation continues and the next page load shows it.
func (s *Server) handleSubmit(c *gin.Context) {
	ctrl := s.session(c)

	settled, err := ctrl.Submit()
	if err == nil {
		select {
		case <-settled:
		case <-c.Request.Context().Done():
			return
		}
	} else if !errors.Is(err, form.ErrSubmitInFlight) && estimate.KindOf(err) != estimate.KindInvalidInput {
		log.Warn().Err(err).Msg("submit failed")
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleReset(c *gin.Context) {
	s.session(c).Reset()
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handlePreview(c *gin.Context) {
	p, ok := s.registry.Previews().Get(c.Param("id"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	etag := `"` + p.Digest + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, no-cache")
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, p.MIMEType, p.Data)
}
