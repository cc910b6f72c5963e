package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/raine/local-market-estimator/internal/estimate"
	"github.com/raine/local-market-estimator/internal/present"
)

// handleAPIEstimate is a stateless JSON endpoint: one multipart request in,
// one estimate or error report out.
func (s *Server) handleAPIEstimate(c *gin.Context) {
	limitBody(c)

	img, err := readImage(c)
	if err != nil {
		reason, msg := estimate.ReasonUnsupportedType, estimate.MsgMissingInput
		if errors.Is(err, errUploadTooLarge) {
			reason, msg = estimate.ReasonTooLarge, estimate.MsgTooLarge
		}
		writeReport(c, &estimate.Error{Kind: estimate.KindInvalidInput, Reason: reason, Message: msg})
		return
	}

	sub := estimate.Submission{Image: img, PostalCode: strings.TrimSpace(c.PostForm("postalCode"))}
	if err := s.validator.Validate(sub); err != nil {
		writeReport(c, err)
		return
	}

	result, err := s.estimator.Estimate(c.Request.Context(), sub)
	if err != nil {
		writeReport(c, estimate.Classify(err))
		return
	}
	c.JSON(http.StatusOK, present.Result(result))
}

func writeReport(c *gin.Context, err error) {
	report := estimate.ReportFor(err)
	c.JSON(statusFor(report.Kind), report)
}

func statusFor(kind estimate.Kind) int {
	switch kind {
	case estimate.KindInvalidInput:
		return http.StatusBadRequest
	case estimate.KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
