package estimate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Kind classifies why an estimation did not produce a result.
type Kind int

const (
	KindUnknownAPI Kind = iota
	KindInvalidInput
	KindAuth
	KindQuotaExceeded
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindAuth:
		return "AuthError"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindMalformedResponse:
		return "MalformedResponse"
	default:
		return "UnknownApiError"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Validation reasons.
const (
	ReasonUnsupportedType   = "unsupported type"
	ReasonTooLarge          = "too large"
	ReasonEmptyFile         = "empty file"
	ReasonInvalidPostalCode = "invalid postal code"
)

// User-facing messages.
const (
	MsgUnsupportedType   = "Please select a valid image file (PNG, JPG, or WEBP)."
	MsgTooLarge          = "File size must be less than 10MB."
	MsgEmptyFile         = "The selected file is empty."
	MsgInvalidPostalCode = "Please enter a valid 5-digit zip code."
	MsgMissingInput      = "Please provide a valid image and a 5-digit zip code."
	MsgAuth              = "Invalid API key. Please check your Gemini API key configuration."
	MsgQuota             = "API quota exceeded. Please try again later or check your Gemini API usage limits."
	MsgMalformed         = "The AI returned an unexpected response format. Please try again."
	MsgUnexpected        = "An unexpected error occurred while processing your request. Please try again."
)

// Error is returned by the validator and the estimation client.
type Error struct {
	Kind    Kind
	Reason  string // Validation reason, set for KindInvalidInput
	Message string // Short message suitable for showing to the user
	Raw     string // Raw service response, set for KindMalformedResponse
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidInput(reason, message string) *Error {
	return &Error{Kind: KindInvalidInput, Reason: reason, Message: message}
}

func malformed(raw string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Message: MsgMalformed, Raw: raw, Err: err}
}

// KindOf returns the Kind of err, or KindUnknownAPI if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknownAPI
}

// Classify maps a failed call to the estimation service onto the error
// taxonomy. Authentication markers take precedence over quota markers.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	msg := err.Error()
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			msg = apiErr.Message
		}
		switch {
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden,
			apiErr.Status == "UNAUTHENTICATED", apiErr.Status == "PERMISSION_DENIED":
			return &Error{Kind: KindAuth, Message: MsgAuth, Err: err}
		}
		if hasAuthMarker(msg) {
			return &Error{Kind: KindAuth, Message: MsgAuth, Err: err}
		}
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return &Error{Kind: KindQuotaExceeded, Message: MsgQuota, Err: err}
		}
	}

	switch {
	case hasAuthMarker(msg):
		return &Error{Kind: KindAuth, Message: MsgAuth, Err: err}
	case hasQuotaMarker(msg):
		return &Error{Kind: KindQuotaExceeded, Message: MsgQuota, Err: err}
	}
	return &Error{Kind: KindUnknownAPI, Message: "API Error: " + msg, Err: err}
}

func hasAuthMarker(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "api key") || strings.Contains(lower, "api_key")
}

func hasQuotaMarker(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "limit")
}

// Report is the render-ready form of a failed estimation.
type Report struct {
	Kind    Kind   `json:"classification"`
	Message string `json:"message"`
}

// ReportFor converts any error into a Report. Errors that did not come from
// this package are reported as unexpected.
func ReportFor(err error) *Report {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Report{Kind: e.Kind, Message: e.Message}
	}
	return &Report{Kind: KindUnknownAPI, Message: MsgUnexpected}
}
