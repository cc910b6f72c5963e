package estimate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"api key message", errors.New("API key not valid. Please pass a valid API key."), KindAuth},
		{"api_key marker", errors.New("INVALID_ARGUMENT: API_KEY_INVALID"), KindAuth},
		{"quota message", errors.New("You exceeded your current quota"), KindQuotaExceeded},
		{"rate limit message", errors.New("rate limit reached"), KindQuotaExceeded},
		{"auth wins over quota", errors.New("api key quota exceeded"), KindAuth},
		{"unauthenticated status", genai.APIError{Code: 401, Status: "UNAUTHENTICATED", Message: "bad credentials"}, KindAuth},
		{"permission denied", genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "denied"}, KindAuth},
		{"resource exhausted", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "try later"}, KindQuotaExceeded},
		{"wrapped api error", fmt.Errorf("call: %w", genai.APIError{Code: 429, Message: "slow down"}), KindQuotaExceeded},
		{"server error", genai.APIError{Code: 500, Status: "INTERNAL", Message: "internal error"}, KindUnknownAPI},
		{"network error", errors.New("connection reset by peer"), KindUnknownAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.err)
			assert.Equal(t, tt.expected, e.Kind)
			assert.Equal(t, tt.err, e.Err)
		})
	}
}

func TestClassify_UnknownWrapsMessage(t *testing.T) {
	e := Classify(errors.New("connection reset by peer"))
	assert.Equal(t, "API Error: connection reset by peer", e.Message)

	e = Classify(genai.APIError{Code: 500, Message: "backend unavailable"})
	assert.Equal(t, "API Error: backend unavailable", e.Message)
}

func TestClassify_PassesThroughClassified(t *testing.T) {
	orig := invalidInput(ReasonTooLarge, MsgTooLarge)
	assert.Same(t, orig, Classify(fmt.Errorf("wrapped: %w", orig)))
	assert.Nil(t, Classify(nil))
}

func TestReportFor(t *testing.T) {
	assert.Nil(t, ReportFor(nil))

	r := ReportFor(&Error{Kind: KindQuotaExceeded, Message: MsgQuota})
	assert.Equal(t, &Report{Kind: KindQuotaExceeded, Message: MsgQuota}, r)

	r = ReportFor(errors.New("boom"))
	assert.Equal(t, KindUnknownAPI, r.Kind)
	assert.Equal(t, MsgUnexpected, r.Message)
}

func TestKind_MarshalText(t *testing.T) {
	names := map[Kind]string{
		KindInvalidInput:      "InvalidInput",
		KindAuth:              "AuthError",
		KindQuotaExceeded:     "QuotaExceeded",
		KindMalformedResponse: "MalformedResponse",
		KindUnknownAPI:        "UnknownApiError",
	}
	for k, name := range names {
		b, err := k.MarshalText()
		assert.NoError(t, err)
		assert.Equal(t, name, string(b))
	}
}
