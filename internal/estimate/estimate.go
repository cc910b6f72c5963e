package estimate

import "context"

// MaxImageSize is the largest image accepted for estimation (10MB).
const MaxImageSize = 10 * 1024 * 1024

// Confidence is the estimation service's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Valid reports whether c is one of the three confidence tiers.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Image is an uploaded image together with the metadata needed to validate it.
type Image struct {
	Name     string
	MIMEType string
	Size     int64
	Data     []byte
}

// Submission is one estimation request: an image and the postal code whose
// local market the price should reflect.
type Submission struct {
	Image      Image
	PostalCode string
}

// Result is a structured estimate returned by the estimation service.
type Result struct {
	ItemName       string     `json:"itemName"`
	EstimatedPrice int        `json:"estimatedPrice"`
	PriceRange     string     `json:"priceRange"`
	Confidence     Confidence `json:"confidence"`
	Reasoning      string     `json:"reasoning"`
}

// Usage contains token usage and cost information for a single call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// Estimator produces a market value estimate for a submission.
type Estimator interface {
	// Estimate issues exactly one request to the estimation service. Failures
	// are returned as *Error.
	Estimate(ctx context.Context, sub Submission) (*Result, error)
}
