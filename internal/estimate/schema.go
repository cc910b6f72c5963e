package estimate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/genai"
)

// responseSchema constrains the service's JSON output to the five fields of
// a Result.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"itemName": {
				Type:        genai.TypeString,
				Description: "The name of the item identified in the image (e.g., 'Vintage Leather Armchair', 'Used Mountain Bike').",
			},
			"estimatedPrice": {
				Type:        genai.TypeInteger,
				Description: "Your best single-point estimate for the local selling price in USD. Do not include currency symbols.",
			},
			"priceRange": {
				Type:        genai.TypeString,
				Description: "A likely price range for the item, formatted as '$min - $max'.",
			},
			"confidence": {
				Type:        genai.TypeString,
				Description: "Your confidence level in this estimate: High, Medium, or Low.",
				Enum:        []string{string(ConfidenceHigh), string(ConfidenceMedium), string(ConfidenceLow)},
			},
			"reasoning": {
				Type:        genai.TypeString,
				Description: "A detailed but concise explanation for your valuation. Mention the item's condition, brand (if identifiable), and how the zip code might influence the price.",
			},
		},
		Required:         []string{"itemName", "estimatedPrice", "priceRange", "confidence", "reasoning"},
		PropertyOrdering: []string{"itemName", "estimatedPrice", "priceRange", "confidence", "reasoning"},
	}
}

// wireResult mirrors Result with pointer fields so absent keys can be told
// apart from zero values.
type wireResult struct {
	ItemName       *string `json:"itemName" validate:"required"`
	EstimatedPrice *int    `json:"estimatedPrice" validate:"required,gte=0"`
	PriceRange     *string `json:"priceRange" validate:"required"`
	Confidence     *string `json:"confidence" validate:"required,oneof=High Medium Low"`
	Reasoning      *string `json:"reasoning" validate:"required"`
}

// extractJSONObject extracts a JSON object from text that may contain markdown
// code blocks or other formatting.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return text[start : end+1], nil
}

// parseResult decodes and checks a response body. Any failure is a
// MalformedResponse carrying the raw text.
func (v *Validator) parseResult(raw string) (*Result, error) {
	jsonStr, err := extractJSONObject(raw)
	if err != nil {
		return nil, malformed(raw, err)
	}

	var w wireResult
	if err := json.Unmarshal([]byte(jsonStr), &w); err != nil {
		return nil, malformed(raw, fmt.Errorf("failed to parse response JSON: %w", err))
	}

	if err := v.validate.Struct(w); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			err = fmt.Errorf("field %s failed %q", fe.Field(), fe.Tag())
		}
		return nil, malformed(raw, err)
	}

	return &Result{
		ItemName:       *w.ItemName,
		EstimatedPrice: *w.EstimatedPrice,
		PriceRange:     *w.PriceRange,
		Confidence:     Confidence(*w.Confidence),
		Reasoning:      *w.Reasoning,
	}, nil
}
