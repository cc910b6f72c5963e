// Package present maps estimation results and error reports onto
// render-ready views.
package present

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/raine/local-market-estimator/internal/estimate"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Tier is the visual variant of a confidence badge.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Badge is the confidence label and its visual tier.
type Badge struct {
	Label string `json:"label"`
	Tier  Tier   `json:"tier"`
}

// ResultView is a successful estimate ready for display.
type ResultView struct {
	ItemName   string `json:"itemName"`
	Price      string `json:"price"`
	PriceRange string `json:"priceRange"`
	Badge      Badge  `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Result builds the view for r. A nil result yields the zero view.
func Result(r *estimate.Result) ResultView {
	if r == nil {
		return ResultView{}
	}
	return ResultView{
		ItemName:   r.ItemName,
		Price:      FormatPrice(r.EstimatedPrice),
		PriceRange: r.PriceRange,
		Badge:      ConfidenceBadge(r.Confidence),
		Reasoning:  r.Reasoning,
	}
}

// FormatPrice renders a whole-dollar amount, e.g. "$1,250".
func FormatPrice(usd int) string {
	return printer.Sprintf("$%d", usd)
}

// ConfidenceBadge maps a confidence level to its badge. Unknown levels are
// shown in the low tier.
func ConfidenceBadge(c estimate.Confidence) Badge {
	switch c {
	case estimate.ConfidenceHigh:
		return Badge{Label: string(c), Tier: TierHigh}
	case estimate.ConfidenceMedium:
		return Badge{Label: string(c), Tier: TierMedium}
	default:
		label := string(c)
		if label == "" {
			label = string(estimate.ConfidenceLow)
		}
		return Badge{Label: label, Tier: TierLow}
	}
}

// Error returns the message to show for a failed estimation.
func Error(r *estimate.Report) string {
	if r == nil {
		return ""
	}
	return r.Message
}
