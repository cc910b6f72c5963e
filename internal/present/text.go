package present

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"

	"github.com/raine/local-market-estimator/internal/estimate"
)

// escapeMarkdown escapes special characters for Telegram Markdown V1
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "*", "\\*")
	text = strings.ReplaceAll(text, "_", "\\_")
	text = strings.ReplaceAll(text, "`", "\\`")
	text = strings.ReplaceAll(text, "[", "\\[")
	return text
}

// ResultText formats an estimate as a Markdown chat message.
func ResultText(v ResultView) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(`
		*%s*
		Estimated price: *%s*
		Likely range: %s
		Confidence: %s

		%s`)),
		escapeMarkdown(v.ItemName),
		escapeMarkdown(v.Price),
		escapeMarkdown(v.PriceRange),
		v.Badge.Label,
		escapeMarkdown(v.Reasoning),
	)
}

// PlainText formats an estimate for a terminal.
func PlainText(v ResultView) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(`
		%s
		  Price:      %s
		  Range:      %s
		  Confidence: %s

		%s`)),
		v.ItemName, v.Price, v.PriceRange, v.Badge.Label, v.Reasoning,
	)
}

// ErrorText formats an error report as a chat message.
func ErrorText(r *estimate.Report) string {
	if r == nil {
		return ""
	}
	return "⚠️ " + escapeMarkdown(Error(r))
}
