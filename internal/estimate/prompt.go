package estimate

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
)

const estimationPrompt = `
	Analyze the item in this image. Based on its apparent condition and features,
	and considering the local market dynamics of zip code %s, estimate its resale
	value on platforms like Facebook Marketplace or Craigslist.`

// BuildPrompt returns the instruction text sent with the image.
func BuildPrompt(postalCode string) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(estimationPrompt)), postalCode)
}
