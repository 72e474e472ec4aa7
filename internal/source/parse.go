package source

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	numberPattern  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	digitsReplacer = strings.NewReplacer(
		"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
		"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
		",", "", "،", "", " ", "",
	)
)

// parsePrice extracts the first number from a price string, tolerating
// thousand separators and Persian digits. Returns false for text with no
// usable number or a non-positive value.
func parsePrice(text string) (decimal.Decimal, bool) {
	cleaned := digitsReplacer.Replace(strings.TrimSpace(text))
	match := numberPattern.FindString(cleaned)
	if match == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(match)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}
