package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency-marked amounts: "€19.99", "19,99 €", "EUR 1.299,00", "$5".
var markedPricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[€$£]\s*(\d+(?:[.,]\d{3})*(?:[.,]\d+)?)`),
	regexp.MustCompile(`(\d+(?:[.,]\d{3})*(?:[.,]\d+)?)\s*[€$£]`),
	regexp.MustCompile(`(?i)(?:EUR|USD|GBP)\s*(\d+(?:[.,]\d{3})*(?:[.,]\d+)?)`),
	regexp.MustCompile(`(?i)(\d+(?:[.,]\d{3})*(?:[.,]\d+)?)\s*(?:EUR|USD|GBP)`),
}

// barePricePattern matches "19.99" or "19,99" without a currency marker.
// Only safe on text already known to be a price tag.
var barePricePattern = regexp.MustCompile(`(\d+(?:[.,]\d{3})*[.,]\d{2})`)

// ParsePrice extracts a monetary amount from price-tag text. Currency-marked
// forms are preferred; a bare decimal is accepted as a last resort.
func ParsePrice(text string) (decimal.Decimal, bool) {
	if price, ok := parseMarkedPrice(text); ok {
		return price, ok
	}
	if m := barePricePattern.FindStringSubmatch(text); m != nil {
		return parseAmount(m[1])
	}
	return decimal.Decimal{}, false
}

// parseMarkedPrice extracts an amount only when a currency marker is present,
// which makes it safe to run over arbitrary page text.
func parseMarkedPrice(text string) (decimal.Decimal, bool) {
	for _, pattern := range markedPricePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if price, ok := parseAmount(m[1]); ok {
				return price, true
			}
		}
	}
	return decimal.Decimal{}, false
}

// parseAmount normalizes European and US digit grouping before parsing.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(s, " ", "")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The later separator is the decimal point, the other groups
		// thousands: "1.299,00" and "1,299.00" both work.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if len(s)-lastComma-1 == 3 && strings.Count(s, ",") == 1 && lastComma > 0 {
			// "1,299" reads as a thousands group.
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		// "1.299.00" style grouping: keep only the final separator.
		s = strings.ReplaceAll(s[:lastDot], ".", "") + s[lastDot:]
	}

	price, err := decimal.NewFromString(s)
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, false
	}
	return price, true
}
