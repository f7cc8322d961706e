package extract

import (
	"net/url"
	"strings"

	"restockbot/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// Generic stock wording seen across shops. Matched against cleaned text, so
// casing and whitespace do not matter.
var (
	heuristicOutOfStock = []string{
		"sold out",
		"out of stock",
		"currently unavailable",
		"no longer available",
		"notify me when",
		"back in stock soon",
		"esaurito",
		"non disponibile",
	}
	heuristicInStock = []string{
		"add to cart",
		"add to basket",
		"add to bag",
		"in stock",
		"buy now",
		"disponibile",
	}
)

// heuristicStrategy is the fallback when no site rule matches the URL. It
// scans the page for generic stock wording and currency-formatted prices.
// It never guesses: pages with no recognizable signal are an ambiguity error.
type heuristicStrategy struct{}

func (h *heuristicStrategy) Name() string { return "heuristic" }

func (h *heuristicStrategy) Match(*url.URL) bool { return true }

func (h *heuristicStrategy) Extract(doc *goquery.Document, hints Hints) (models.Observation, error) {
	text := cleanText(doc.Text())
	if text == "" {
		return models.Observation{}, &Error{Reason: ReasonMalformed, URL: hints.URL, Detail: "page has no text"}
	}

	availability, found := matchIndicators(text, heuristicInStock, heuristicOutOfStock)
	if !found {
		return models.Observation{}, &Error{
			Reason: ReasonAmbiguous,
			URL:    hints.URL,
			Detail: "no stock wording recognized",
		}
	}

	obs := models.Observation{Availability: availability}

	// Price is best-effort: prefer elements that look like price tags,
	// then fall back to the first currency-formatted number on the page.
	for _, selector := range []string{"[class*='price']", "[id*='price']", "[itemprop='price']"} {
		found := false
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if price, ok := ParsePrice(strings.TrimSpace(sel.Text())); ok {
				obs.Price.Decimal = price
				obs.Price.Valid = true
				found = true
				return false
			}
			return true
		})
		if found {
			break
		}
	}
	if !obs.Price.Valid {
		if price, ok := parseMarkedPrice(doc.Text()); ok {
			obs.Price.Decimal = price
			obs.Price.Valid = true
		}
	}
	return obs, nil
}
