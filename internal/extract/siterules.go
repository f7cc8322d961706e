package extract

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"restockbot/internal/models"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

// SiteRule describes how to read one shop's product pages.
type SiteRule struct {
	AvailabilitySelectors []string `yaml:"availability_selectors"`
	InStockTexts          []string `yaml:"in_stock_texts"`
	OutOfStockTexts       []string `yaml:"out_of_stock_texts"`
	PriceSelectors        []string `yaml:"price_selectors"`
}

// SiteRules is the per-domain rule file, keyed by domain substring.
type SiteRules struct {
	Sites map[string]SiteRule `yaml:"sites"`
}

// LoadSiteRules reads a YAML rule file. A missing file is not an error: the
// registry then runs on the heuristic fallback alone.
func LoadSiteRules(path string) (*SiteRules, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &SiteRules{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read site rules: %w", err)
	}

	var rules SiteRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse site rules %s: %w", path, err)
	}
	return &rules, nil
}

// Domains returns the configured domains in stable order.
func (r *SiteRules) Domains() []string {
	domains := make([]string, 0, len(r.Sites))
	for d := range r.Sites {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// siteStrategy applies one SiteRule to pages whose host contains the domain.
type siteStrategy struct {
	domain string
	rule   SiteRule
}

func (s *siteStrategy) Name() string { return "site:" + s.domain }

func (s *siteStrategy) Match(u *url.URL) bool {
	return strings.Contains(strings.ToLower(u.Host), s.domain)
}

func (s *siteStrategy) Extract(doc *goquery.Document, hints Hints) (models.Observation, error) {
	availability, found := s.availabilityFromSelectors(doc)
	if !found {
		// Fall back to scanning the whole page for the configured
		// indicator texts.
		availability, found = matchIndicators(cleanText(doc.Text()), s.rule.InStockTexts, s.rule.OutOfStockTexts)
	}
	if !found {
		return models.Observation{}, &Error{
			Reason: ReasonAmbiguous,
			URL:    hints.URL,
			Detail: "no stock indicator matched for " + s.domain,
		}
	}

	obs := models.Observation{Availability: availability}
	for _, selector := range s.rule.PriceSelectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text == "" {
			continue
		}
		if price, ok := ParsePrice(text); ok {
			obs.Price.Decimal = price
			obs.Price.Valid = true
			break
		}
	}
	// When the configured selectors miss, fall back to the first
	// currency-marked number anywhere on the page.
	if !obs.Price.Valid {
		if price, ok := parseMarkedPrice(doc.Text()); ok {
			obs.Price.Decimal = price
			obs.Price.Valid = true
		}
	}
	return obs, nil
}

func (s *siteStrategy) availabilityFromSelectors(doc *goquery.Document) (models.Availability, bool) {
	for _, selector := range s.rule.AvailabilitySelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if availability, ok := matchIndicators(cleanText(sel.Text()), s.rule.InStockTexts, s.rule.OutOfStockTexts); ok {
			return availability, true
		}
	}
	return models.AvailabilityUnknown, false
}

// matchIndicators checks indicator texts against cleaned page text.
// Out-of-stock markers win over in-stock markers: storefronts routinely keep
// the add-to-cart wording on sold-out pages.
func matchIndicators(text string, inStock, outOfStock []string) (models.Availability, bool) {
	for _, indicator := range outOfStock {
		if indicator != "" && strings.Contains(text, cleanText(indicator)) {
			return models.AvailabilityOutOfStock, true
		}
	}
	for _, indicator := range inStock {
		if indicator != "" && strings.Contains(text, cleanText(indicator)) {
			return models.AvailabilityInStock, true
		}
	}
	return models.AvailabilityUnknown, false
}
