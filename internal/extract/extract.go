// Package extract turns fetched page content into a normalized availability
// and price observation. Site-specific rules are tried first; a generic
// keyword heuristic is the fallback.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"restockbot/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// Reason classifies an extraction failure. These are recoverable per-cycle
// failures, retried on the next cycle.
type Reason string

const (
	ReasonNoStrategy Reason = "no_strategy_matched"
	ReasonAmbiguous  Reason = "ambiguous_signal"
	ReasonMalformed  Reason = "malformed_content"
)

// Error reports a failed extraction attempt.
type Error struct {
	Reason Reason
	URL    string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("extract %s: %s: %s", e.URL, e.Reason, e.Detail)
	}
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

// Hints carries per-product context into strategy selection.
type Hints struct {
	URL  string
	Name string
}

// Strategy extracts an observation from a parsed page. Implementations are
// selected by URL; adding site support means adding a strategy entry, the
// core flow does not change.
type Strategy interface {
	Name() string
	Match(u *url.URL) bool
	Extract(doc *goquery.Document, hints Hints) (models.Observation, error)
}

// Registry holds the available strategies and the heuristic fallback.
type Registry struct {
	strategies []Strategy
	fallback   Strategy
}

// NewRegistry builds a registry from per-site rules. Rules may be nil; the
// heuristic fallback then handles everything.
func NewRegistry(rules *SiteRules) *Registry {
	r := &Registry{fallback: &heuristicStrategy{}}
	if rules != nil {
		for _, domain := range rules.Domains() {
			r.strategies = append(r.strategies, &siteStrategy{
				domain: domain,
				rule:   rules.Sites[domain],
			})
		}
	}
	return r
}

// Register appends a strategy. Later registrations lose to earlier ones on
// overlapping URL matches.
func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
}

// StrategyFor returns the strategy that will handle the given URL.
func (r *Registry) StrategyFor(rawURL string) Strategy {
	u, err := url.Parse(rawURL)
	if err != nil {
		return r.fallback
	}
	for _, s := range r.strategies {
		if s.Match(u) {
			return s
		}
	}
	return r.fallback
}

// Extract parses content and runs the matching strategy for hints.URL.
func (r *Registry) Extract(content []byte, hints Hints) (models.Observation, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return models.Observation{}, &Error{Reason: ReasonMalformed, URL: hints.URL, Detail: "empty body"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return models.Observation{}, &Error{Reason: ReasonMalformed, URL: hints.URL, Detail: err.Error()}
	}

	obs, err := r.StrategyFor(hints.URL).Extract(doc, hints)
	if err != nil {
		return models.Observation{}, err
	}
	obs.ObservedAt = time.Now().UTC()
	return obs, nil
}

// cleanText lowercases and collapses whitespace for indicator matching.
func cleanText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
