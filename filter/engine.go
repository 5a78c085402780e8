// Package filter evaluates ban rules and the profanity pattern against
// cached items, tagging a suppression reason without removing anything.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"collage/models"
)

// TermKind discriminates what part of an item a negative term matches.
type TermKind int

const (
	TermKeyword TermKind = iota
	TermAuthor
	TermURL
)

// NegativeTerm is one parsed ban rule.
type NegativeTerm struct {
	Kind  TermKind
	Value string

	// compiled word-boundary pattern, keyword terms only
	re *regexp.Regexp
}

// NegativeMarker prefixes a ban term in a category term list, e.g.
// "!@alice" bans an author and "!golang" bans a keyword.
const NegativeMarker = "!"

// ParseNegative parses a marker-prefixed ban term. Returns false when
// the term is not a negative term or is empty after the markers.
func ParseNegative(raw string) (NegativeTerm, bool) {
	if !strings.HasPrefix(raw, NegativeMarker) {
		return NegativeTerm{}, false
	}
	body := strings.TrimSpace(strings.TrimPrefix(raw, NegativeMarker))
	if body == "" {
		return NegativeTerm{}, false
	}

	switch {
	case strings.HasPrefix(body, "@"):
		name := strings.TrimPrefix(body, "@")
		if name == "" {
			return NegativeTerm{}, false
		}
		return NegativeTerm{Kind: TermAuthor, Value: name}, true
	case strings.Contains(body, "://"):
		return NegativeTerm{Kind: TermURL, Value: body}, true
	default:
		re, err := compileWordPattern(body)
		if err != nil {
			log.WithFields(log.Fields{
				"term":  body,
				"error": err,
			}).Warn("Skipping unparseable keyword ban")
			return NegativeTerm{}, false
		}
		return NegativeTerm{Kind: TermKeyword, Value: body, re: re}, true
	}
}

func compileWordPattern(word string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(strings.ToLower(word)) + `\b`)
}

// Engine holds the live rule set. Rules are replaced wholesale on every
// edit; evaluation against a fixed rule set is idempotent.
type Engine struct {
	mu        sync.RWMutex
	negatives []NegativeTerm
	profanity *regexp.Regexp
	enabled   bool
}

func NewEngine() *Engine {
	return &Engine{}
}

// SetNegatives replaces the ban rules from raw marker-prefixed terms.
// Non-negative terms in the list are ignored.
func (e *Engine) SetNegatives(raw []string) {
	parsed := lo.FilterMap(raw, func(term string, _ int) (NegativeTerm, bool) {
		return ParseNegative(term)
	})

	e.mu.Lock()
	e.negatives = parsed
	e.mu.Unlock()

	log.WithFields(log.Fields{
		"rules": len(parsed),
	}).Info("Replaced ban rules")
}

// SetProfanity rebuilds the single compiled profanity pattern from the
// banned-word list. An empty list or disabled flag clears the pattern.
func (e *Engine) SetProfanity(words []string, enabled bool) error {
	var re *regexp.Regexp
	words = lo.Filter(words, func(w string, _ int) bool { return strings.TrimSpace(w) != "" })
	if enabled && len(words) > 0 {
		quoted := lo.Map(words, func(w string, _ int) string {
			return regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(w)))
		})
		compiled, err := regexp.Compile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return fmt.Errorf("failed to compile profanity pattern: %w", err)
		}
		re = compiled
	}

	e.mu.Lock()
	e.profanity = re
	e.enabled = enabled && re != nil
	e.mu.Unlock()
	return nil
}

// Evaluate derives the item's suppression reason from the current rule
// set. The first matching ban rule wins; the profanity pattern runs only
// when no ban rule matched.
func (e *Engine) Evaluate(it *models.Item) models.SuppressReason {
	e.mu.RLock()
	defer e.mu.RUnlock()

	it.Suppress = models.SuppressNone

	text := it.SearchText()
	for _, term := range e.negatives {
		switch term.Kind {
		case TermAuthor:
			if strings.EqualFold(it.Author, term.Value) {
				it.Suppress = models.SuppressAuthor
				return it.Suppress
			}
		case TermURL:
			if strings.EqualFold(it.URI, term.Value) || strings.EqualFold(it.ImageURL, term.Value) {
				it.Suppress = models.SuppressURI
				return it.Suppress
			}
		case TermKeyword:
			if term.re.MatchString(text) {
				it.Suppress = models.SuppressKeyword
				return it.Suppress
			}
		}
	}

	if e.enabled && e.profanity.MatchString(text) {
		it.Suppress = models.SuppressProfanity
	}
	return it.Suppress
}
