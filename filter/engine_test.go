package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collage/filter"
	"collage/models"
)

func TestParseNegative(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantOk   bool
		wantKind filter.TermKind
		wantVal  string
	}{
		{
			name:   "plain term is not negative",
			raw:    "sunset",
			wantOk: false,
		},
		{
			name:     "author ban",
			raw:      "!@alice",
			wantOk:   true,
			wantKind: filter.TermAuthor,
			wantVal:  "alice",
		},
		{
			name:     "url ban",
			raw:      "!https://example.com/post/1",
			wantOk:   true,
			wantKind: filter.TermURL,
			wantVal:  "https://example.com/post/1",
		},
		{
			name:     "keyword ban",
			raw:      "!spoilers",
			wantOk:   true,
			wantKind: filter.TermKeyword,
			wantVal:  "spoilers",
		},
		{
			name:   "bare marker",
			raw:    "!",
			wantOk: false,
		},
		{
			name:   "marker with empty author",
			raw:    "!@",
			wantOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, ok := filter.ParseNegative(tt.raw)
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.Equal(t, tt.wantKind, term.Kind)
				assert.Equal(t, tt.wantVal, term.Value)
			}
		})
	}
}

func TestEvaluateBans(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		item  models.Item
		want  models.SuppressReason
	}{
		{
			name:  "no rules",
			terms: nil,
			item:  models.Item{Author: "alice", Text: "hello"},
			want:  models.SuppressNone,
		},
		{
			name:  "author ban matches case-insensitively",
			terms: []string{"!@alice"},
			item:  models.Item{Author: "Alice", Text: "hello"},
			want:  models.SuppressAuthor,
		},
		{
			name:  "author ban does not match substring",
			terms: []string{"!@alice"},
			item:  models.Item{Author: "alicespring"},
			want:  models.SuppressNone,
		},
		{
			name:  "url ban exact match",
			terms: []string{"!https://example.com/a"},
			item:  models.Item{URI: "https://example.com/a"},
			want:  models.SuppressURI,
		},
		{
			name:  "url ban ignores other urls",
			terms: []string{"!https://example.com/a"},
			item:  models.Item{URI: "https://example.com/ab"},
			want:  models.SuppressNone,
		},
		{
			name:  "keyword ban respects word boundaries",
			terms: []string{"!cat"},
			item:  models.Item{Text: "my catalog of things"},
			want:  models.SuppressNone,
		},
		{
			name:  "keyword ban matches whole word",
			terms: []string{"!cat"},
			item:  models.Item{Text: "look at this Cat photo"},
			want:  models.SuppressKeyword,
		},
		{
			name:  "keyword ban matches news title",
			terms: []string{"!election"},
			item:  models.Item{Title: "Election results", Types: models.ContentNews},
			want:  models.SuppressKeyword,
		},
		{
			name:  "first matching rule wins",
			terms: []string{"!@alice", "!hello"},
			item:  models.Item{Author: "alice", Text: "hello"},
			want:  models.SuppressAuthor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := filter.NewEngine()
			e.SetNegatives(tt.terms)
			got := e.Evaluate(&tt.item)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, tt.item.Suppress)
		})
	}
}

func TestEvaluateProfanity(t *testing.T) {
	e := filter.NewEngine()
	require.NoError(t, e.SetProfanity([]string{"darn", "heck"}, true))

	it := models.Item{Text: "well heck that is bad"}
	assert.Equal(t, models.SuppressProfanity, e.Evaluate(&it))

	// A ban rule takes precedence over profanity.
	e.SetNegatives([]string{"!@bob"})
	it2 := models.Item{Author: "bob", Text: "well heck"}
	assert.Equal(t, models.SuppressAuthor, e.Evaluate(&it2))

	// Disabled profanity never matches.
	require.NoError(t, e.SetProfanity([]string{"darn"}, false))
	it3 := models.Item{Text: "darn it"}
	assert.Equal(t, models.SuppressNone, e.Evaluate(&it3))
}

func TestEvaluateIdempotent(t *testing.T) {
	e := filter.NewEngine()
	e.SetNegatives([]string{"!@alice"})

	it := models.Item{Author: "alice"}
	first := e.Evaluate(&it)
	second := e.Evaluate(&it)
	assert.Equal(t, first, second)
	assert.Equal(t, models.SuppressAuthor, second)
}

func TestRemovingRuleUnblocks(t *testing.T) {
	e := filter.NewEngine()
	e.SetNegatives([]string{"!@alice"})

	it := models.Item{Author: "alice", Text: "morning all"}
	require.Equal(t, models.SuppressAuthor, e.Evaluate(&it))

	e.SetNegatives(nil)
	assert.Equal(t, models.SuppressNone, e.Evaluate(&it))
}
