package sources_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"collage/sources"
)

func TestProtocolBackoffEscalatesExponentially(t *testing.T) {
	b := sources.NewBackoff(time.Minute, nil)

	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		240 * time.Second,
		240 * time.Second, // capped
	}

	var prev time.Duration
	for i, expected := range want {
		got := b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 500})
		assert.Equal(t, expected, got, "failure %d", i+1)
		assert.GreaterOrEqual(t, got, prev, "delays must be non-decreasing")
		prev = got
	}
}

func TestTransportBackoffEscalatesLinearly(t *testing.T) {
	b := sources.NewBackoff(time.Minute, nil)

	assert.Equal(t, 250*time.Millisecond, b.Next(sources.Outcome{Kind: sources.OutcomeTransport}))
	assert.Equal(t, 500*time.Millisecond, b.Next(sources.Outcome{Kind: sources.OutcomeTransport}))
	assert.Equal(t, 750*time.Millisecond, b.Next(sources.Outcome{Kind: sources.OutcomeTransport}))

	// Drive it to the cap.
	var last time.Duration
	for i := 0; i < 100; i++ {
		last = b.Next(sources.Outcome{Kind: sources.OutcomeTransport})
	}
	assert.Equal(t, 16*time.Second, last)
}

func TestSuccessResetsToSteadyState(t *testing.T) {
	b := sources.NewBackoff(45*time.Second, nil)

	b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 500})
	b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 500})
	b.Next(sources.Outcome{Kind: sources.OutcomeTransport})

	assert.Equal(t, 45*time.Second, b.Next(sources.Outcome{Kind: sources.OutcomeSuccess}))

	// Escalation starts over from the floor after a reset.
	assert.Equal(t, 10*time.Second, b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 500}))
	assert.Equal(t, 45*time.Second, b.Next(sources.Outcome{Kind: sources.OutcomeSuccess}))
	assert.Equal(t, 250*time.Millisecond, b.Next(sources.Outcome{Kind: sources.OutcomeTransport}))
}

func TestWellKnownCooldowns(t *testing.T) {
	b := sources.NewBackoff(time.Minute, map[int]time.Duration{
		420: 2 * time.Minute,
		429: 5 * time.Minute,
		503: 10 * time.Minute,
	})

	assert.Equal(t, 2*time.Minute, b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 420}))
	assert.Equal(t, 5*time.Minute, b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 429}))
	assert.Equal(t, 10*time.Minute, b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 503}))

	// Repeats stay fixed rather than escalating.
	assert.Equal(t, 5*time.Minute, b.Next(sources.Outcome{Kind: sources.OutcomeProtocol, StatusCode: 429}))
}

func TestParseErrorsEscalateLikeProtocolFailures(t *testing.T) {
	b := sources.NewBackoff(time.Minute, nil)

	assert.Equal(t, 10*time.Second, b.Next(sources.Outcome{Kind: sources.OutcomeParse}))
	assert.Equal(t, 20*time.Second, b.Next(sources.Outcome{Kind: sources.OutcomeParse}))
}
