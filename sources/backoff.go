package sources

import "time"

// OutcomeKind classifies the result of one poll cycle.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeTransport means no response was received at all.
	OutcomeTransport
	// OutcomeProtocol means the provider answered with an error status.
	OutcomeProtocol
	// OutcomeParse means the response arrived but could not be decoded.
	OutcomeParse
)

// Outcome carries the classification of a finished poll attempt.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Err        error
}

// Default escalation bounds, per the provider contracts.
const (
	expFloor = 10 * time.Second
	expCeil  = 240 * time.Second
	linFloor = 250 * time.Millisecond
	linStep  = 250 * time.Millisecond
	linCeil  = 16 * time.Second
)

// Backoff computes the delay until the next poll attempt. Protocol
// failures escalate exponentially, transport failures linearly, both
// capped; documented status codes map to fixed cooldown windows;
// success resets everything to the steady-state interval.
type Backoff struct {
	Steady    time.Duration
	Cooldowns map[int]time.Duration

	expNext time.Duration
	linNext time.Duration
}

// NewBackoff returns a policy that settles at the given steady-state
// poll interval. Cooldowns may be nil when the provider documents none.
func NewBackoff(steady time.Duration, cooldowns map[int]time.Duration) *Backoff {
	return &Backoff{Steady: steady, Cooldowns: cooldowns}
}

// Next consumes an outcome and returns the delay before the next attempt.
func (b *Backoff) Next(o Outcome) time.Duration {
	switch o.Kind {
	case OutcomeSuccess:
		b.expNext = 0
		b.linNext = 0
		return b.Steady

	case OutcomeTransport:
		if b.linNext == 0 {
			b.linNext = linFloor
		}
		d := b.linNext
		if next := b.linNext + linStep; next <= linCeil {
			b.linNext = next
		} else {
			b.linNext = linCeil
		}
		return d

	default: // OutcomeProtocol, OutcomeParse
		if cd, ok := b.Cooldowns[o.StatusCode]; ok {
			return cd
		}
		if b.expNext == 0 {
			b.expNext = expFloor
		}
		d := b.expNext
		if next := b.expNext * 2; next <= expCeil {
			b.expNext = next
		} else {
			b.expNext = expCeil
		}
		return d
	}
}
