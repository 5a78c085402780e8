// Package sources implements the per-provider polling units that feed
// the aggregation cache: a capability interface implemented by each
// provider, a timer-driven poller with per-outcome backoff, and a
// long-lived streaming source for the provider that pushes instead of
// being polled.
package sources

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"collage/models"
)

var (
	pollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collage_poll_attempts_total",
		Help: "The total number of poll attempts per source type",
	}, []string{"source"})

	pollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collage_poll_failures_total",
		Help: "The total number of failed poll cycles per source type and failure kind",
	}, []string{"source", "kind"})

	itemsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collage_items_emitted_total",
		Help: "The total number of items emitted to the cache per source type",
	}, []string{"source"})
)

const requestTimeout = 30 * time.Second

// Provider is the capability a concrete provider implements: build the
// next request from its pacing state, turn a response into items, and
// decide how long to wait after an outcome.
type Provider interface {
	Source() models.SourceType
	Query() string
	BuildRequest(ctx context.Context) (*http.Request, error)
	ProcessResponse(resp *http.Response) ([]*models.Item, error)
	RetryTime(o Outcome) time.Duration

	// SetInterval fixes the steady-state poll interval. The router calls
	// it once the number of feeds sharing the category budget is known.
	SetInterval(d time.Duration)
}

// Source is a running polling unit. Stop is idempotent, prevents any
// further scheduled poll, and aborts an in-flight request promptly.
type Source interface {
	Start(ctx context.Context)
	Stop()
}

// Poller drives one Provider through its timer-triggered poll cycle.
type Poller struct {
	provider Provider
	client   *http.Client
	emit     func(*models.Item)
	health   func(models.SourceHealthEvent)

	lastSuccess time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewPoller wires a provider to the cache's ingest callback and the
// health notification sink.
func NewPoller(p Provider, client *http.Client, emit func(*models.Item), health func(models.SourceHealthEvent)) *Poller {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Poller{
		provider: p,
		client:   client,
		emit:     emit,
		health:   health,
	}
}

// Start launches the poll loop. The first attempt fires immediately.
func (pl *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	pl.mu.Lock()
	if pl.done != nil {
		pl.mu.Unlock()
		cancel()
		return
	}
	pl.cancel = cancel
	pl.done = make(chan struct{})
	pl.mu.Unlock()

	go pl.loop(ctx)
}

func (pl *Poller) loop(ctx context.Context) {
	defer close(pl.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			delay := pl.pollOnce(ctx)
			timer.Reset(delay)
		}
	}
}

// pollOnce runs one full cycle and returns the delay until the next.
// Every failure mode is contained here; nothing may kill the loop.
func (pl *Poller) pollOnce(ctx context.Context) time.Duration {
	source := string(pl.provider.Source())
	pollAttempts.WithLabelValues(source).Inc()

	outcome := pl.attempt(ctx)
	if outcome.Kind == OutcomeSuccess {
		pl.lastSuccess = time.Now()
	} else {
		pollFailures.WithLabelValues(source, outcomeLabel(outcome.Kind)).Inc()
		log.WithFields(log.Fields{
			"source": source,
			"query":  pl.provider.Query(),
			"kind":   outcomeLabel(outcome.Kind),
			"status": outcome.StatusCode,
			"error":  outcome.Err,
		}).Warn("Poll cycle failed")
	}

	if pl.health != nil {
		pl.health(models.SourceHealthEvent{
			Source:      pl.provider.Source(),
			Query:       pl.provider.Query(),
			Up:          outcome.Kind == OutcomeSuccess,
			LastSuccess: pl.lastSuccess,
		})
	}

	return pl.provider.RetryTime(outcome)
}

func (pl *Poller) attempt(ctx context.Context) Outcome {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := pl.provider.BuildRequest(reqCtx)
	if err != nil {
		return Outcome{Kind: OutcomeProtocol, Err: err}
	}

	resp, err := pl.client.Do(req)
	if err != nil {
		return Outcome{Kind: OutcomeTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Outcome{Kind: OutcomeProtocol, StatusCode: resp.StatusCode}
	}

	items, err := pl.provider.ProcessResponse(resp)
	if err != nil {
		return Outcome{Kind: OutcomeParse, Err: err}
	}

	for _, it := range items {
		pl.emit(it)
	}
	if len(items) > 0 {
		itemsEmitted.WithLabelValues(string(pl.provider.Source())).Add(float64(len(items)))
	}
	return Outcome{Kind: OutcomeSuccess}
}

// Stop cancels the loop and waits for it to exit.
func (pl *Poller) Stop() {
	pl.stopOnce.Do(func() {
		pl.mu.Lock()
		cancel, done := pl.cancel, pl.done
		pl.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
}

func outcomeLabel(k OutcomeKind) string {
	switch k {
	case OutcomeTransport:
		return "transport"
	case OutcomeProtocol:
		return "protocol"
	case OutcomeParse:
		return "parse"
	}
	return "success"
}
