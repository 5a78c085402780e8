// Package aggregator wires the cache, filter engine, router and feed
// sources into one unit with a lifecycle and a mutable configuration
// surface for the display layer.
package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"collage/cache"
	"collage/config"
	"collage/filter"
	"collage/models"
	"collage/router"
	"collage/sources"
)

// Options configures an Aggregator. The event callbacks are optional
// and invoked outside any internal lock.
type Options struct {
	Config *config.Config
	Client *http.Client

	OnAdded  func(models.ItemAddedEvent)
	OnHealth func(models.SourceHealthEvent)
	OnPurged func(models.CachePurgedEvent)
}

type Aggregator struct {
	cfg    *config.Config
	engine *filter.Engine
	cache  *cache.Cache
	router *router.Router

	onHealth func(models.SourceHealthEvent)

	mu      sync.Mutex
	health  map[string]models.SourceHealthEvent
	started bool
}

func New(opts Options) (*Aggregator, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("aggregator requires a config")
	}

	engine := filter.NewEngine()
	if err := engine.SetProfanity(cfg.Filter.BannedWords, cfg.Filter.ProfanityEnabled); err != nil {
		return nil, err
	}

	store := cache.New(cache.Config{
		Capacity:         cfg.Capacity,
		Order:            cache.ParseOrder(cfg.Order),
		EvenDistribution: cfg.EvenDistribution,
		Engine:           engine,
		OnAdded:          opts.OnAdded,
		OnPurged:         opts.OnPurged,
	})

	a := &Aggregator{
		cfg:      cfg,
		engine:   engine,
		cache:    store,
		onHealth: opts.OnHealth,
		health:   make(map[string]models.SourceHealthEvent),
	}

	var minDate time.Time
	if cfg.MaxAge.Duration > 0 {
		minDate = time.Now().Add(-cfg.MaxAge.Duration)
	}

	intervals := make(map[router.Category]time.Duration)
	for name, category := range cfg.Categories {
		if cat, ok := router.ParseCategory(name); ok {
			intervals[cat] = category.Interval.Duration
		}
	}

	a.router = router.New(router.Config{
		Providers: router.ProviderConfig{
			ImageEndpoint:   cfg.Providers.ImageSearch.Endpoint,
			ImageAPIKey:     cfg.Providers.ImageSearch.APIKey,
			StatusEndpoint:  cfg.Providers.StatusSearch.Endpoint,
			GraphEndpoint:   cfg.Providers.Graph.Endpoint,
			NewsEndpoint:    cfg.Providers.News.Endpoint,
			StreamEnabled:   cfg.Providers.Stream.Enabled,
			StreamHosts:     cfg.Providers.Stream.Hosts,
			StreamCompress:  cfg.Providers.Stream.Compress,
			StreamUserAgent: cfg.Providers.Stream.UserAgent,
		},
		Intervals: intervals,
		MinDate:   minDate,
		Client:    opts.Client,
		Directory: sources.NewDirectory(cfg.Providers.Directory.Endpoint, opts.Client),
		Engine:    engine,
		Emit:      func(it *models.Item) { store.Ingest(it) },
		Health:    a.recordHealth,
		Refilter:  store.Refilter,
	})

	return a, nil
}

// Start spawns the configured feeds. Safe to call once.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already started")
	}
	a.started = true
	a.mu.Unlock()

	a.router.Start(ctx)
	for name, category := range a.cfg.Categories {
		cat, ok := router.ParseCategory(name)
		if !ok {
			log.Warnf("Ignoring unknown category %q in config", name)
			continue
		}
		if err := a.router.SetTerms(cat, category.Terms); err != nil {
			return fmt.Errorf("failed to build %s feeds: %w", cat, err)
		}
	}
	return nil
}

// Stop tears down every feed. Idempotent.
func (a *Aggregator) Stop() {
	a.router.Stop()

	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
}

// GetNextItem serves the next unsuppressed item for a content-type mask.
func (a *Aggregator) GetNextItem(mask models.ContentType) *models.Item {
	return a.cache.GetNextItem(mask)
}

// SetTerms replaces a category's term list and rebuilds its feeds.
func (a *Aggregator) SetTerms(category string, terms []string) error {
	cat, ok := router.ParseCategory(category)
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	if err := a.router.SetTerms(cat, terms); err != nil {
		return err
	}
	a.pruneHealth(cat)
	return nil
}

// pruneHealth drops health entries for the feeds a rebuild destroyed;
// the replacement feeds repopulate on their immediate first poll.
func (a *Aggregator) pruneHealth(cat router.Category) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, st := range categorySources(cat) {
		prefix := string(st) + "|"
		for key := range a.health {
			if strings.HasPrefix(key, prefix) {
				delete(a.health, key)
			}
		}
	}
}

func categorySources(cat router.Category) []models.SourceType {
	switch cat {
	case router.CategoryImages:
		return []models.SourceType{models.SourceImageSearch}
	case router.CategoryStatus:
		return []models.SourceType{models.SourceStatusSearch, models.SourceStatusStream, models.SourceGraph}
	case router.CategoryNews:
		return []models.SourceType{models.SourceNews}
	}
	return nil
}

// SetProfanity replaces the banned-word list and re-filters the cache.
func (a *Aggregator) SetProfanity(words []string, enabled bool) error {
	if err := a.engine.SetProfanity(words, enabled); err != nil {
		return err
	}
	a.cache.Refilter()
	return nil
}

// SetOrder switches the retrieval ordering mode.
func (a *Aggregator) SetOrder(order cache.Order) {
	a.cache.SetOrder(order)
}

// SetEvenDistribution toggles round-robin fairness across types.
func (a *Aggregator) SetEvenDistribution(on bool) {
	a.cache.SetEvenDistribution(on)
}

// SetCapacity adjusts the cache's target capacity.
func (a *Aggregator) SetCapacity(n int) {
	a.cache.SetCapacity(n)
}

// Snapshot returns a copy of the cached items in ingest order.
func (a *Aggregator) Snapshot() []*models.Item {
	return a.cache.Snapshot()
}

// Health reports the last known state of every feed, stable by key.
func (a *Aggregator) Health() []models.SourceHealthEvent {
	a.mu.Lock()
	keys := make([]string, 0, len(a.health))
	for key := range a.health {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]models.SourceHealthEvent, 0, len(keys))
	for _, key := range keys {
		out = append(out, a.health[key])
	}
	a.mu.Unlock()
	return out
}

func (a *Aggregator) recordHealth(ev models.SourceHealthEvent) {
	a.mu.Lock()
	a.health[string(ev.Source)+"|"+ev.Query] = ev
	a.mu.Unlock()

	if a.onHealth != nil {
		a.onHealth(ev)
	}
}
