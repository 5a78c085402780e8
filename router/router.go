// Package router translates user-edited term lists into running feed
// sources, packing terms under provider limits and rebuilding a
// category's feeds from scratch on every edit.
package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"collage/filter"
	"collage/models"
	"collage/sources"
)

// Category names one user-editable term list.
type Category string

const (
	CategoryImages Category = "images"
	CategoryStatus Category = "status"
	CategoryNews   Category = "news"
)

func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryImages:
		return CategoryImages, true
	case CategoryStatus:
		return CategoryStatus, true
	case CategoryNews:
		return CategoryNews, true
	}
	return "", false
}

// Term markers recognised in a category term list.
const (
	authorMarker = "@"
	groupMarker  = "&"
)

// Partition splits an ordered, de-duplicated term list into plain
// inclusion terms, author terms, group/page terms and negative terms.
// Negative terms never spawn a feed; they feed the filter engine only.
type Partition struct {
	Plain     []string
	Authors   []string
	Groups    []string
	Negatives []string
}

func PartitionTerms(terms []string) Partition {
	var p Partition
	for _, raw := range terms {
		term := strings.TrimSpace(raw)
		if term == "" {
			continue
		}
		switch {
		case strings.HasPrefix(term, filter.NegativeMarker):
			p.Negatives = append(p.Negatives, term)
		case strings.HasPrefix(term, authorMarker):
			if name := strings.TrimPrefix(term, authorMarker); name != "" {
				p.Authors = append(p.Authors, name)
			}
		case strings.HasPrefix(term, groupMarker):
			if name := strings.TrimPrefix(term, groupMarker); name != "" {
				p.Groups = append(p.Groups, name)
			}
		default:
			p.Plain = append(p.Plain, term)
		}
	}
	return p
}

// PackTerms greedily joins inclusion terms with " OR " into the minimum
// number of queries whose combined length stays under maxLen. A single
// oversized term still gets its own query rather than being dropped.
func PackTerms(terms []string, maxLen int) []string {
	var packed []string
	var current string
	for _, term := range terms {
		switch {
		case current == "":
			current = term
		case len(current)+len(" OR ")+len(term) <= maxLen:
			current += " OR " + term
		default:
			packed = append(packed, current)
			current = term
		}
	}
	if current != "" {
		packed = append(packed, current)
	}
	return packed
}

// ProviderConfig carries the per-provider endpoints and credentials the
// router needs to construct feeds.
type ProviderConfig struct {
	ImageEndpoint  string
	ImageAPIKey    string
	StatusEndpoint string
	GraphEndpoint  string
	NewsEndpoint   string

	StreamEnabled   bool
	StreamHosts     []string
	StreamCompress  bool
	StreamUserAgent string
}

// Config wires the router's collaborators at construction.
type Config struct {
	Providers ProviderConfig
	Intervals map[Category]time.Duration
	MinDate   time.Time

	Client    *http.Client
	Directory sources.Resolver
	Engine    *filter.Engine

	Emit   func(*models.Item)
	Health func(models.SourceHealthEvent)

	// Refilter re-derives suppression for cached items after a rule edit.
	Refilter func()
}

// Router owns the running feeds per category.
type Router struct {
	cfg Config

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	running   map[Category][]sources.Source
	negatives map[Category][]string
}

func New(cfg Config) *Router {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Intervals == nil {
		cfg.Intervals = map[Category]time.Duration{}
	}
	return &Router{
		cfg:       cfg,
		running:   make(map[Category][]sources.Source),
		negatives: make(map[Category][]string),
	}
}

// Start makes the router ready to spawn feeds. Feeds created before
// Start are not supported; SetTerms on a stopped router is an error.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Stop tears down every running feed. Idempotent.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	feeds := r.running
	r.running = make(map[Category][]sources.Source)
	r.cancel = nil
	r.ctx = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, categoryFeeds := range feeds {
		for _, f := range categoryFeeds {
			f.Stop()
		}
	}
}

// SetTerms replaces a category's term list: full teardown of the
// category's feeds, then a from-scratch rebuild. Negative terms update
// the filter engine and trigger a cache refilter instead of spawning
// feeds.
func (r *Router) SetTerms(category Category, terms []string) error {
	part := PartitionTerms(lo.Uniq(terms))

	// Directory lookups are network calls; they must not run under the
	// router lock or a slow resolver blocks Stop and concurrent edits.
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		return fmt.Errorf("router is not started")
	}

	ids, err := r.resolveIDs(ctx, category, part)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx == nil {
		return fmt.Errorf("router is not started")
	}

	r.negatives[category] = part.Negatives
	r.cfg.Engine.SetNegatives(lo.Flatten(lo.Values(r.negatives)))
	if r.cfg.Refilter != nil {
		r.cfg.Refilter()
	}

	// Old feeds must be fully stopped before replacements start, so the
	// number of in-flight requests stays bounded.
	for _, f := range r.running[category] {
		f.Stop()
	}
	delete(r.running, category)

	providers, streams, err := r.buildProviders(category, part, ids)
	if err != nil {
		return err
	}

	// Spread the configured category budget across all feeds: each feed
	// polls slower the more feeds the edit produced.
	interval := r.cfg.Intervals[category]
	if interval <= 0 {
		interval = time.Minute
	}
	effective := interval * time.Duration(max(len(providers), 1))

	var feeds []sources.Source
	for _, p := range providers {
		p.SetInterval(effective)
		poller := sources.NewPoller(p, r.cfg.Client, r.cfg.Emit, r.cfg.Health)
		poller.Start(r.ctx)
		feeds = append(feeds, poller)
	}
	for _, s := range streams {
		s.Start(r.ctx)
		feeds = append(feeds, s)
	}
	r.running[category] = feeds

	log.WithFields(log.Fields{
		"category": category,
		"feeds":    len(feeds),
		"interval": effective,
	}).Info("Rebuilt category feeds")
	return nil
}

// resolveIDs looks up every author and group name the rebuild needs,
// before the lock is taken. News feeds query by name and need none.
func (r *Router) resolveIDs(ctx context.Context, category Category, part Partition) (map[string]string, error) {
	ids := make(map[string]string)
	if category == CategoryNews {
		return ids, nil
	}
	for _, author := range part.Authors {
		id, err := r.cfg.Directory.Resolve(ctx, "user", author)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve author %q: %w", author, err)
		}
		ids["user:"+author] = id
	}
	for _, group := range part.Groups {
		id, err := r.cfg.Directory.Resolve(ctx, "group", group)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve group %q: %w", group, err)
		}
		ids["group:"+group] = id
	}
	return ids, nil
}

// buildProviders constructs the category's providers from a partition
// and the pre-resolved name→id map. Caller holds the lock.
func (r *Router) buildProviders(category Category, part Partition, ids map[string]string) ([]sources.Provider, []*sources.Stream, error) {
	pc := r.cfg.Providers

	switch category {
	case CategoryImages:
		var providers []sources.Provider
		for _, query := range PackTerms(part.Plain, sources.MaxImageQueryLen) {
			p, err := sources.NewImageSearch(sources.ImageSearchConfig{
				Endpoint: pc.ImageEndpoint,
				APIKey:   pc.ImageAPIKey,
				Text:     query,
				MinDate:  r.cfg.MinDate,
			})
			if err != nil {
				return nil, nil, err
			}
			providers = append(providers, p)
		}
		for _, author := range part.Authors {
			p, err := sources.NewImageSearch(sources.ImageSearchConfig{
				Endpoint: pc.ImageEndpoint,
				APIKey:   pc.ImageAPIKey,
				UserID:   ids["user:"+author],
				MinDate:  r.cfg.MinDate,
			})
			if err != nil {
				return nil, nil, err
			}
			providers = append(providers, p)
		}
		for _, group := range part.Groups {
			p, err := sources.NewImageSearch(sources.ImageSearchConfig{
				Endpoint: pc.ImageEndpoint,
				APIKey:   pc.ImageAPIKey,
				GroupID:  ids["group:"+group],
				MinDate:  r.cfg.MinDate,
			})
			if err != nil {
				return nil, nil, err
			}
			providers = append(providers, p)
		}
		return providers, nil, nil

	case CategoryStatus:
		var providers []sources.Provider
		if queries := PackTerms(part.Plain, sources.MaxStatusQueryLen); len(queries) > 0 {
			p, err := sources.NewStatusSearch(sources.StatusSearchConfig{
				Endpoint: pc.StatusEndpoint,
				Queries:  queries,
				MinDate:  r.cfg.MinDate,
			})
			if err != nil {
				return nil, nil, err
			}
			providers = append(providers, p)
		}
		for _, name := range append(append([]string{}, part.Authors...), part.Groups...) {
			kind := "user"
			if lo.Contains(part.Groups, name) {
				kind = "group"
			}
			p, err := sources.NewGraph(sources.GraphConfig{
				Endpoint: pc.GraphEndpoint,
				ID:       ids[kind+":"+name],
				Name:     name,
				MinDate:  r.cfg.MinDate,
			})
			if err != nil {
				return nil, nil, err
			}
			providers = append(providers, p)
		}

		var streams []*sources.Stream
		if pc.StreamEnabled && len(part.Plain) > 0 {
			stream, err := sources.NewStream(sources.StreamConfig{
				Hosts:     pc.StreamHosts,
				Track:     part.Plain,
				Compress:  pc.StreamCompress,
				UserAgent: pc.StreamUserAgent,
				MinDate:   r.cfg.MinDate,
			}, r.cfg.Emit, r.cfg.Health)
			if err != nil {
				return nil, nil, err
			}
			streams = append(streams, stream)
		}
		return providers, streams, nil

	case CategoryNews:
		var providers []sources.Provider
		for _, query := range PackTerms(append(append([]string{}, part.Plain...), part.Authors...), sources.MaxNewsQueryLen) {
			p, err := sources.NewNewsFeed(sources.NewsFeedConfig{
				Endpoint: pc.NewsEndpoint,
				Query:    query,
				MinDate:  r.cfg.MinDate,
			})
			if err != nil {
				return nil, nil, err
			}
			providers = append(providers, p)
		}
		return providers, nil, nil
	}

	return nil, nil, fmt.Errorf("unknown category %q", category)
}

// FeedCount reports the number of running feeds for a category.
func (r *Router) FeedCount(category Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running[category])
}
