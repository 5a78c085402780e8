// Package cache holds the single shared store of aggregated items, the
// per-content-type retrieval views derived from it, and the stateful
// retrieval scheduler that serves the display layer.
package cache

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"collage/filter"
	"collage/models"
)

// Order controls how per-type views are arranged for retrieval.
type Order int

const (
	OrderChronological Order = iota
	OrderRandom
)

func (o Order) String() string {
	if o == OrderRandom {
		return "random"
	}
	return "chronological"
}

// ParseOrder maps a config string to an Order, defaulting to chronological.
func ParseOrder(s string) Order {
	if strings.EqualFold(strings.TrimSpace(s), "random") {
		return OrderRandom
	}
	return OrderChronological
}

// purgeSlack is the hysteresis factor over the target capacity before a
// purge actually runs, so we do not trim on every single insert.
const purgeSlack = 1.2

const DefaultCapacity = 10000

// Config wires the cache's collaborators at construction. The callbacks
// are invoked outside the cache lock.
type Config struct {
	Capacity         int
	Order            Order
	EvenDistribution bool
	Engine           *filter.Engine

	OnAdded  func(models.ItemAddedEvent)
	OnPurged func(models.CachePurgedEvent)
}

// Cache is the bounded, lock-protected aggregation store. All mutation
// of the master sequence and the derived views is serialized through
// one mutex; the lock is never held across network I/O or callbacks.
type Cache struct {
	mu sync.Mutex

	capacity int
	order    Order
	even     bool
	engine   *filter.Engine

	items []*models.Item // master sequence, ingest order
	seen  map[string]struct{}
	views map[models.ContentType]*view
	rr    map[models.ContentType]int // round-robin cursor per requested mask

	rng *rand.Rand

	onAdded  func(models.ItemAddedEvent)
	onPurged func(models.CachePurgedEvent)
}

func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Engine == nil {
		cfg.Engine = filter.NewEngine()
	}
	return &Cache{
		capacity: cfg.Capacity,
		order:    cfg.Order,
		even:     cfg.EvenDistribution,
		engine:   cfg.Engine,
		seen:     make(map[string]struct{}),
		views:    make(map[models.ContentType]*view),
		rr:       make(map[models.ContentType]int),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		onAdded:  cfg.OnAdded,
		onPurged: cfg.OnPurged,
	}
}

// Ingest adds an item to the master sequence and every matching view.
// Duplicate URIs are rejected as a no-op. Returns true when the item was
// accepted.
func (c *Cache) Ingest(it *models.Item) bool {
	if it == nil || it.URI == "" {
		return false
	}

	c.mu.Lock()
	if _, dup := c.seen[it.URI]; dup {
		c.mu.Unlock()
		return false
	}

	c.engine.Evaluate(it)
	c.items = append(c.items, it)
	c.seen[it.URI] = struct{}{}

	for mask, v := range c.views {
		if mask&it.Types != 0 {
			v.insert(it, c.order, c.rng)
		}
	}

	purged := c.purgeLocked()
	c.mu.Unlock()

	if c.onAdded != nil {
		c.onAdded(models.ItemAddedEvent{Item: it.Clone()})
	}
	if purged != nil && c.onPurged != nil {
		c.onPurged(models.CachePurgedEvent{Remaining: purged})
	}
	return true
}

// purgeLocked trims the oldest surplus down to capacity once the master
// sequence has outgrown the slack threshold. Returns a snapshot of the
// survivors when a purge ran, nil otherwise.
func (c *Cache) purgeLocked() []*models.Item {
	threshold := int(float64(c.capacity) * purgeSlack)
	if len(c.items) <= threshold {
		return nil
	}

	surplus := len(c.items) - c.capacity
	evicted := make(map[string]struct{}, surplus)
	for _, it := range c.items[:surplus] {
		evicted[it.URI] = struct{}{}
		delete(c.seen, it.URI)
	}
	c.items = append([]*models.Item(nil), c.items[surplus:]...)

	for _, v := range c.views {
		v.remove(evicted)
	}

	log.WithFields(log.Fields{
		"evicted":  surplus,
		"retained": len(c.items),
	}).Info("Purged cache")

	return c.snapshotLocked()
}

// snapshotLocked clones every item: snapshots outlive the lock and are
// marshalled while rule edits may rewrite the live records.
func (c *Cache) snapshotLocked() []*models.Item {
	out := make([]*models.Item, len(c.items))
	for i, it := range c.items {
		out[i] = it.Clone()
	}
	return out
}

// Snapshot returns a copy of the master sequence in ingest order.
func (c *Cache) Snapshot() []*models.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Len reports the master sequence length.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// SetOrder switches the retrieval ordering mode and invalidates every
// view wholesale; views rebuild lazily on the next retrieval.
func (c *Cache) SetOrder(order Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order == c.order {
		return
	}
	c.order = order
	c.views = make(map[models.ContentType]*view)
}

// Order reports the active retrieval ordering mode.
func (c *Cache) Order() Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order
}

// SetEvenDistribution toggles round-robin fairness across content types.
func (c *Cache) SetEvenDistribution(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.even = on
}

// SetCapacity adjusts the target capacity. Shrinking may trigger an
// immediate purge.
func (c *Cache) SetCapacity(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.capacity = n
	purged := c.purgeLocked()
	c.mu.Unlock()

	if purged != nil && c.onPurged != nil {
		c.onPurged(models.CachePurgedEvent{Remaining: purged})
	}
}

// Refilter re-derives every item's suppression reason from the current
// rule set. Called after any ban-list or profanity edit; reasons caused
// by removed rules reset to none unless another rule still matches.
func (c *Cache) Refilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		c.engine.Evaluate(it)
	}
}
