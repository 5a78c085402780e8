package cache

import (
	"math/rand"
	"sort"

	"collage/models"
)

// view is a derived list of cache items scoped to one content-type
// mask, carrying the consumer's read cursor for that mask. Views are
// built lazily and dropped wholesale when the ordering mode changes.
type view struct {
	mask   models.ContentType
	items  []*models.Item
	cursor int
}

// getView returns the view for a mask, building it from the master
// sequence on first use. Caller holds the cache lock.
func (c *Cache) getView(mask models.ContentType) *view {
	if v, ok := c.views[mask]; ok {
		return v
	}
	v := &view{mask: mask}
	for _, it := range c.items {
		if it.Types&mask != 0 {
			v.items = append(v.items, it)
		}
	}
	switch c.order {
	case OrderRandom:
		c.rng.Shuffle(len(v.items), func(i, j int) {
			v.items[i], v.items[j] = v.items[j], v.items[i]
		})
	default:
		sort.SliceStable(v.items, func(i, j int) bool {
			return v.items[i].Date.After(v.items[j].Date)
		})
	}
	c.views[mask] = v
	return v
}

// insert places a freshly ingested item into the view at a position
// chosen by the active ordering, but never behind the read cursor: an
// in-progress scan must not be disrupted by items it "should" already
// have passed.
func (v *view) insert(it *models.Item, order Order, rng *rand.Rand) {
	pos := len(v.items)
	switch order {
	case OrderRandom:
		if span := len(v.items) - v.cursor; span > 0 {
			pos = v.cursor + rng.Intn(span+1)
		}
	default:
		pos = sort.Search(len(v.items), func(i int) bool {
			return v.items[i].Date.Before(it.Date)
		})
		if pos < v.cursor {
			pos = v.cursor
		}
	}

	v.items = append(v.items, nil)
	copy(v.items[pos+1:], v.items[pos:])
	v.items[pos] = it
}

// remove drops evicted items and shifts the cursor back by the number
// of removals in front of it so the scan position is preserved.
func (v *view) remove(evicted map[string]struct{}) {
	if len(evicted) == 0 {
		return
	}
	kept := v.items[:0]
	removedBefore := 0
	for i, it := range v.items {
		if _, gone := evicted[it.URI]; gone {
			if i < v.cursor {
				removedBefore++
			}
			continue
		}
		kept = append(kept, it)
	}
	v.items = kept
	v.cursor -= removedBefore
	if v.cursor > len(v.items) {
		v.cursor = len(v.items)
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
}

// next walks the view from the cursor, wrapping once, and returns the
// first unsuppressed item, advancing the cursor past it. A full lap
// with no unblocked item returns nil rather than spinning.
func (v *view) next() *models.Item {
	n := len(v.items)
	if n == 0 {
		return nil
	}
	if v.cursor >= n {
		v.cursor = 0
	}
	for i := 0; i < n; i++ {
		idx := (v.cursor + i) % n
		it := v.items[idx]
		if it.Suppress == models.SuppressNone {
			v.cursor = idx + 1
			return it
		}
	}
	return nil
}
