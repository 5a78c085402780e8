package cache

import "collage/models"

// GetNextItem serves the display layer's "next item" request for a
// content-type mask.
//
// With even distribution enabled the mask is resolved into its
// constituent singleton types and a round-robin cursor keyed by the
// exact mask value rotates between them; empty views are skipped, each
// constituent tried at most once per call. Without even distribution
// the combined mask is served from one merged view.
func (c *Cache) GetNextItem(mask models.ContentType) *models.Item {
	if mask == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	singles := mask.Split()
	if !c.even || len(singles) <= 1 {
		return c.getView(mask).next().Clone()
	}

	start := c.rr[mask]
	for i := 0; i < len(singles); i++ {
		slot := (start + i) % len(singles)
		v := c.getView(singles[slot])
		if len(v.items) == 0 {
			continue
		}
		c.rr[mask] = (slot + 1) % len(singles)
		return v.next().Clone()
	}
	return nil
}
