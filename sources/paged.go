package sources

import (
	"sync"
	"time"
)

// PageCursor carries the pacing state shared by the paged search
// providers: the highest item id seen so far and the minimum upload
// timestamp for the next window. Advancing the cursor from a response
// before the next request is scheduled prevents reprocessing the same
// window.
type PageCursor struct {
	mu        sync.Mutex
	highestID int64
	minUpload time.Time
}

// Advance moves the cursor forward; older values are ignored so the
// cursor is monotonic even when a response arrives out of order.
func (c *PageCursor) Advance(id int64, uploaded time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id > c.highestID {
		c.highestID = id
	}
	if uploaded.After(c.minUpload) {
		c.minUpload = uploaded
	}
}

// SinceID returns the highest seen id, 0 before the first page.
func (c *PageCursor) SinceID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestID
}

// MinUpload returns the lower timestamp bound for the next window.
func (c *PageCursor) MinUpload() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minUpload
}
