package models

import "time"

// ItemAddedEvent fired when a new item enters the cache.
type ItemAddedEvent struct {
	Item *Item
}

// SourceHealthEvent fired after every poll attempt, successful or not.
type SourceHealthEvent struct {
	Source      SourceType `json:"source"`
	Query       string     `json:"query"`
	Up          bool       `json:"up"`
	LastSuccess time.Time  `json:"lastSuccess"`
}

// CachePurgedEvent fired after eviction, carrying the surviving set so
// consumers can reconcile out-of-band references.
type CachePurgedEvent struct {
	Remaining []*Item
}
