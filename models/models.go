package models

import (
	"strings"
	"time"
)

// ContentType classifies an item for retrieval grouping. The flags are
// independent so a single item can belong to more than one group.
type ContentType uint8

const (
	ContentImage ContentType = 1 << iota
	ContentStatus
	ContentNews

	ContentAny = ContentImage | ContentStatus | ContentNews
)

// Split resolves a mask into its constituent singleton types, in flag order.
func (c ContentType) Split() []ContentType {
	var out []ContentType
	for _, t := range []ContentType{ContentImage, ContentStatus, ContentNews} {
		if c&t != 0 {
			out = append(out, t)
		}
	}
	return out
}

func (c ContentType) String() string {
	var parts []string
	if c&ContentImage != 0 {
		parts = append(parts, "image")
	}
	if c&ContentStatus != 0 {
		parts = append(parts, "status")
	}
	if c&ContentNews != 0 {
		parts = append(parts, "news")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseContentType parses a "+"-separated list of type names, e.g. "image+status".
func ParseContentType(s string) ContentType {
	var mask ContentType
	for _, part := range strings.Split(strings.ToLower(s), "+") {
		switch strings.TrimSpace(part) {
		case "image", "images":
			mask |= ContentImage
		case "status", "statuses":
			mask |= ContentStatus
		case "news":
			mask |= ContentNews
		case "any", "all":
			mask |= ContentAny
		}
	}
	return mask
}

// SourceType identifies the provider a feed or item belongs to.
type SourceType string

const (
	SourceImageSearch  SourceType = "image-search"
	SourceStatusSearch SourceType = "status-search"
	SourceStatusStream SourceType = "status-stream"
	SourceGraph        SourceType = "graph"
	SourceNews         SourceType = "news"
)

// SuppressReason tags why an item is withheld from retrieval without
// being removed from the cache. An item carries at most one reason.
type SuppressReason uint8

const (
	SuppressNone SuppressReason = iota
	SuppressAuthor
	SuppressURI
	SuppressKeyword
	SuppressProfanity
)

func (r SuppressReason) String() string {
	switch r {
	case SuppressNone:
		return "none"
	case SuppressAuthor:
		return "author"
	case SuppressURI:
		return "uri"
	case SuppressKeyword:
		return "keyword"
	case SuppressProfanity:
		return "profanity"
	}
	return "unknown"
}

// Item is the normalized unit of content from any provider. The URI is
// the identity key for deduplication within the live cache. Variant
// fields are populated according to the Types mask.
type Item struct {
	URI      string         `json:"uri"`
	Author   string         `json:"author"`
	Date     time.Time      `json:"date"`
	Source   SourceType     `json:"source"`
	Types    ContentType    `json:"types"`
	Suppress SuppressReason `json:"suppress"`

	// Image fields
	Caption      string `json:"caption,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`

	// Status fields
	Text string `json:"text,omitempty"`

	// News fields
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Clone returns a copy detached from the cache's live record, so rule
// re-evaluation never writes into an item a consumer already holds.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	cp := *it
	return &cp
}

// SearchText concatenates the textual fields rules are matched against.
func (it *Item) SearchText() string {
	parts := make([]string, 0, 6)
	for _, s := range []string{it.Author, it.Caption, it.Text, it.Title, it.Summary, it.Body} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
