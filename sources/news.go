package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"

	"collage/models"
)

// MaxNewsQueryLen bounds one packed news search query.
const MaxNewsQueryLen = 160

// MinNewsPollInterval is the provider-mandated floor on the steady poll
// interval; configured intervals below it are clamped.
const MinNewsPollInterval = time.Minute

// NewsFeedConfig configures one syndication news feed built from a
// search query against the news provider.
type NewsFeedConfig struct {
	Endpoint string
	Query    string
	MinDate  time.Time
	Interval time.Duration
}

// NewsFeed polls a syndication (RSS/Atom) search feed.
type NewsFeed struct {
	cfg     NewsFeedConfig
	parser  *gofeed.Parser
	backoff *Backoff
}

func NewNewsFeed(cfg NewsFeedConfig) (*NewsFeed, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("news feed requires an endpoint")
	}
	if cfg.Query == "" {
		return nil, errors.New("news feed requires a query")
	}
	if cfg.Interval < MinNewsPollInterval {
		cfg.Interval = MinNewsPollInterval
	}
	return &NewsFeed{
		cfg:     cfg,
		parser:  gofeed.NewParser(),
		backoff: NewBackoff(cfg.Interval, nil),
	}, nil
}

func (n *NewsFeed) Source() models.SourceType { return models.SourceNews }

func (n *NewsFeed) Query() string { return n.cfg.Query }

func (n *NewsFeed) BuildRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(n.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid news endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", n.cfg.Query)
	q.Set("output", "rss")
	u.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func (n *NewsFeed) ProcessResponse(resp *http.Response) ([]*models.Item, error) {
	parsed, err := n.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse news feed: %w", err)
	}
	return n.convert(parsed), nil
}

func (n *NewsFeed) convert(parsed *gofeed.Feed) []*models.Item {
	var items []*models.Item
	for _, entry := range parsed.Items {
		published := time.Now()
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = *entry.UpdatedParsed
		}
		if !n.cfg.MinDate.IsZero() && published.Before(n.cfg.MinDate) {
			continue
		}

		uri := entry.Link
		if uri == "" {
			uri = entry.GUID
		}
		if uri == "" {
			continue
		}

		author := ""
		if len(entry.Authors) > 0 {
			author = entry.Authors[0].Name
		}

		items = append(items, &models.Item{
			URI:     uri,
			Author:  author,
			Date:    published,
			Source:  models.SourceNews,
			Types:   models.ContentNews,
			Title:   entry.Title,
			Summary: entry.Description,
			Body:    entry.Content,
		})
	}
	return items
}

func (n *NewsFeed) RetryTime(o Outcome) time.Duration {
	return n.backoff.Next(o)
}

func (n *NewsFeed) SetInterval(d time.Duration) {
	if d < MinNewsPollInterval {
		d = MinNewsPollInterval
	}
	n.backoff.Steady = d
}
