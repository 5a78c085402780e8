package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"collage/models"
)

var graphCooldowns = map[int]time.Duration{
	429: 5 * time.Minute,
}

// MinGraphPollInterval is the provider-mandated floor on the steady poll
// interval; configured intervals below it are clamped.
const MinGraphPollInterval = 15 * time.Second

// GraphConfig configures one group/page wall feed. The id comes from a
// Directory lookup; the human-readable name is kept for logging.
type GraphConfig struct {
	Endpoint string
	ID       string
	Name     string
	MinDate  time.Time
	Interval time.Duration
}

// Graph polls the wall of one resolved group or page.
type Graph struct {
	cfg     GraphConfig
	backoff *Backoff
}

func NewGraph(cfg GraphConfig) (*Graph, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("graph source requires an endpoint")
	}
	if cfg.ID == "" {
		return nil, errors.New("graph source requires a resolved id")
	}
	if cfg.Interval < MinGraphPollInterval {
		cfg.Interval = MinGraphPollInterval
	}
	return &Graph{
		cfg:     cfg,
		backoff: NewBackoff(cfg.Interval, graphCooldowns),
	}, nil
}

func (g *Graph) Source() models.SourceType { return models.SourceGraph }

func (g *Graph) Query() string {
	if g.cfg.Name != "" {
		return g.cfg.Name
	}
	return g.cfg.ID
}

func (g *Graph) BuildRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(fmt.Sprintf("%s/%s/wall", g.cfg.Endpoint, url.PathEscape(g.cfg.ID)))
	if err != nil {
		return nil, fmt.Errorf("invalid graph endpoint: %w", err)
	}
	if !g.cfg.MinDate.IsZero() {
		q := u.Query()
		q.Set("since", g.cfg.MinDate.Format(time.RFC3339))
		u.RawQuery = q.Encode()
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

type graphEntry struct {
	ID          string `json:"id"`
	From        string `json:"from"`
	Message     string `json:"message"`
	Link        string `json:"link"`
	Picture     string `json:"picture"`
	CreatedTime string `json:"created_time"`
}

func (g *Graph) ProcessResponse(resp *http.Response) ([]*models.Item, error) {
	var payload struct {
		Entries []graphEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode wall response: %w", err)
	}

	var items []*models.Item
	for _, entry := range payload.Entries {
		created, err := time.Parse(time.RFC3339, entry.CreatedTime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse wall timestamp %q: %w", entry.CreatedTime, err)
		}
		if !g.cfg.MinDate.IsZero() && created.Before(g.cfg.MinDate) {
			continue
		}

		uri := entry.Link
		if uri == "" {
			uri = fmt.Sprintf("%s/%s/wall/%s", g.cfg.Endpoint, g.cfg.ID, entry.ID)
		}

		// A wall entry with an attached picture belongs to both the
		// status and image groups.
		types := models.ContentStatus
		if entry.Picture != "" {
			types |= models.ContentImage
		}

		items = append(items, &models.Item{
			URI:          uri,
			Author:       entry.From,
			Date:         created,
			Source:       models.SourceGraph,
			Types:        types,
			Text:         entry.Message,
			ThumbnailURL: entry.Picture,
			ImageURL:     entry.Picture,
		})
	}
	return items, nil
}

func (g *Graph) RetryTime(o Outcome) time.Duration {
	return g.backoff.Next(o)
}

func (g *Graph) SetInterval(d time.Duration) {
	if d < MinGraphPollInterval {
		d = MinGraphPollInterval
	}
	g.backoff.Steady = d
}
