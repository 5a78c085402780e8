package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"collage/models"
)

var statusCooldowns = map[int]time.Duration{
	420: 2 * time.Minute,
	429: 5 * time.Minute,
}

// MaxStatusQueryLen bounds one packed status search query; the router
// packs inclusion terms into the minimum number of feeds under it.
const MaxStatusQueryLen = 120

// MinStatusPollInterval is the provider-mandated floor on the steady
// poll interval; configured intervals below it are clamped.
const MinStatusPollInterval = 10 * time.Second

// StatusSearchConfig configures one batched status search feed. Several
// queries ride in a single request; the provider answers with a named
// result per query.
type StatusSearchConfig struct {
	Endpoint string
	Queries  []string
	MinDate  time.Time
	Interval time.Duration
}

// StatusSearch polls the status provider's batched multi-query API.
type StatusSearch struct {
	cfg     StatusSearchConfig
	cursor  PageCursor
	backoff *Backoff
}

func NewStatusSearch(cfg StatusSearchConfig) (*StatusSearch, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("status search requires an endpoint")
	}
	if len(cfg.Queries) == 0 {
		return nil, errors.New("status search requires at least one query")
	}
	if cfg.Interval < MinStatusPollInterval {
		cfg.Interval = MinStatusPollInterval
	}
	return &StatusSearch{
		cfg:     cfg,
		backoff: NewBackoff(cfg.Interval, statusCooldowns),
	}, nil
}

func (s *StatusSearch) Source() models.SourceType { return models.SourceStatusSearch }

func (s *StatusSearch) Query() string {
	if len(s.cfg.Queries) == 1 {
		return s.cfg.Queries[0]
	}
	return fmt.Sprintf("%s (+%d)", s.cfg.Queries[0], len(s.cfg.Queries)-1)
}

type statusBatchRequest struct {
	Queries []string `json:"queries"`
	SinceID string   `json:"since_id,omitempty"`
}

func (s *StatusSearch) BuildRequest(ctx context.Context) (*http.Request, error) {
	body := statusBatchRequest{Queries: s.cfg.Queries}
	if since := s.cursor.SinceID(); since > 0 {
		body.SinceID = strconv.FormatInt(since, 10)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+"/search/batch", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type statusEntry struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	User      struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
}

// statusBatchResponse pairs every result with the query it answers, so
// decoding relies on names rather than array positions.
type statusBatchResponse struct {
	Results []struct {
		Query    string        `json:"query"`
		Statuses []statusEntry `json:"statuses"`
	} `json:"results"`
}

func (s *StatusSearch) ProcessResponse(resp *http.Response) ([]*models.Item, error) {
	var payload statusBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}

	var items []*models.Item
	for _, result := range payload.Results {
		for _, st := range result.Statuses {
			created, err := time.Parse(time.RFC3339, st.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("failed to parse status timestamp %q: %w", st.CreatedAt, err)
			}
			if !s.cfg.MinDate.IsZero() && created.Before(s.cfg.MinDate) {
				continue
			}

			s.cursor.Advance(st.ID, created)

			uri := st.URL
			if uri == "" {
				uri = fmt.Sprintf("%s/status/%d", s.cfg.Endpoint, st.ID)
			}
			items = append(items, &models.Item{
				URI:    uri,
				Author: st.User.ScreenName,
				Date:   created,
				Source: models.SourceStatusSearch,
				Types:  models.ContentStatus,
				Text:   st.Text,
			})
		}
	}
	return items, nil
}

func (s *StatusSearch) RetryTime(o Outcome) time.Duration {
	return s.backoff.Next(o)
}

func (s *StatusSearch) SetInterval(d time.Duration) {
	if d < MinStatusPollInterval {
		d = MinStatusPollInterval
	}
	s.backoff.Steady = d
}
