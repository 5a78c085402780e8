package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"collage/models"
)

// Cooldown windows documented by the image provider for its rate-limit
// and maintenance statuses.
var imageCooldowns = map[int]time.Duration{
	420: 2 * time.Minute,
	429: 5 * time.Minute,
	503: 10 * time.Minute,
}

// MaxImageQueryLen is the provider's limit on the combined free-text
// query; the router packs inclusion terms under this bound.
const MaxImageQueryLen = 200

// MinImagePollInterval is the provider-mandated floor on the steady poll
// interval; configured intervals below it are clamped.
const MinImagePollInterval = 10 * time.Second

// ImageSearchConfig configures one image search feed. Exactly one of
// Text, UserID or GroupID is normally set.
type ImageSearchConfig struct {
	Endpoint string
	APIKey   string
	Text     string
	UserID   string
	GroupID  string
	PerPage  int
	MinDate  time.Time
	Interval time.Duration
}

// ImageSearch polls the image provider's paged JSON search API.
type ImageSearch struct {
	cfg     ImageSearchConfig
	cursor  PageCursor
	backoff *Backoff
}

// NewImageSearch validates credentials up front; a missing key is a
// construction error, not something to retry forever.
func NewImageSearch(cfg ImageSearchConfig) (*ImageSearch, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("image search requires an api key")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("image search requires an endpoint")
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 50
	}
	if cfg.Interval < MinImagePollInterval {
		cfg.Interval = MinImagePollInterval
	}
	return &ImageSearch{
		cfg:     cfg,
		backoff: NewBackoff(cfg.Interval, imageCooldowns),
	}, nil
}

func (s *ImageSearch) Source() models.SourceType { return models.SourceImageSearch }

func (s *ImageSearch) Query() string {
	switch {
	case s.cfg.UserID != "":
		return "user:" + s.cfg.UserID
	case s.cfg.GroupID != "":
		return "group:" + s.cfg.GroupID
	}
	return s.cfg.Text
}

func (s *ImageSearch) BuildRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(s.cfg.Endpoint + "/search")
	if err != nil {
		return nil, fmt.Errorf("invalid image endpoint: %w", err)
	}

	q := u.Query()
	q.Set("api_key", s.cfg.APIKey)
	q.Set("per_page", strconv.Itoa(s.cfg.PerPage))
	q.Set("sort", "date-posted-desc")
	if s.cfg.Text != "" {
		q.Set("text", s.cfg.Text)
	}
	if s.cfg.UserID != "" {
		q.Set("user_id", s.cfg.UserID)
	}
	if s.cfg.GroupID != "" {
		q.Set("group_id", s.cfg.GroupID)
	}

	// Window lower bound: configured min date until the cursor advances.
	minUpload := s.cfg.MinDate
	if cur := s.cursor.MinUpload(); cur.After(minUpload) {
		minUpload = cur
	}
	if !minUpload.IsZero() {
		q.Set("min_upload_date", strconv.FormatInt(minUpload.Unix(), 10))
	}
	u.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

type imagePhoto struct {
	ID         int64  `json:"id"`
	OwnerName  string `json:"ownername"`
	Title      string `json:"title"`
	PageURL    string `json:"page_url"`
	ThumbURL   string `json:"url_t"`
	LargeURL   string `json:"url_l"`
	DateUpload int64  `json:"dateupload"`
}

type imageSearchResponse struct {
	Photos struct {
		Photo []imagePhoto `json:"photo"`
	} `json:"photos"`
	Stat    string `json:"stat"`
	Message string `json:"message"`
}

func (s *ImageSearch) ProcessResponse(resp *http.Response) ([]*models.Item, error) {
	var payload imageSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode image search response: %w", err)
	}
	if payload.Stat != "" && payload.Stat != "ok" {
		return nil, fmt.Errorf("image search returned stat %q: %s", payload.Stat, payload.Message)
	}

	var items []*models.Item
	for _, photo := range payload.Photos.Photo {
		uploaded := time.Unix(photo.DateUpload, 0)
		if !s.cfg.MinDate.IsZero() && uploaded.Before(s.cfg.MinDate) {
			continue
		}

		// Advance pacing before the next request is scheduled.
		s.cursor.Advance(photo.ID, uploaded)

		uri := photo.PageURL
		if uri == "" {
			uri = photo.LargeURL
		}
		if uri == "" {
			continue
		}
		items = append(items, &models.Item{
			URI:          uri,
			Author:       photo.OwnerName,
			Date:         uploaded,
			Source:       models.SourceImageSearch,
			Types:        models.ContentImage,
			Caption:      photo.Title,
			ThumbnailURL: photo.ThumbURL,
			ImageURL:     photo.LargeURL,
		})
	}
	return items, nil
}

func (s *ImageSearch) RetryTime(o Outcome) time.Duration {
	return s.backoff.Next(o)
}

func (s *ImageSearch) SetInterval(d time.Duration) {
	if d < MinImagePollInterval {
		d = MinImagePollInterval
	}
	s.backoff.Steady = d
}
