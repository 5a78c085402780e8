package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/labstack/gommon/log"
)

// Resolver turns a human-readable author or group name into the
// provider's internal id.
type Resolver interface {
	Resolve(ctx context.Context, kind, name string) (string, error)
}

// Directory is an explicit name→id lookup cache with a defined
// lifetime: construct it once and pass it into every source that needs
// lookups, instead of sharing process-wide mutable state.
type Directory struct {
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	ids map[string]string
}

func NewDirectory(endpoint string, client *http.Client) *Directory {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Directory{
		endpoint: endpoint,
		client:   client,
		ids:      make(map[string]string),
	}
}

// Resolve looks up the id for a name of the given kind ("user" or
// "group"), consulting the cache first.
func (d *Directory) Resolve(ctx context.Context, kind, name string) (string, error) {
	key := kind + ":" + name

	d.mu.Lock()
	if id, ok := d.ids[key]; ok {
		d.mu.Unlock()
		return id, nil
	}
	d.mu.Unlock()

	u, err := url.Parse(d.endpoint + "/lookup")
	if err != nil {
		return "", fmt.Errorf("invalid directory endpoint: %w", err)
	}
	q := u.Query()
	q.Set("kind", kind)
	q.Set("name", name)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build lookup request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup for %s %q returned status %d", kind, name, resp.StatusCode)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if payload.ID == "" {
		return "", fmt.Errorf("no id found for %s %q", kind, name)
	}

	d.mu.Lock()
	d.ids[key] = payload.ID
	d.mu.Unlock()

	log.Debugf("resolved %s %q to id %s", kind, name, payload.ID)
	return payload.ID, nil
}
