package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collage/filter"
	"collage/models"
	"collage/router"
)

type stubResolver map[string]string

func (s stubResolver) Resolve(_ context.Context, kind, name string) (string, error) {
	if id, ok := s[kind+":"+name]; ok {
		return id, nil
	}
	return "0", nil
}

func TestPartitionTerms(t *testing.T) {
	p := router.PartitionTerms([]string{
		"sunset", "@alice", "&hiking-club", "!@spammer", "!casino", "mountains", "", "  ",
	})

	assert.Equal(t, []string{"sunset", "mountains"}, p.Plain)
	assert.Equal(t, []string{"alice"}, p.Authors)
	assert.Equal(t, []string{"hiking-club"}, p.Groups)
	assert.Equal(t, []string{"!@spammer", "!casino"}, p.Negatives)
}

func TestPackTerms(t *testing.T) {
	tests := []struct {
		name   string
		terms  []string
		maxLen int
		want   []string
	}{
		{
			name:   "all fit in one query",
			terms:  []string{"a", "b", "c"},
			maxLen: 20,
			want:   []string{"a OR b OR c"},
		},
		{
			name:   "split at the limit",
			terms:  []string{"alpha", "beta", "gamma"},
			maxLen: 13,
			want:   []string{"alpha OR beta", "gamma"},
		},
		{
			name:   "oversized term gets its own query",
			terms:  []string{"short", "averyveryverylongterm"},
			maxLen: 10,
			want:   []string{"short", "averyveryverylongterm"},
		},
		{
			name:   "empty input",
			terms:  nil,
			maxLen: 10,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, router.PackTerms(tt.terms, tt.maxLen))
		})
	}
}

func newTestRouter(t *testing.T, refilter func()) (*router.Router, *filter.Engine) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	engine := filter.NewEngine()
	r := router.New(router.Config{
		Providers: router.ProviderConfig{
			ImageEndpoint:  server.URL,
			ImageAPIKey:    "test-key",
			StatusEndpoint: server.URL,
			GraphEndpoint:  server.URL,
			NewsEndpoint:   server.URL,
		},
		Intervals: map[router.Category]time.Duration{
			router.CategoryImages: time.Hour,
			router.CategoryStatus: time.Hour,
			router.CategoryNews:   time.Hour,
		},
		Client:    server.Client(),
		Directory: stubResolver{"user:alice": "42", "group:hikers": "77"},
		Engine:    engine,
		Emit:      func(*models.Item) {},
		Refilter:  refilter,
	})
	return r, engine
}

func TestSetTermsSpawnsExpectedFeeds(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	r.Start(context.Background())
	defer r.Stop()

	// Both inclusion terms fit one packed query; the author and group
	// terms each get a dedicated feed.
	err := r.SetTerms(router.CategoryImages, []string{"sunset", "mountains", "@alice", "&hikers"})
	require.NoError(t, err)
	assert.Equal(t, 3, r.FeedCount(router.CategoryImages))
}

func TestNegativeTermsNeverSpawnFeeds(t *testing.T) {
	refiltered := 0
	r, engine := newTestRouter(t, func() { refiltered++ })
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, r.SetTerms(router.CategoryStatus, []string{"!@spammer", "!casino"}))
	assert.Equal(t, 0, r.FeedCount(router.CategoryStatus))
	assert.Equal(t, 1, refiltered)

	// The rules reached the engine.
	it := models.Item{Author: "spammer", Text: "hello"}
	assert.Equal(t, models.SuppressAuthor, engine.Evaluate(&it))
}

func TestEditRebuildsFromScratch(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, r.SetTerms(router.CategoryNews, []string{"science", "space"}))
	first := r.FeedCount(router.CategoryNews)
	require.Greater(t, first, 0)

	require.NoError(t, r.SetTerms(router.CategoryNews, []string{"politics"}))
	assert.Equal(t, 1, r.FeedCount(router.CategoryNews))

	require.NoError(t, r.SetTerms(router.CategoryNews, nil))
	assert.Equal(t, 0, r.FeedCount(router.CategoryNews))
}

func TestSetTermsOnStoppedRouter(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	assert.Error(t, r.SetTerms(router.CategoryImages, []string{"sunset"}))

	r.Start(context.Background())
	require.NoError(t, r.SetTerms(router.CategoryImages, []string{"sunset"}))
	r.Stop()
	assert.Equal(t, 0, r.FeedCount(router.CategoryImages))
	assert.Error(t, r.SetTerms(router.CategoryImages, []string{"sunset"}))
}

type blockingResolver struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingResolver) Resolve(ctx context.Context, kind, name string) (string, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return "42", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSlowResolveDoesNotHoldRouterLock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	resolver := &blockingResolver{entered: make(chan struct{}), release: make(chan struct{})}
	r := router.New(router.Config{
		Providers: router.ProviderConfig{ImageEndpoint: server.URL, ImageAPIKey: "test-key"},
		Client:    server.Client(),
		Directory: resolver,
		Engine:    filter.NewEngine(),
		Emit:      func(*models.Item) {},
	})
	r.Start(context.Background())
	defer r.Stop()

	done := make(chan error, 1)
	go func() { done <- r.SetTerms(router.CategoryImages, []string{"@alice"}) }()

	<-resolver.entered

	// FeedCount takes the router lock; it must not wait on the lookup.
	counted := make(chan int, 1)
	go func() { counted <- r.FeedCount(router.CategoryImages) }()
	select {
	case n := <-counted:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("router lock held across directory lookup")
	}

	close(resolver.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, r.FeedCount(router.CategoryImages))
}

func TestStopIsIdempotent(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	r.Start(context.Background())
	require.NoError(t, r.SetTerms(router.CategoryStatus, []string{"golang"}))
	r.Stop()
	r.Stop()
}
