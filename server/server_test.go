package server_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collage/aggregator"
	"collage/config"
	"collage/models"
	"collage/server"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	agg, err := aggregator.New(aggregator.Options{Config: &config.Config{}})
	require.NoError(t, err)
	return server.Server(&server.ServerConfig{
		Aggregator:  agg,
		Broadcaster: server.NewBroadcaster(),
	})
}

func TestNextEmptyCacheReturnsNoContent(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/next", nil))
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}

func TestNextRejectsUnknownTypes(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/next?types=bogus", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestTermsRejectsUnknownCategory(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("PUT", "/api/terms/videos", strings.NewReader(`{"terms":["cats"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHealthEmpty(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestBroadcasterDeliversAllEventKinds(t *testing.T) {
	bc := server.NewBroadcaster()

	itemChan := make(chan models.ItemAddedEvent, 1)
	healthChan := make(chan models.SourceHealthEvent, 1)
	purgeChan := make(chan models.CachePurgedEvent, 1)
	bc.AddClient("client-1", itemChan, healthChan, purgeChan)

	bc.BroadcastItem(models.ItemAddedEvent{Item: &models.Item{URI: "uri:1"}})
	bc.BroadcastHealth(models.SourceHealthEvent{Source: models.SourceNews, Up: true})
	bc.BroadcastPurge(models.CachePurgedEvent{Remaining: []*models.Item{{URI: "uri:1"}}})

	select {
	case ev := <-itemChan:
		assert.Equal(t, "uri:1", ev.Item.URI)
	case <-time.After(time.Second):
		t.Fatal("item event not delivered")
	}
	select {
	case ev := <-healthChan:
		assert.True(t, ev.Up)
	case <-time.After(time.Second):
		t.Fatal("health event not delivered")
	}
	select {
	case ev := <-purgeChan:
		require.Len(t, ev.Remaining, 1)
		assert.Equal(t, "uri:1", ev.Remaining[0].URI)
	case <-time.After(time.Second):
		t.Fatal("purge event not delivered")
	}
}

func TestBroadcasterRemoveClientClosesChannels(t *testing.T) {
	bc := server.NewBroadcaster()

	itemChan := make(chan models.ItemAddedEvent, 1)
	healthChan := make(chan models.SourceHealthEvent, 1)
	purgeChan := make(chan models.CachePurgedEvent, 1)
	bc.AddClient("client-1", itemChan, healthChan, purgeChan)
	bc.RemoveClient("client-1")

	_, open := <-itemChan
	assert.False(t, open)
	_, open = <-healthChan
	assert.False(t, open)
	_, open = <-purgeChan
	assert.False(t, open)

	// Broadcasts after removal must not panic on closed channels.
	bc.BroadcastPurge(models.CachePurgedEvent{})
}
