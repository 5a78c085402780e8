package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"collage/aggregator"
	"collage/cache"
	"collage/models"
)

type ServerConfig struct {

	// Origin allowed to call the API from a browser
	AllowOrigin string

	// The aggregator serving items and accepting configuration edits
	Aggregator *aggregator.Aggregator

	// Broadcast channels to pass events to SSE clients
	Broadcaster *Broadcaster
}

// Make it sync
type Broadcaster struct {
	sync.RWMutex
	itemClients   map[string]chan models.ItemAddedEvent
	healthClients map[string]chan models.SourceHealthEvent
	purgeClients  map[string]chan models.CachePurgedEvent
}

// Constructor
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		itemClients:   make(map[string]chan models.ItemAddedEvent, 10000),
		healthClients: make(map[string]chan models.SourceHealthEvent, 10000),
		purgeClients:  make(map[string]chan models.CachePurgedEvent, 10000),
	}
}

func (b *Broadcaster) BroadcastItem(ev models.ItemAddedEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.itemClients {
		select {
		case client <- ev: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping item for client: %v", id)
		}
	}
}

func (b *Broadcaster) BroadcastHealth(ev models.SourceHealthEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.healthClients {
		select {
		case client <- ev: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping health for client: %v", id)
		}
	}
}

func (b *Broadcaster) BroadcastPurge(ev models.CachePurgedEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.purgeClients {
		select {
		case client <- ev: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping purge for client: %v", id)
		}
	}
}

// Function to add a client to the broadcaster
func (b *Broadcaster) AddClient(key string, itemClient chan models.ItemAddedEvent, healthClient chan models.SourceHealthEvent, purgeClient chan models.CachePurgedEvent) {
	b.Lock()
	defer b.Unlock()
	b.itemClients[key] = itemClient
	b.healthClients[key] = healthClient
	b.purgeClients[key] = purgeClient
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.itemClients),
	}).Info("Adding client to broadcaster")
}

// Function to remove a client from the broadcaster
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.itemClients[key]; ok {
		close(client)
		delete(b.itemClients, key)
	}

	if client, ok := b.healthClients[key]; ok {
		close(client)
		delete(b.healthClients, key)
	}

	if client, ok := b.purgeClients[key]; ok {
		close(client)
		delete(b.purgeClients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.itemClients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.itemClients {
		close(client)
		delete(b.itemClients, key)
	}
	for key, client := range b.healthClients {
		close(client)
		delete(b.healthClients, key)
	}
	for key, client := range b.purgeClients {
		close(client)
		delete(b.purgeClients, key)
	}
}

type termsBody struct {
	Terms []string `json:"terms"`
}

type filterBody struct {
	BannedWords []string `json:"bannedWords"`
	Enabled     bool     `json:"enabled"`
}

type settingsBody struct {
	Capacity         *int    `json:"capacity"`
	Order            *string `json:"order"`
	EvenDistribution *bool   `json:"evenDistribution"`
}

// Returns a fiber.App instance to be used as the HTTP API for the aggregator
func Server(config *ServerConfig) *fiber.App {

	agg := config.Aggregator
	bc := config.Broadcaster

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		// stop timer
		stop := time.Now()

		// Diff
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	if config.AllowOrigin != "" {
		app.Use(func(c *fiber.Ctx) error {
			corsConfig := cors.Config{
				AllowOrigins:     config.AllowOrigin,
				AllowHeaders:     "Cache-Control, Content-Type",
				AllowCredentials: true,
			}
			return cors.New(corsConfig)(c)
		})
	}

	app.Get("/api/next", func(c *fiber.Ctx) error {
		mask := models.ContentAny
		if types := c.Query("types", ""); types != "" {
			mask = models.ParseContentType(types)
			if mask == 0 {
				return c.Status(400).SendString("Invalid types")
			}
		}

		item := agg.GetNextItem(mask)
		if item == nil {
			return c.Status(204).Send(nil)
		}
		return c.JSON(item)
	})

	app.Get("/api/items", func(c *fiber.Ctx) error {
		limit, err := strconv.ParseInt(c.Query("limit", "100"), 0, 32)
		if err != nil || limit < 1 {
			limit = 100
		}

		items := agg.Snapshot()
		if int64(len(items)) > limit {
			items = items[int64(len(items))-limit:]
		}
		return c.JSON(items)
	})

	app.Put("/api/terms/:category", func(c *fiber.Ctx) error {
		var body termsBody
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(400).SendString("Invalid body")
		}

		category := c.Params("category")
		if err := agg.SetTerms(category, body.Terms); err != nil {
			log.WithFields(log.Fields{
				"category": category,
				"error":    err,
			}).Error("Error updating terms")
			return c.Status(400).SendString(err.Error())
		}

		log.WithFields(log.Fields{
			"category": category,
			"count":    len(body.Terms),
		}).Info("Updated terms")
		return c.Status(200).SendString("OK")
	})

	app.Put("/api/filter", func(c *fiber.Ctx) error {
		var body filterBody
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(400).SendString("Invalid body")
		}

		if err := agg.SetProfanity(body.BannedWords, body.Enabled); err != nil {
			return c.Status(400).SendString(err.Error())
		}

		log.WithFields(log.Fields{
			"words":   len(body.BannedWords),
			"enabled": body.Enabled,
		}).Info("Updated profanity filter")
		return c.Status(200).SendString("OK")
	})

	app.Put("/api/settings", func(c *fiber.Ctx) error {
		var body settingsBody
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(400).SendString("Invalid body")
		}

		if body.Order != nil {
			agg.SetOrder(cache.ParseOrder(*body.Order))
		}
		if body.EvenDistribution != nil {
			agg.SetEvenDistribution(*body.EvenDistribution)
		}
		if body.Capacity != nil {
			if *body.Capacity < 1 {
				return c.Status(400).SendString("Invalid capacity")
			}
			agg.SetCapacity(*body.Capacity)
		}

		return c.Status(200).SendString("OK")
	})

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(agg.Health())
	})

	app.Delete("/api/events", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/api/events", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		sseItemChannel := make(chan models.ItemAddedEvent, 10) // Buffered channel
		sseHealthChannel := make(chan models.SourceHealthEvent, 10)
		ssePurgeChannel := make(chan models.CachePurgedEvent, 10)
		aliveChan := time.NewTicker(5 * time.Second)

		defer aliveChan.Stop()

		// Register the client
		bc.AddClient(key, sseItemChannel, sseHealthChannel, ssePurgeChannel)

		// Cleanup function
		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			// Start streaming loop
			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case ev, ok := <-sseItemChannel:
					if !ok {
						log.Warnf("ItemChannel closed for client %s", key)
						return
					}
					jsonItem, err := json.Marshal(ev.Item)
					if err != nil {
						log.Errorf("Error marshalling item for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: item-added\ndata: %s\n\n", jsonItem); err != nil {
						log.Warnf("Failed to send item-added event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush item-added event for client %s: %v", key, err)
						return
					}

				case ev, ok := <-sseHealthChannel:
					if !ok {
						log.Warnf("HealthChannel closed for client %s", key)
						return
					}
					jsonHealth, err := json.Marshal(ev)
					if err != nil {
						log.Errorf("Error marshalling health for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: source-health\ndata: %s\n\n", jsonHealth); err != nil {
						log.Warnf("Failed to send source-health event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush source-health event for client %s: %v", key, err)
						return
					}

				case ev, ok := <-ssePurgeChannel:
					if !ok {
						log.Warnf("PurgeChannel closed for client %s", key)
						return
					}
					jsonPurge, err := json.Marshal(ev.Remaining)
					if err != nil {
						log.Errorf("Error marshalling purge snapshot for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: cache-purged\ndata: %s\n\n", jsonPurge); err != nil {
						log.Warnf("Failed to send cache-purged event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush cache-purged event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}
