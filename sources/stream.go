package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"collage/models"
)

var (
	wsConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collage_stream_connection_attempts_total",
		Help: "The total number of connection attempts to the status stream",
	})

	wsConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collage_stream_connection_errors_total",
		Help: "The total number of stream connection errors encountered",
	})

	wsCurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collage_stream_current_connections",
		Help: "The current number of active stream connections",
	})

	wsMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collage_stream_messages_total",
		Help: "The total number of messages read from the status stream",
	})
)

const (
	wsReadBufferSize  = 1024 * 1024 // 1MB
	wsWriteBufferSize = 1024        // 1KB
	wsReadTimeout     = 60 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

// StreamConfig holds configuration for the persistent status stream.
type StreamConfig struct {
	// Hosts is a list of stream endpoints to try in order.
	Hosts     []string
	Track     []string
	Compress  bool
	UserAgent string
	MinDate   time.Time
}

// Stream is the long-lived streaming source. Unlike the polled sources
// it is not timer-driven: it holds one persistent connection inside its
// own goroutine and reads discrete messages until stopped, sleeping per
// the reconnect backoff between attempts.
type Stream struct {
	cfg     StreamConfig
	emit    func(*models.Item)
	health  func(models.SourceHealthEvent)
	decoder *zstd.Decoder

	lastSuccess time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewStream(cfg StreamConfig, emit func(*models.Item), health func(models.SourceHealthEvent)) (*Stream, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("no stream hosts provided")
	}

	s := &Stream{cfg: cfg, emit: emit, health: health}
	if cfg.Compress {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		s.decoder = decoder
	}
	return s, nil
}

func (s *Stream) Source() models.SourceType { return models.SourceStatusStream }

func (s *Stream) Query() string { return strings.Join(s.cfg.Track, ",") }

// RetryTime always reports "immediately": this source paces itself with
// the reconnect sleep inside its own loop, a quirk of the streaming
// provider rather than a pattern the polled sources share.
func (s *Stream) RetryTime(Outcome) time.Duration { return 0 }

// Start launches the connect/read loop.
func (s *Stream) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0 // Never stop retrying

	hostIdx := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		host := s.cfg.Hosts[hostIdx]
		conn, err := s.dial(ctx, host)
		if err != nil {
			wsConnectionErrors.Inc()
			s.reportHealth(false)
			log.Errorf("Error connecting to stream host %s: %s", host, err)

			// Fail over to the next host, but keep escalating the sleep:
			// the backoff resets only on a successful connect, so a fully
			// unreachable host list never turns into a tight redial loop.
			next := (hostIdx + 1) % len(s.cfg.Hosts)
			if next != hostIdx {
				log.Infof("Switching from stream host %s to %s", host, s.cfg.Hosts[next])
				hostIdx = next
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		bo.Reset()
		wsCurrentConnections.Inc()
		s.reportHealth(true)

		// Closing the connection on cancel unblocks a pending read, so
		// Stop never waits out the read deadline.
		detach := context.AfterFunc(ctx, func() { conn.Close() })
		s.readLoop(ctx, conn)
		detach()

		wsCurrentConnections.Dec()
		conn.Close()

		s.reportHealth(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (s *Stream) dial(ctx context.Context, host string) (*websocket.Conn, error) {
	wsConnectionAttempts.Inc()

	dialer := websocket.Dialer{
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
		HandshakeTimeout: 45 * time.Second,
		NetDialContext: (&net.Dialer{
			Timeout:   45 * time.Second,
			KeepAlive: 45 * time.Second,
		}).DialContext,
	}

	u, err := url.Parse(host + "/stream")
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream URL: %w", err)
	}
	q := u.Query()
	for _, term := range s.cfg.Track {
		q.Add("track", term)
	}
	if s.cfg.Compress {
		q.Set("compress", "true")
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if s.cfg.UserAgent != "" {
		headers.Set("User-Agent", s.cfg.UserAgent)
	}
	if s.cfg.Compress {
		headers.Set("Accept-Encoding", "zstd")
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go s.managePing(ctx, conn)
	return conn, nil
}

func (s *Stream) managePing(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Warn("Ping failed, closing connection for restart: ", err)
				wsConnectionErrors.Inc()
				conn.Close()
				return
			}
		}
	}
}

// readLoop reads discrete messages until the connection breaks or the
// context is cancelled. A malformed message is logged and skipped; it
// must never end the stream.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("Unexpected stream close: %v", err)
			}
			wsConnectionErrors.Inc()
			return
		}
		wsMessages.Inc()

		if err := s.handleMessage(data); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Skipping unparseable stream message")
			continue
		}

		s.lastSuccess = time.Now()
	}
}

type streamStatus struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	User      struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
}

func (s *Stream) handleMessage(data []byte) error {
	if s.decoder != nil {
		decoded, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress message: %w", err)
		}
		data = decoded
	}

	var st streamStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal status: %w", err)
	}
	if st.Text == "" {
		// Keep-alive or delete notice, nothing to aggregate.
		return nil
	}

	created, err := time.Parse(time.RFC3339, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to parse status timestamp %q: %w", st.CreatedAt, err)
	}
	if !s.cfg.MinDate.IsZero() && created.Before(s.cfg.MinDate) {
		return nil
	}

	uri := st.URL
	if uri == "" {
		uri = fmt.Sprintf("stream:status:%d", st.ID)
	}

	s.emit(&models.Item{
		URI:    uri,
		Author: st.User.ScreenName,
		Date:   created,
		Source: models.SourceStatusStream,
		Types:  models.ContentStatus,
		Text:   st.Text,
	})
	return nil
}

func (s *Stream) reportHealth(up bool) {
	if s.health == nil {
		return
	}
	s.health(models.SourceHealthEvent{
		Source:      models.SourceStatusStream,
		Query:       s.Query(),
		Up:          up,
		LastSuccess: s.lastSuccess,
	})
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		<-done
	})
}
