package ingest

import (
	"context"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"candleflow/internal/model"
)

// Config holds configuration for the WebSocket feed adapter.
type Config struct {
	// URL of the candle tick feed, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Feed connects to a JSON tick feed and pushes normalized ticks into tickCh.
// Reconnect/backoff lives here at the boundary; the core pipeline only ever
// sees canonical ticks.
type Feed struct {
	cfg Config

	// Optional hooks
	OnConnected func() // fired after every successful dial, including re-dials
	OnReconnect func()
	OnMalformed func()
	OnDropped   func()
}

// New creates a Feed. Returns an error if the URL is unparseable.
func New(cfg Config) (*Feed, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Feed{cfg: cfg}, nil
}

// Start streams ticks into tickCh until ctx is cancelled.
// Reconnects automatically with exponential backoff on disconnect.
func (f *Feed) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := f.runOnce(ctx, tickCh)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[ingest] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancellation.
func (f *Feed) runOnce(ctx context.Context, tickCh chan<- model.Tick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[ingest] connected to %s", f.cfg.URL)
	if f.OnConnected != nil {
		f.OnConnected()
	}

	// Async context watcher — closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		tick, err := Normalize(raw)
		if err != nil {
			// Malformed ticks are filtered, not errored
			if f.OnMalformed != nil {
				f.OnMalformed()
			}
			continue
		}

		select {
		case tickCh <- tick:
		default:
			if f.OnDropped != nil {
				f.OnDropped()
			} else {
				log.Println("[ingest] tickCh full, dropping tick")
			}
		}
	}
}
