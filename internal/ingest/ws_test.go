package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"candleflow/internal/model"
)

// tickServer serves one tick per connection and then drops it, forcing the
// feed to reconnect.
func tickServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"market":"BTC-USD","ts":60000,"open":100,"high":101,"low":99,"close":100,"volume":10}`))
		conn.Close()
	}))
}

func TestFeedSignalsConnectedOnEveryDial(t *testing.T) {
	srv := tickServer(t)
	defer srv.Close()

	f, err := New(Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("feed init: %v", err)
	}

	connected := make(chan struct{}, 16)
	f.OnConnected = func() { connected <- struct{}{} }

	tickCh := make(chan model.Tick, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Start(ctx, tickCh)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first connect")
	}

	select {
	case tick := <-tickCh:
		if tick.Market != "BTC-USD" || tick.TS != 60_000 {
			t.Errorf("unexpected tick %+v", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the tick")
	}

	// The server dropped the connection after one tick. The feed must dial
	// again and signal connected again, not stay marked disconnected.
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("no connected signal after reconnect")
	}
}
