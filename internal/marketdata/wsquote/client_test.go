package wsquote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quoteServer accepts a subscription and replies with frames.
func quoteServer(t *testing.T, frames []string, conns *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)

		var sub struct {
			Action  string   `json:"action"`
			Symbols []string `json:"symbols"`
		}
		if err := conn.ReadJSON(&sub); err != nil || sub.Action != "subscribe" {
			return
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCurrentPriceFromFeed(t *testing.T) {
	var conns atomic.Int32
	now := time.Now()
	frames := []string{
		`not json`,
		`{"symbol":"INFY","price":1500}`,
		`{"symbol":"INFY","price":1512.4}`,
		`{"symbol":"TCS","price":3900.5,"ts":` + strconv.FormatInt(now.UnixMilli(), 10) + `}`,
	}
	srv := quoteServer(t, frames, &conns)

	c := New(Config{URL: wsURL(srv), Symbols: []string{"INFY", "TCS"}, Wait: 2 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	price, err := c.CurrentPrice(ctx, "TCS")
	require.NoError(t, err)
	assert.Equal(t, 3900.5, price)

	q, ok := c.Latest("INFY")
	require.True(t, ok)
	assert.Equal(t, 1512.4, q.Price)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(1), conns.Load())
}

func TestCurrentPriceTimesOut(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", Wait: 20 * time.Millisecond})
	_, err := c.CurrentPrice(context.Background(), "INFY")
	assert.True(t, errors.Is(err, ErrNoQuote))
}

func TestStaleQuoteIgnored(t *testing.T) {
	c := New(Config{URL: "ws://unused", MaxAge: time.Minute, Wait: 20 * time.Millisecond})
	c.store(Quote{Symbol: "INFY", Price: 10, TS: time.Now().Add(-2 * time.Minute)})
	_, err := c.CurrentPrice(context.Background(), "INFY")
	assert.True(t, errors.Is(err, ErrNoQuote))

	c.store(Quote{Symbol: "INFY", Price: 11, TS: time.Now()})
	price, err := c.CurrentPrice(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, 11.0, price)
}

func TestRunReconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		conn.Close() // drop immediately
	}))
	defer srv.Close()

	var reconnects atomic.Int32
	c := New(Config{URL: wsURL(srv), MinRetry: 5 * time.Millisecond, MaxRetry: 10 * time.Millisecond})
	c.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
	assert.GreaterOrEqual(t, reconnects.Load(), int32(2))
}

func TestServerRoutesQuotesBySymbol(t *testing.T) {
	qs := NewServer()
	srv := httptest.NewServer(qs)
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), Symbols: []string{"infy"}, Wait: 2 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return qs.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	qs.Publish(Quote{Symbol: "TCS", Price: 3900})
	qs.Publish(Quote{Symbol: "INFY", Price: 1501.5})

	price, err := c.CurrentPrice(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 1501.5, price)
	_, ok := c.Latest("TCS")
	assert.False(t, ok, "unsubscribed symbol not delivered")

	cancel()
	require.Eventually(t, func() bool { return qs.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
