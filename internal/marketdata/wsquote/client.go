// Package wsquote keeps the latest traded price per symbol from a websocket
// quote feed.
//
// Protocol: after connecting the client sends
//
//	{"action":"subscribe","symbols":["INFY","TCS"]}
//
// and expects text frames of the form
//
//	{"symbol":"INFY","price":1512.4,"ts":1715074200000}
//
// where ts is epoch milliseconds (optional).
package wsquote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoQuote is returned when no fresh quote arrived in time.
var ErrNoQuote = errors.New("wsquote: no quote")

// Quote is the last traded price of a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"-"`
}

type wireQuote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"`
}

// Config configures the quote client.
type Config struct {
	URL      string
	Symbols  []string
	Header   http.Header
	MaxAge   time.Duration // quotes older than this are ignored (default 1m)
	Wait     time.Duration // CurrentPrice waits this long for a first quote (default 5s)
	MinRetry time.Duration // initial reconnect delay (default 1s)
	MaxRetry time.Duration // reconnect delay cap (default 30s)
}

// Client maintains a reconnecting subscription.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	now    func() time.Time

	mu      sync.RWMutex
	quotes  map[string]Quote
	updated chan struct{} // closed and replaced on every quote

	OnReconnect func()
}

// New returns a client; call Run to connect.
func New(cfg Config) *Client {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = time.Minute
	}
	if cfg.Wait == 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.MinRetry == 0 {
		cfg.MinRetry = time.Second
	}
	if cfg.MaxRetry == 0 {
		cfg.MaxRetry = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
		quotes:  make(map[string]Quote),
		updated: make(chan struct{}),
	}
}

// Run connects and reads quotes until ctx is cancelled, reconnecting with
// exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.MinRetry
	for {
		start := c.now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("[wsquote] connection lost: %v", err)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		if c.now().Sub(start) > c.cfg.MaxRetry {
			delay = c.cfg.MinRetry
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.MaxRetry {
			delay = c.cfg.MaxRetry
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	sub := map[string]any{"action": "subscribe", "symbols": c.cfg.Symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[wsquote] connected to %s, subscribed %v", c.cfg.URL, c.cfg.Symbols)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var w wireQuote
		if err := json.Unmarshal(msg, &w); err != nil || w.Symbol == "" || w.Price <= 0 {
			continue
		}
		ts := c.now()
		if w.TS > 0 {
			ts = time.UnixMilli(w.TS)
		}
		c.store(Quote{Symbol: w.Symbol, Price: w.Price, TS: ts.UTC()})
	}
}

func (c *Client) store(q Quote) {
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	close(c.updated)
	c.updated = make(chan struct{})
	c.mu.Unlock()
}

// Latest returns the last quote of symbol, if any.
func (c *Client) Latest(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// CurrentPrice returns the latest fresh price, waiting up to Wait for one.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	timer := time.NewTimer(c.cfg.Wait)
	defer timer.Stop()
	for {
		c.mu.RLock()
		q, ok := c.quotes[symbol]
		updated := c.updated
		c.mu.RUnlock()
		if ok && c.now().Sub(q.TS) <= c.cfg.MaxAge {
			return q.Price, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
			return 0, fmt.Errorf("%w for %s within %s", ErrNoQuote, symbol, c.cfg.Wait)
		case <-updated:
		}
	}
}
