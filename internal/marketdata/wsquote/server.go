package wsquote

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Server is the feed side of the protocol: it accepts subscriptions and
// fans published quotes out to the subscribers of each symbol. Slow
// subscribers lose quotes rather than block Publish.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	ch      chan []byte
	symbols map[string]bool // empty means all symbols
}

// NewServer returns a server accepting any origin.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]*subscriber),
	}
}

// ServeHTTP upgrades the request, waits for the subscribe message and then
// writes quotes until the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[quoteserver] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	var sub struct {
		Action  string   `json:"action"`
		Symbols []string `json:"symbols"`
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&sub); err != nil || sub.Action != "subscribe" {
		log.Printf("[quoteserver] %s: bad subscribe: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	sc := &subscriber{ch: make(chan []byte, 256), symbols: make(map[string]bool, len(sub.Symbols))}
	for _, sym := range sub.Symbols {
		sc.symbols[strings.ToUpper(sym)] = true
	}
	s.mu.Lock()
	s.clients[conn] = sc
	s.mu.Unlock()
	log.Printf("[quoteserver] client connected: %s %v", r.RemoteAddr, sub.Symbols)

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		log.Printf("[quoteserver] client disconnected: %s", r.RemoteAddr)
	}()

	// reader: only used to notice the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg := <-sc.ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// Publish sends q to every subscriber of q.Symbol.
func (s *Server) Publish(q Quote) {
	ts := q.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	b, err := json.Marshal(wireQuote{Symbol: q.Symbol, Price: q.Price, TS: ts.UnixMilli()})
	if err != nil {
		return
	}
	sym := strings.ToUpper(q.Symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.clients {
		if len(sc.symbols) > 0 && !sc.symbols[sym] {
			continue
		}
		select {
		case sc.ch <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// Clients returns the number of subscribed connections.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped returns the number of quotes dropped for slow subscribers.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }
