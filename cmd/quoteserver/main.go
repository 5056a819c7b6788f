// cmd/quoteserver is a staging quote feed for cmd/paper. It serves the
// wsquote protocol and either replays the closes of a CSV bar file or
// random-walks a starting price per symbol.
//
// Config (env vars):
//
//	QUOTE_SERVER_ADDR  listen address (default ":9001")
//	QUOTE_SYMBOLS      comma-separated SYMBOL[:PRICE] pairs (default "NIFTY:22500")
//	QUOTE_INTERVAL_MS  random-walk period in milliseconds (default 500)
//	QUOTE_CSV          bar file to replay instead of the random walk
//	QUOTE_SPEED        replay speed multiplier (default 60)
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"papertrader/internal/marketdata"
	"papertrader/internal/marketdata/wsquote"
	"papertrader/internal/markethours"
	"papertrader/internal/model"
)

type instrument struct {
	Symbol string
	Price  float64
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[quoteserver] starting...")

	addr := envOrDefault("QUOTE_SERVER_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("QUOTE_SYMBOLS", "NIFTY:22500"))
	if len(instruments) == 0 {
		log.Fatalf("[quoteserver] no instruments configured via QUOTE_SYMBOLS")
	}
	intervalMs := envIntOrDefault("QUOTE_INTERVAL_MS", 500)
	csvPath := os.Getenv("QUOTE_CSV")
	speed, err := strconv.ParseFloat(envOrDefault("QUOTE_SPEED", "60"), 64)
	if err != nil {
		log.Fatalf("[quoteserver] QUOTE_SPEED: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	qs := wsquote.NewServer()
	mux := http.NewServeMux()
	mux.Handle("/ws", qs)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","service":"quoteserver","clients":%d,"dropped":%d}`+"\n", qs.Clients(), qs.Dropped())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if csvPath != "" {
		for _, in := range instruments {
			go replayCSV(ctx, qs, csvPath, in.Symbol, speed)
		}
	} else {
		go randomWalk(ctx, qs, instruments, time.Duration(intervalMs)*time.Millisecond)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[quoteserver] listening on %s (ws://localhost%s/ws) symbols=%v", addr, addr, instruments)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("[quoteserver] server error: %v", err)
	}
	log.Println("[quoteserver] shutdown complete.")
}

// walkPrice applies a random step of up to ±0.1%.
func walkPrice(rng *rand.Rand, price float64) float64 {
	next := price * (1 + (rng.Float64()*0.2-0.1)/100)
	if next < 0.01 {
		next = 0.01
	}
	return float64(int64(next*100+0.5)) / 100
}

func randomWalk(ctx context.Context, qs *wsquote.Server, instruments []instrument, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i].Price)
			qs.Publish(wsquote.Quote{Symbol: instruments[i].Symbol, Price: instruments[i].Price})
		}
	}
}

// replayCSV publishes the close of every bar, stamped with the wall clock so
// subscribers treat them as fresh.
func replayCSV(ctx context.Context, qs *wsquote.Server, path, symbol string, speed float64) {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("[quoteserver] %v", err)
		return
	}
	bars, err := marketdata.ReadBarsCSV(f, symbol, markethours.IST)
	f.Close()
	if err != nil {
		log.Printf("[quoteserver] %s: %v", path, err)
		return
	}
	err = marketdata.Replay(ctx, bars, speed, func(b model.Bar) error {
		qs.Publish(wsquote.Quote{Symbol: symbol, Price: b.Close})
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("[quoteserver] replay %s: %v", symbol, err)
	}
	log.Printf("[quoteserver] replay of %s finished (%d bars)", symbol, len(bars))
}

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, _ := strings.Cut(part, ":")
		price := 1000.0
		if priceStr != "" {
			p, err := strconv.ParseFloat(priceStr, 64)
			if err != nil || p <= 0 {
				log.Printf("[quoteserver] skipping invalid symbol entry: %q", part)
				continue
			}
			price = p
		}
		result = append(result, instrument{Symbol: strings.ToUpper(strings.TrimSpace(sym)), Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
