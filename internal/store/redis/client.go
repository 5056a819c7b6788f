// Package redis streams executed trades and run snapshots to Redis so that
// dashboards and other services can follow a paper-trading session.
//
// Keys:
//
//	trades:{symbol}        stream, one entry per trade (XADD, approx MAXLEN)
//	pub:trades:{symbol}    pubsub, trade JSON
//	run:{run_id}:snapshot  string, end-of-run snapshot JSON (TTL)
//	pub:runs               pubsub, snapshot JSON
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Client is the subset of Redis commands the trade stream needs.
type Client interface {
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) error
	XRevRange(ctx context.Context, stream string, count int64) ([]map[string]interface{}, error)
	Publish(ctx context.Context, channel, message string) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

type goredisClient struct {
	c *goredis.Client
}

// Dial connects to Redis and pings the server.
func Dial(cfg Config) (Client, error) {
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &goredisClient{c: c}, nil
}

func (g *goredisClient) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) error {
	return g.c.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

func (g *goredisClient) XRevRange(ctx context.Context, stream string, count int64) ([]map[string]interface{}, error) {
	msgs, err := g.c.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = m.Values
	}
	return out, nil
}

func (g *goredisClient) Publish(ctx context.Context, channel, message string) error {
	return g.c.Publish(ctx, channel, message).Err()
}

func (g *goredisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return g.c.Set(ctx, key, value, ttl).Err()
}

func (g *goredisClient) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := g.c.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (g *goredisClient) Ping(ctx context.Context) error { return g.c.Ping(ctx).Err() }

func (g *goredisClient) Close() error { return g.c.Close() }
