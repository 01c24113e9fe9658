package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection wrapper.
type Options struct {
	Addr        string
	Password    string
	DB          int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	PingTimeout time.Duration
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
}

// Client is a long-lived Redis handle shared by the cache layer, the session
// store and the job queue. Once the connect attempt budget is exhausted it
// stays not-ready until Reinit is called; it never takes the process down.
type Client struct {
	mu     sync.Mutex
	opts   Options
	client *redis.Client
	logger *slog.Logger
	ready  atomic.Bool
	given  atomic.Bool // attempt budget exhausted
}

// NewClient constructs an unconnected wrapper. Call Connect before use.
func NewClient(opts Options, logger *slog.Logger) *Client {
	opts.normalize()
	return &Client{opts: opts, logger: logger}
}

// NewClientFromRedis wraps an already-connected client. Used by tests and by
// callers that manage the connection themselves.
func NewClientFromRedis(rdb *redis.Client, logger *slog.Logger) *Client {
	c := &Client{client: rdb, logger: logger}
	c.opts.normalize()
	c.ready.Store(rdb != nil)
	return c
}

// Connect dials Redis with bounded exponential backoff. Idempotent: a ready
// client returns immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready.Load() {
		return nil
	}
	if c.given.Load() {
		return fmt.Errorf("platform/cache: connect attempts exhausted, reinit required")
	}

	if c.client == nil {
		c.client = redis.NewClient(&redis.Options{
			Addr:     c.opts.Addr,
			Password: c.opts.Password,
			DB:       c.opts.DB,
		})
	}

	delay := c.opts.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, c.opts.PingTimeout)
		err := c.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			c.ready.Store(true)
			if c.logger != nil {
				c.logger.Info("redis connected", slog.String("addr", c.opts.Addr), slog.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Warn("redis connect retry",
				slog.String("addr", c.opts.Addr),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.opts.MaxDelay {
			delay = c.opts.MaxDelay
		}
	}

	c.given.Store(true)
	if c.logger != nil {
		c.logger.Error("redis connect attempts exhausted",
			slog.String("addr", c.opts.Addr),
			slog.Int("attempts", c.opts.MaxAttempts),
			slog.Any("error", lastErr))
	}
	return fmt.Errorf("platform/cache: connect %s: %w", c.opts.Addr, lastErr)
}

// Ready reports whether the handle can serve commands.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Redis returns the underlying client, or nil while not ready.
func (c *Client) Redis() *redis.Client {
	if !c.ready.Load() {
		return nil
	}
	return c.client
}

// MarkDown flags the handle as unavailable after a command-level failure.
// Subsequent operations degrade until Connect or Reinit succeeds.
func (c *Client) MarkDown() {
	c.ready.Store(false)
}

// Reinit clears the exhausted state and drops the cached connection so the
// next Connect starts from scratch.
func (c *Client) Reinit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready.Store(false)
	c.given.Store(false)
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
}

// Disconnect closes the connection. The wrapper can be connected again later.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready.Store(false)
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
