package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

//go:embed scripts/apply_stock_delta.lua
var applyStockDeltaScript string

// Client mirrors cached product stock for catalog views and holds the
// finalize idempotency locks. It is a read model only: the engine never
// treats these values as authoritative.
type Client struct {
	rdb         *redis.Client
	deltaScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		deltaScript: redis.NewScript(applyStockDeltaScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Stock values are mirrored as integer hundredths so the Lua arithmetic
// stays exact for fractional units of measure.
func toMirror(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

func fromMirror(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// ApplyStockDelta atomically applies a signed delta to the mirrored stock
// and returns the new mirrored value.
func (c *Client) ApplyStockDelta(ctx context.Context, productID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	result, err := c.deltaScript.Run(ctx, c.rdb, []string{stockKey(productID)}, toMirror(delta)).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("apply stock delta script failed: %w", err)
	}

	updated, ok := result.(int64)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected script result type")
	}

	return fromMirror(updated), nil
}

// SetStock overwrites the mirrored stock value for a product.
func (c *Client) SetStock(ctx context.Context, productID int64, stock decimal.Decimal) error {
	return c.rdb.HSet(ctx, stockKey(productID), "stock", toMirror(stock)).Err()
}

// GetStock retrieves the mirrored stock value for a product.
func (c *Client) GetStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	raw, err := c.rdb.HGet(ctx, stockKey(productID), "stock").Result()
	if err == redis.Nil {
		return decimal.Zero, fmt.Errorf("stock mirror not found for product %d", productID)
	}
	if err != nil {
		return decimal.Zero, err
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt stock mirror for product %d: %w", productID, err)
	}
	return fromMirror(v), nil
}

// AcquireFinalizeLock takes a short-lived lock keyed by the terminal's
// idempotency key so a double-submitted finalize runs once.
func (c *Client) AcquireFinalizeLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("finalize:%s", key), "1", ttl).Result()
}

// ReleaseFinalizeLock releases a finalize lock
func (c *Client) ReleaseFinalizeLock(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("finalize:%s", key)).Err()
}
