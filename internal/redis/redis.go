// Package redis connects the optional shared fingerprint store.
package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Client is a wrapper around the go-redis client.
type Client struct {
	*redis.Client
	prefix string
}

// NewClient creates and tests a new Redis client. Keys are namespaced with prefix.
func NewClient(ctx context.Context, addr, prefix string) (*Client, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: rdb, prefix: prefix}, nil
}

// Key returns the namespaced key for a set belonging to one run against target.
func (c *Client) Key(target, runID, set string) string {
	return Key(c.prefix, target, runID, set)
}

// Key builds prefix:target:runID:set.
func Key(prefix, target, runID, set string) string {
	return prefix + ":" + target + ":" + runID + ":" + set
}
