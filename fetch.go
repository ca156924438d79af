package policydash

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Fetch performs a CachedRequest and decodes the payload into T. Every
// caller sharing a cached or in-flight payload decodes its own copy.
func Fetch[T any](ctx context.Context, c *Client, endpoint string, opts RequestOptions, ttl time.Duration) (T, error) {
	var out T
	payload, err := c.CachedRequest(ctx, endpoint, opts, ttl)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("policydash: decode %s: %w", endpoint, err)
	}
	return out, nil
}

// send performs an uncached Request and decodes the payload into T.
func send[T any](ctx context.Context, c *Client, endpoint string, opts RequestOptions) (T, error) {
	var out T
	payload, err := c.Request(ctx, endpoint, opts)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("policydash: decode %s: %w", endpoint, err)
	}
	return out, nil
}
