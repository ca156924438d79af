package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN while clearing.
const scanBatch = 100

// Redis is a Redis-backed store that lets several processes share cached
// responses. Reads and writes fail soft: an unreachable server reads as a
// miss and writes are discarded. Expiry is delegated to Redis TTLs.
type Redis struct {
	rdb    redis.Cmdable
	closer func() error
	prefix string
}

// NewRedis creates a Redis store with its own client. Keys are namespaced
// under prefix.
func NewRedis(addr, password string, db int, prefix string) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{rdb: rdb, closer: rdb.Close, prefix: prefix}
}

// NewRedisWithClient wraps an existing client. Close is then a no-op; the
// caller owns the client.
func NewRedisWithClient(rdb redis.Cmdable, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) namespaced(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) strip(ns string) string {
	if r.prefix == "" {
		return ns
	}
	return strings.TrimPrefix(ns, r.prefix+":")
}

// Get retrieves a payload. Returns (nil, false, nil) on a miss or when Redis
// is unreachable.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, r.namespaced(key)).Bytes()
	if err != nil {
		// redis.Nil is a plain miss; connection errors fail soft as one.
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores payload with a Redis TTL. Errors are discarded (fail soft).
func (r *Redis) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_ = r.rdb.Set(ctx, r.namespaced(key), payload, normalizeTTL(ttl)).Err()
	return nil
}

// RemainingTTL reports how long key has left before Redis expires it.
func (r *Redis) RemainingTTL(ctx context.Context, key string) (time.Duration, bool) {
	d, err := r.rdb.PTTL(ctx, r.namespaced(key)).Result()
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// Clear deletes the namespace, or the keys in it containing filter. The
// namespace is enumerated with SCAN and matched client-side so that filter
// keeps plain substring semantics rather than glob semantics.
func (r *Redis) Clear(ctx context.Context, filter string) error {
	var doomed []string
	err := r.scan(ctx, func(ns string) {
		if filter == "" || strings.Contains(r.strip(ns), filter) {
			doomed = append(doomed, ns)
		}
	})
	if err != nil {
		return err
	}
	for len(doomed) > 0 {
		n := min(len(doomed), scanBatch)
		if err := r.rdb.Del(ctx, doomed[:n]...).Err(); err != nil {
			return err
		}
		doomed = doomed[n:]
	}
	return nil
}

// Keys lists the keys in the namespace.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.scan(ctx, func(ns string) {
		keys = append(keys, r.strip(ns))
	})
	return keys, err
}

func (r *Redis) scan(ctx context.Context, fn func(ns string)) error {
	match := "*"
	if r.prefix != "" {
		match = escapeGlob(r.prefix) + ":*"
	}
	iter := r.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		fn(iter.Val())
	}
	return iter.Err()
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client created by NewRedis.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
