package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSKVConfig configures the NATS JetStream key-value cache backend. A KV
// cache is shared between processes, so several CLI invocations or service
// replicas reuse one another's responses.
type NATSKVConfig struct {
	// URL is the NATS server URL. Ignored when Conn is provided.
	URL string

	// Conn is an existing connection to reuse. Optional.
	Conn *nats.Conn

	// Bucket is the KV bucket name. Created if it does not exist.
	Bucket string

	// TTL is the bucket-level expiry applied by the server. Zero keeps
	// entries until explicitly invalidated; per-entry expiry still applies.
	TTL time.Duration
}

// NATSKVCache implements Cache on a NATS JetStream key-value bucket.
type NATSKVCache struct {
	conn     *nats.Conn
	kv       nats.KeyValue
	ownsConn bool
}

// NewNATSKVCache connects to NATS and binds (or creates) the bucket.
func NewNATSKVCache(config *NATSKVConfig) (*NATSKVCache, error) {
	if config.Bucket == "" {
		return nil, ErrNATSConfigRequired
	}

	conn := config.Conn
	ownsConn := false

	if conn == nil {
		var err error

		conn, err = nats.Connect(config.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}

		ownsConn = true
	}

	js, err := conn.JetStream()
	if err != nil {
		if ownsConn {
			conn.Close()
		}

		return nil, fmt.Errorf("getting JetStream context: %w", err)
	}

	kv, err := js.KeyValue(config.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: config.Bucket,
			TTL:    config.TTL,
		})
	}

	if err != nil {
		if ownsConn {
			conn.Close()
		}

		return nil, fmt.Errorf("binding KV bucket %q: %w", config.Bucket, err)
	}

	return &NATSKVCache{conn: conn, kv: kv, ownsConn: ownsConn}, nil
}

// natsKey maps a cache key onto the NATS KV key alphabet. The mapping is
// character-wise so key prefixes stay prefixes.
func natsKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '/' || r == '_' || r == '=' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

// Get returns the entry for key, or an error for missing/expired entries.
func (c *NATSKVCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	kvEntry, err := c.kv.Get(natsKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrCacheKeyNotFound
		}

		return nil, fmt.Errorf("reading KV entry: %w", err)
	}

	var entry CacheEntry

	err = json.Unmarshal(kvEntry.Value(), &entry)
	if err != nil {
		return nil, fmt.Errorf("decoding KV entry: %w", err)
	}

	if entry.Expired() {
		_ = c.kv.Delete(natsKey(key))

		return nil, ErrCacheEntryStale
	}

	return &entry, nil
}

// Set stores an entry.
func (c *NATSKVCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding KV entry: %w", err)
	}

	_, err = c.kv.Put(natsKey(key), data)
	if err != nil {
		return fmt.Errorf("writing KV entry: %w", err)
	}

	return nil
}

// Delete removes an entry.
func (c *NATSKVCache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(natsKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("deleting KV entry: %w", err)
	}

	return nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func (c *NATSKVCache) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := c.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}

		return fmt.Errorf("listing KV keys: %w", err)
	}

	mapped := natsKey(prefix)

	for _, key := range keys {
		if strings.HasPrefix(key, mapped) {
			err := c.kv.Delete(key)
			if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
				return fmt.Errorf("deleting KV entry: %w", err)
			}
		}
	}

	return nil
}

// Clear removes all entries from the bucket.
func (c *NATSKVCache) Clear(ctx context.Context) error {
	keys, err := c.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}

		return fmt.Errorf("listing KV keys: %w", err)
	}

	for _, key := range keys {
		err := c.kv.Delete(key)
		if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return fmt.Errorf("deleting KV entry: %w", err)
		}
	}

	return nil
}

// Has reports whether a live entry exists for key.
func (c *NATSKVCache) Has(ctx context.Context, key string) bool {
	_, err := c.Get(ctx, key)

	return err == nil
}

// Cleanup removes expired entries. The server already applies the bucket TTL;
// this sweeps entries whose per-entry expiry passed sooner.
func (c *NATSKVCache) Cleanup() {
	keys, err := c.kv.Keys()
	if err != nil {
		return
	}

	for _, key := range keys {
		kvEntry, err := c.kv.Get(key)
		if err != nil {
			continue
		}

		var entry CacheEntry
		if json.Unmarshal(kvEntry.Value(), &entry) == nil && entry.Expired() {
			_ = c.kv.Delete(key)
		}
	}
}

// Close releases the NATS connection when this cache created it.
func (c *NATSKVCache) Close() {
	if c.ownsConn && c.conn != nil {
		c.conn.Close()
	}
}
