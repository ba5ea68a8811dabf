package store

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by Redis. Each entry is a hash holding the value and
// its sort metadata; a sorted set of all keys (equal scores) provides ordered
// prefix listing through ZRANGEBYLEX.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds the Redis backend configuration.
type RedisConfig struct {
	Addr   string
	Prefix string
}

// DefaultRedisConfig returns the default Redis backend configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "roomrelay:",
	}
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg.Prefix), nil
}

// NewRedis wraps an existing client. All keys written are namespaced by prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) dataKey(key string) string {
	return r.prefix + "kv:" + key
}

func (r *Redis) indexKey() string {
	return r.prefix + "keys"
}

// Get returns the entry stored under key.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.dataKey(key)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	e, err := decodeHash(key, fields)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Put stores value under key and indexes it.
func (r *Redis) Put(ctx context.Context, key string, value []byte, meta Meta) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.dataKey(key),
			"value", value,
			"ts", meta.Timestamp,
			"seq", meta.Seq,
		)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: 0, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %q: %w", key, err)
	}
	return nil
}

// List returns the entries under prefix ordered by key. Entries whose hash
// cannot be decoded are logged and left out.
func (r *Redis) List(ctx context.Context, prefix string) ([]Entry, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		// 0xff never occurs in UTF-8, so it bounds every key with this prefix.
		by = &redis.ZRangeBy{Min: "[" + prefix, Max: "[" + prefix + "\xff"}
	}

	keys, err := r.client.ZRangeByLex(ctx, r.indexKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, r.dataKey(key))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis list %q: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between the index read and the fetch.
			continue
		}
		e, err := decodeHash(keys[i], fields)
		if err != nil {
			log.Printf("[store] Skipping unreadable redis entry %q: %v", keys[i], err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes key and its index entry. Missing keys are ignored.
func (r *Redis) Delete(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.dataKey(key))
		pipe.ZRem(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

// Ping checks if the Redis connection is healthy.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeHash(key string, fields map[string]string) (Entry, error) {
	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("redis entry %q: bad ts: %w", key, err)
	}
	seq, err := strconv.ParseUint(fields["seq"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("redis entry %q: bad seq: %w", key, err)
	}
	return Entry{
		Key:   key,
		Value: []byte(fields["value"]),
		Meta:  Meta{Timestamp: ts, Seq: seq},
	}, nil
}
