package store

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	SQLitePath string
	Redis      RedisConfig
}

// Open builds the backend named by cfg.Backend. An empty name selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "roomrelay.db"
		}
		return OpenSQLite(path)
	case BackendRedis:
		rc := cfg.Redis
		if rc.Addr == "" {
			rc.Addr = DefaultRedisConfig().Addr
		}
		return OpenRedis(ctx, rc)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
