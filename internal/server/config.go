// Package server holds the runtime configuration: defaults, sanitization and
// loading from flags, environment and an optional config file through viper.
package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/store"
)

// Configuration keys. Each key is also read from the environment variable of
// the same name in upper case, e.g. SERVER_PORT.
const (
	KeyPort                    = "server_port"
	KeyAllowedOrigins          = "allowed_origins"
	KeyMaxMessageSize          = "max_message_size"
	KeyRateLimitBurst          = "rate_limit_burst"
	KeyRateLimitRefillInterval = "rate_limit_refill_interval"
	KeySendBufferSize          = "send_buffer_size"
	KeyPingInterval            = "ping_interval"
	KeyPongWait                = "pong_wait"
	KeyStoreBackend            = "store_backend"
	KeySQLitePath              = "sqlite_path"
	KeyRedisAddr               = "redis_addr"
	KeyRedisPrefix             = "redis_prefix"
	KeyHistoryLimit            = "history_limit"
	KeyChatUsers               = "chat_users"
	KeyTokenSecret             = "token_secret"
	KeyTokenTTL                = "token_ttl"
	KeyTimeZone                = "time_zone"
	KeyDefaultRoom             = "default_room"
	KeyShutdownTimeout         = "shutdown_timeout"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	SendBufferSize int

	// PingInterval is how often the server pings each connection. PongWait is
	// how long a connection may stay silent; zero disables the idle timeout.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	Store        store.Config
	HistoryLimit int
	TimeZone     string
	DefaultRoom  string

	// Users is the credential list as JSON, [{"user":"..","pass":".."}].
	Users       string
	TokenSecret string
	TokenTTL    time.Duration

	ShutdownTimeout time.Duration
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 16384,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendBufferSize:  256,
		PingInterval:    54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		Store:           store.Config{Backend: store.BackendMemory, SQLitePath: "roomrelay.db", Redis: store.DefaultRedisConfig()},
		HistoryLimit:    room.DefaultHistoryLimit,
		TimeZone:        "UTC",
		DefaultRoom:     "default",
		TokenTTL:        auth.DefaultTokenTTL,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Sanitize fills in defaults for unset or out-of-range values and normalizes
// the origin list.
func (cfg Config) Sanitize() Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.PingInterval < 0 {
		cfg.PingInterval = 0
	}
	if cfg.PongWait < 0 {
		cfg.PongWait = 0
	}
	// A ping must go out before the peer is considered idle.
	if cfg.PongWait > 0 && (cfg.PingInterval == 0 || cfg.PingInterval >= cfg.PongWait) {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = def.Store.SQLitePath
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = def.Store.Redis.Addr
	}
	if cfg.Store.Redis.Prefix == "" {
		cfg.Store.Redis.Prefix = def.Store.Redis.Prefix
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = def.TimeZone
	}
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = def.DefaultRoom
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Validate reports settings that cannot be fixed by Sanitize.
func (cfg Config) Validate() error {
	if err := room.ValidateRoomName(cfg.DefaultRoom); err != nil {
		return fmt.Errorf("default room: %w", err)
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}
	if _, err := auth.ParseCredentials(cfg.Users); err != nil {
		return err
	}
	switch cfg.Store.Backend {
	case store.BackendMemory, store.BackendSQLite, store.BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return nil
}

// RoomConfig derives the per-room settings.
func (cfg Config) RoomConfig() (room.Config, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return room.Config{}, fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}
	rc := room.DefaultConfig()
	rc.HistoryLimit = cfg.HistoryLimit
	rc.Location = loc
	return rc, nil
}

// TokenConfig derives the session token settings.
func (cfg Config) TokenConfig() auth.TokenConfig {
	tc := auth.DefaultTokenConfig()
	tc.Secret = cfg.TokenSecret
	tc.TTL = cfg.TokenTTL
	return tc
}

// SetDefaults registers every key with its default so that viper reports it
// from environment variables and config files alike.
func SetDefaults(v *viper.Viper) {
	def := defaultConfig()
	v.SetDefault(KeyPort, def.Port)
	v.SetDefault(KeyAllowedOrigins, strings.Join(def.AllowedOrigins, ","))
	v.SetDefault(KeyMaxMessageSize, def.MaxMessageSize)
	v.SetDefault(KeyRateLimitBurst, def.RateLimit.Burst)
	v.SetDefault(KeyRateLimitRefillInterval, int(def.RateLimit.RefillInterval/time.Second))
	v.SetDefault(KeySendBufferSize, def.SendBufferSize)
	v.SetDefault(KeyPingInterval, def.PingInterval.String())
	v.SetDefault(KeyPongWait, def.PongWait.String())
	v.SetDefault(KeyStoreBackend, def.Store.Backend)
	v.SetDefault(KeySQLitePath, def.Store.SQLitePath)
	v.SetDefault(KeyRedisAddr, def.Store.Redis.Addr)
	v.SetDefault(KeyRedisPrefix, def.Store.Redis.Prefix)
	v.SetDefault(KeyHistoryLimit, def.HistoryLimit)
	v.SetDefault(KeyChatUsers, "")
	v.SetDefault(KeyTokenSecret, "")
	v.SetDefault(KeyTokenTTL, def.TokenTTL.String())
	v.SetDefault(KeyTimeZone, def.TimeZone)
	v.SetDefault(KeyDefaultRoom, def.DefaultRoom)
	v.SetDefault(KeyShutdownTimeout, def.ShutdownTimeout.String())
	v.AutomaticEnv()
}

// NewConfigFromViper reads the configuration from v. Values that fail to
// parse fall back to their defaults.
func NewConfigFromViper(v *viper.Viper) *Config {
	cfg := defaultConfig()

	cfg.Port = v.GetString(KeyPort)
	cfg.AllowedOrigins = originsValue(v.Get(KeyAllowedOrigins), cfg.AllowedOrigins)
	cfg.MaxMessageSize = parseMaxMessageSize(v.GetString(KeyMaxMessageSize), cfg.MaxMessageSize)
	cfg.RateLimit.Burst = parseIntValue(v.GetString(KeyRateLimitBurst), cfg.RateLimit.Burst)
	cfg.RateLimit.RefillInterval = parseRefillInterval(v.GetString(KeyRateLimitRefillInterval), cfg.RateLimit.RefillInterval)
	cfg.SendBufferSize = parseIntValue(v.GetString(KeySendBufferSize), cfg.SendBufferSize)
	cfg.PingInterval = parseDurationValue(v.GetString(KeyPingInterval), cfg.PingInterval)
	cfg.PongWait = parseDurationValue(v.GetString(KeyPongWait), cfg.PongWait)
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(v.GetString(KeyStoreBackend)))
	cfg.Store.SQLitePath = v.GetString(KeySQLitePath)
	cfg.Store.Redis.Addr = v.GetString(KeyRedisAddr)
	cfg.Store.Redis.Prefix = v.GetString(KeyRedisPrefix)
	cfg.HistoryLimit = parseIntValue(v.GetString(KeyHistoryLimit), cfg.HistoryLimit)
	cfg.Users = v.GetString(KeyChatUsers)
	cfg.TokenSecret = v.GetString(KeyTokenSecret)
	cfg.TokenTTL = parseDurationValue(v.GetString(KeyTokenTTL), cfg.TokenTTL)
	cfg.TimeZone = v.GetString(KeyTimeZone)
	cfg.DefaultRoom = v.GetString(KeyDefaultRoom)
	cfg.ShutdownTimeout = parseDurationValue(v.GetString(KeyShutdownTimeout), cfg.ShutdownTimeout)

	sanitized := cfg.Sanitize()
	return &sanitized
}

// originsValue accepts either a comma separated string (environment) or a
// list (config file).
func originsValue(raw any, defaultValue []string) []string {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return defaultValue
		}
		return parseOrigins(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out
	default:
		return defaultValue
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval reads whole seconds.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseDurationValue accepts a Go duration ("30s") or whole seconds ("30").
// Zero is a valid value.
func parseDurationValue(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}
