// Package redis provides a Redis client with OpenTelemetry tracing,
// structured error handling, and configuration management. It is the
// durable shared backend for the authcore session store in multi-instance
// deployments.
//
// # Connection Management
//
// The client wraps go-redis (github.com/redis/go-redis/v9) and adds
// cross-cutting concerns (tracing, error classification) transparently to
// all Redis operations. Connection pooling, reconnection, and retry are
// handled internally by go-redis.
//
// # Configuration
//
// Create a client using [NewClient] with a [Config]:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// For testing, use [NewFromClient] to inject a mock:
//
//	mock := &mockCmdable{}
//	client := redis.NewFromClient(mock, &redis.Config{DB: 0})
package redis

import (
	"fmt"
	"time"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// Default connection pool and timeout settings. Session reads sit on the
// hot path of every authenticated request, so the timeouts are short.
const (
	// DefaultHost is the default Redis host.
	DefaultHost = "localhost"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the default Redis database index.
	DefaultDB = 0

	// DefaultPoolSize is the maximum number of connections in the pool.
	DefaultPoolSize = 25

	// DefaultMinIdleConns is the minimum number of idle connections
	// maintained in the pool, avoiding connection-establishment latency
	// for burst traffic.
	DefaultMinIdleConns = 5

	// DefaultDialTimeout is the maximum time to wait when establishing
	// a new connection to Redis.
	DefaultDialTimeout = 10 * time.Second

	// DefaultReadTimeout is the maximum time to wait for a read response.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum time to wait for a write to
	// complete.
	DefaultWriteTimeout = 5 * time.Second
)

// Secret is a string type that prevents accidental logging of sensitive
// values such as Redis passwords. Its [Secret.String] and [Secret.GoString]
// methods return a redacted placeholder. Use [Secret.Value] to retrieve
// the actual value.
type Secret string

// redacted is the placeholder string returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging of the secret.
func (s Secret) String() string { return redacted }

// GoString returns "[REDACTED]" to prevent leakage via %#v formatting.
func (s Secret) GoString() string { return redacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler, returning the redacted
// placeholder so the secret never leaks into serialized configuration.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the Redis connection configuration. Either URI or the
// Host/Port pair must be set; URI takes precedence when both are present.
type Config struct {
	// URI is a full redis:// or rediss:// connection URI. When set, it
	// takes precedence over Host/Port/Password/DB.
	URI string `json:"uri,omitempty" env:"REDIS_URI" yaml:"uri"`

	// Host is the Redis server hostname.
	Host string `json:"host" env:"REDIS_HOST" envDefault:"localhost" yaml:"host"`

	// Port is the Redis server port.
	Port int `json:"port" env:"REDIS_PORT" envDefault:"6379" yaml:"port"`

	// Password is the Redis AUTH password. The Secret type prevents
	// accidental logging of the value.
	Password Secret `json:"-" env:"REDIS_PASSWORD" yaml:"-"`

	// DB is the Redis database index (0-15).
	DB int `json:"db" env:"REDIS_DB" envDefault:"0" yaml:"db"`

	// PoolSize is the maximum number of pooled connections.
	PoolSize int `json:"pool_size" env:"REDIS_POOL_SIZE" envDefault:"25" yaml:"pool_size"`

	// MinIdleConns is the minimum number of idle pooled connections.
	MinIdleConns int `json:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" envDefault:"5" yaml:"min_idle_conns"`

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" envDefault:"10s" yaml:"dial_timeout"`

	// ReadTimeout bounds individual read operations.
	ReadTimeout time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT" envDefault:"5s" yaml:"read_timeout"`

	// WriteTimeout bounds individual write operations.
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" envDefault:"5s" yaml:"write_timeout"`

	// TLSEnabled enables TLS for the connection (ignored when URI is set;
	// use a rediss:// URI instead).
	TLSEnabled bool `json:"tls_enabled" env:"REDIS_TLS_ENABLED" envDefault:"false" yaml:"tls_enabled"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks the configuration for logical correctness and returns a
// *[acerr.Error] with code [acerr.CodeValidation] if any field is invalid.
func (c *Config) Validate() error {
	if c.URI == "" {
		if c.Host == "" {
			return acerr.New(acerr.CodeValidation, "redis: host must not be empty when no URI is set")
		}
		if c.Port < 1 || c.Port > 65535 {
			return acerr.Newf(acerr.CodeValidation, "redis: port %d is out of range [1, 65535]", c.Port)
		}
	}
	if c.DB < 0 || c.DB > 15 {
		return acerr.Newf(acerr.CodeValidation, "redis: database index %d is out of range [0, 15]", c.DB)
	}
	if c.PoolSize < 1 {
		return acerr.New(acerr.CodeValidation, "redis: pool size must be at least 1")
	}
	if c.MinIdleConns < 0 {
		return acerr.New(acerr.CodeValidation, "redis: min idle connections must be non-negative")
	}
	if c.MinIdleConns > c.PoolSize {
		return acerr.Newf(acerr.CodeValidation,
			"redis: min idle connections (%d) must not exceed pool size (%d)", c.MinIdleConns, c.PoolSize)
	}
	for name, d := range map[string]time.Duration{
		"dial timeout":  c.DialTimeout,
		"read timeout":  c.ReadTimeout,
		"write timeout": c.WriteTimeout,
	} {
		if d < 0 {
			return acerr.Newf(acerr.CodeValidation, "redis: %s must be non-negative", name)
		}
	}
	return nil
}

// Addr returns the host:port address for the configured server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
