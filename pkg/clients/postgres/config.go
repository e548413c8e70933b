// Package postgres provides a PostgreSQL client with connection pooling and
// OpenTelemetry tracing. It is the durable backend for authcore's identity
// provisioning store (users and their federated identities).
//
// # Connection Management
//
// The client uses pgxpool for connection pooling, automatically managing a
// pool of persistent connections. Connection retry for transient failures
// is handled internally by pgxpool; callers do not need their own retry
// logic for connection-level errors.
//
// # Configuration
//
// Create a client using [NewClient] with a [Config]:
//
//	cfg := postgres.DefaultConfig()
//	cfg.Password = postgres.Secret(os.Getenv("POSTGRES_PASSWORD"))
//	client, err := postgres.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// For testing, use [NewFromPool] to inject a mock pool:
//
//	mock, _ := pgxmock.NewPool()
//	client := postgres.NewFromPool(mock, &postgres.Config{Database: "testdb"})
package postgres

import (
	"fmt"
	"net/url"
	"time"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// Default connection settings.
const (
	// DefaultHost is the default PostgreSQL host.
	DefaultHost = "localhost"

	// DefaultPort is the standard PostgreSQL port.
	DefaultPort = 5432

	// DefaultDatabase is the default database name.
	DefaultDatabase = "authcore"

	// DefaultUser is the default database user.
	DefaultUser = "authcore"

	// DefaultMaxConns is the maximum number of pooled connections.
	DefaultMaxConns = 10

	// DefaultMinConns is the minimum number of pooled connections kept
	// open.
	DefaultMinConns = 2

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second
)

// Secret is a string type that prevents accidental logging of sensitive
// values such as database passwords. Use [Secret.Value] to retrieve the
// actual value.
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
// placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// SSLMode enumerates the PostgreSQL sslmode values the client accepts.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// Valid reports whether the SSL mode is one of the recognized values.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModePrefer, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

// Config holds the PostgreSQL connection configuration. Either URI or the
// individual fields must be set; URI takes precedence when both are
// present.
type Config struct {
	// URI is a full postgres:// connection URI. When set, it takes
	// precedence over the individual connection fields.
	URI string `json:"uri,omitempty" env:"POSTGRES_URI" yaml:"uri"`

	// Host is the PostgreSQL server hostname.
	Host string `json:"host" env:"POSTGRES_HOST" envDefault:"localhost" yaml:"host"`

	// Port is the PostgreSQL server port.
	Port int `json:"port" env:"POSTGRES_PORT" envDefault:"5432" yaml:"port"`

	// Database is the database name.
	Database string `json:"database" env:"POSTGRES_DATABASE" envDefault:"authcore" yaml:"database"`

	// User is the database user.
	User string `json:"user" env:"POSTGRES_USER" envDefault:"authcore" yaml:"user"`

	// Password is the database password. The Secret type prevents
	// accidental logging of the value.
	Password Secret `json:"-" env:"POSTGRES_PASSWORD" yaml:"-"`

	// SSLModeOption controls transport security.
	SSLModeOption SSLMode `json:"ssl_mode" env:"POSTGRES_SSL_MODE" envDefault:"prefer" yaml:"ssl_mode"`

	// MaxConns is the maximum number of pooled connections.
	MaxConns int `json:"max_conns" env:"POSTGRES_MAX_CONNS" envDefault:"10" yaml:"max_conns"`

	// MinConns is the minimum number of pooled connections.
	MinConns int `json:"min_conns" env:"POSTGRES_MIN_CONNS" envDefault:"2" yaml:"min_conns"`

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `json:"connect_timeout" env:"POSTGRES_CONNECT_TIMEOUT" envDefault:"10s" yaml:"connect_timeout"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Database:       DefaultDatabase,
		User:           DefaultUser,
		SSLModeOption:  SSLModePrefer,
		MaxConns:       DefaultMaxConns,
		MinConns:       DefaultMinConns,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Validate checks the configuration for logical correctness.
func (c *Config) Validate() error {
	if c.URI != "" {
		if _, err := url.Parse(c.URI); err != nil {
			return acerr.Wrap(err, acerr.CodeValidation, "postgres: invalid connection URI")
		}
		return nil
	}
	if c.Host == "" {
		return acerr.New(acerr.CodeValidation, "postgres: host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return acerr.Newf(acerr.CodeValidation, "postgres: port %d is out of range [1, 65535]", c.Port)
	}
	if c.Database == "" {
		return acerr.New(acerr.CodeValidation, "postgres: database name must not be empty")
	}
	if c.User == "" {
		return acerr.New(acerr.CodeValidation, "postgres: user must not be empty")
	}
	if !c.SSLModeOption.Valid() {
		return acerr.Newf(acerr.CodeValidation, "postgres: unsupported ssl mode %q", c.SSLModeOption)
	}
	if c.MaxConns < 1 {
		return acerr.New(acerr.CodeValidation, "postgres: max connections must be at least 1")
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return acerr.Newf(acerr.CodeValidation,
			"postgres: min connections (%d) must be in [0, max connections (%d)]", c.MinConns, c.MaxConns)
	}
	if c.ConnectTimeout < 0 {
		return acerr.New(acerr.CodeValidation, "postgres: connect timeout must be non-negative")
	}
	return nil
}

// ConnectionString returns the pgx connection string for this
// configuration. When URI is set it is returned unchanged.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", string(c.SSLModeOption))
	u.RawQuery = q.Encode()
	return u.String()
}
