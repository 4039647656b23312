// Package config provides configuration management for the SSO ticket service.
// It supports environment variable-based configuration with validation and
// default values for all service components including server, Redis, Postgres,
// ticket lifecycle, logout, cookie, security, and logging settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinCookieSecretLength is the minimum required length for the TGT cookie signing secret.
	MinCookieSecretLength = 32
	// MinTicketEntropyBytes is the minimum number of random bytes in a ticket identifier.
	// 16 bytes yields 128 bits of entropy, the floor for an unguessable bearer credential.
	MinTicketEntropyBytes = 16
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
)

// RegistryBackend selects the ticket registry implementation.
type RegistryBackend string

const (
	// RegistryMemory selects the in-memory reference registry.
	RegistryMemory RegistryBackend = "memory"
	// RegistryRedis selects the Redis cluster-replicated registry.
	RegistryRedis RegistryBackend = "redis"
)

// Config represents the complete configuration for the SSO ticket service,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT"`
	// Server contains HTTP server configuration including ports, timeouts, and TLS settings.
	Server ServerConfig `envconfig:"SERVER"`
	// Redis contains Redis connection and pool configuration.
	Redis RedisConfig `envconfig:"REDIS"`
	// PostgresDatabase contains PostgreSQL database configuration for the service registry.
	PostgresDatabase DatabaseConfig `envconfig:"POSTGRES"`
	// Ticket contains ticket lifecycle configuration.
	Ticket TicketConfig `envconfig:"TICKET"`
	// Logout contains single-logout dispatch configuration.
	Logout LogoutConfig `envconfig:"LOGOUT"`
	// Cookie contains TGT cookie configuration.
	Cookie CookieConfig `envconfig:"COOKIE"`
	// Security contains security-related settings like CORS and rate limiting.
	Security SecurityConfig `envconfig:"SECURITY"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING"`
	// ServiceAutoRegister contains service auto-registration configuration.
	ServiceAutoRegister ServiceAutoRegisterConfig `envconfig:"SERVICE_AUTO_REGISTER"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL"`
}

// ServerConfig holds HTTP server configuration including network settings,
// timeouts, and TLS certificate paths.
type ServerConfig struct {
	// Port is the HTTP server listening port.
	Port int `envconfig:"PORT"             default:"8080"`
	// Host is the network interface to bind to.
	Host string `envconfig:"HOST"             default:"0.0.0.0"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"`
	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT"    default:"15s"`
	// IdleTimeout is the maximum amount of time to wait for keep-alive connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"     default:"60s"`
	// ShutdownTimeout is the maximum time to wait for graceful server shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// TLSCert is the path to the TLS certificate file for HTTPS.
	TLSCert string `envconfig:"TLS_CERT"`
	// TLSKey is the path to the TLS private key file for HTTPS.
	TLSKey string `envconfig:"TLS_KEY"`
}

// RedisConfig contains Redis connection configuration including
// connection pool settings and timeouts.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"10"`
	// MinIdleConn is the minimum number of idle connections.
	MinIdleConn int `envconfig:"MIN_IDLE_CONN" default:"5"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	// PoolTimeout is the amount of time client waits for connection.
	PoolTimeout time.Duration `envconfig:"POOL_TIMEOUT"  default:"4s"`
	// IdleTimeout is the amount of time after which client closes idle connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"  default:"300s"`
}

// DatabaseConfig contains PostgreSQL database connection configuration
// including connection pool settings and health check parameters.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `envconfig:"HOST"                default:"localhost"`
	// Port is the PostgreSQL server port.
	Port int `envconfig:"PORT"                default:"5432"`
	// Database is the PostgreSQL database name.
	Database string `envconfig:"DB"                  default:"sso"`
	// Schema is the PostgreSQL schema name.
	Schema string `envconfig:"SCHEMA"              default:"sso"`
	// User is the database username (SSO_DB_USER from env vars).
	User string `envconfig:"SSO_DB_USER"`
	// Password is the database password (SSO_DB_PASSWORD from env vars).
	Password string `envconfig:"SSO_DB_PASSWORD"`
	// SSLMode is the SSL connection mode (disable, require, verify-ca, verify-full).
	SSLMode string `envconfig:"SSL_MODE"            default:"require"`
	// MaxConn is the maximum number of connections in the pool.
	MaxConn int32 `envconfig:"MAX_CONN"            default:"25"`
	// MinConn is the minimum number of connections in the pool.
	MinConn int32 `envconfig:"MIN_CONN"            default:"5"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME"   default:"1h"`
	// MaxConnIdleTime is the maximum idle time for a connection.
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME"  default:"30m"`
	// HealthCheckPeriod is how often to check database connectivity.
	HealthCheckPeriod time.Duration `envconfig:"HEALTH_CHECK_PERIOD" default:"30s"`
	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"     default:"10s"`
}

// TicketConfig contains ticket lifecycle settings: expiration policies,
// identifier generation, and registry backend selection.
type TicketConfig struct {
	// RegistryBackend selects the ticket registry implementation (memory, redis).
	RegistryBackend RegistryBackend `envconfig:"REGISTRY_BACKEND" default:"memory"`
	// TGTTimeToLive is the hard ceiling on ticket-granting ticket lifetime.
	TGTTimeToLive time.Duration `envconfig:"TGT_TIME_TO_LIVE" default:"8h"`
	// TGTTimeToIdle is the sliding inactivity timeout for ticket-granting
	// tickets; every service-ticket grant refreshes it.
	TGTTimeToIdle time.Duration `envconfig:"TGT_TIME_TO_IDLE" default:"2h"`
	// RememberMeTimeToLive is the hard ceiling when the authentication
	// carried a remember-me flag.
	RememberMeTimeToLive time.Duration `envconfig:"REMEMBER_ME_TIME_TO_LIVE" default:"336h"`
	// STTimeToLive is the absolute lifetime of an unconsumed service ticket.
	STTimeToLive time.Duration `envconfig:"ST_TIME_TO_LIVE" default:"10s"`
	// STReuseWindow optionally allows a consumed service ticket to be
	// validated again within this window. Zero enforces strict single use.
	STReuseWindow time.Duration `envconfig:"ST_REUSE_WINDOW" default:"0s"`
	// IDEntropyBytes is the number of random bytes in a ticket identifier.
	IDEntropyBytes int `envconfig:"ID_ENTROPY_BYTES" default:"32"`
	// IDSuffix is an optional node identifier appended to ticket ids,
	// useful for tracing tickets to the minting instance in a cluster.
	IDSuffix string `envconfig:"ID_SUFFIX"`
	// CleanupInterval is how often the background cleaner sweeps expired tickets.
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1m"`
}

// LogoutConfig contains single-logout dispatch settings.
type LogoutConfig struct {
	// Enabled globally enables single sign-out propagation.
	Enabled bool `envconfig:"ENABLED" default:"true"`
	// DispatchTimeout is the per-service timeout for back-channel notices.
	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"5s"`
	// Concurrency bounds the number of concurrent back-channel dispatches
	// per logout operation.
	Concurrency int `envconfig:"CONCURRENCY" default:"8"`
}

// CookieConfig contains TGT transport cookie settings. The cookie value is
// a signed JWT wrapping the ticket-granting ticket identifier.
type CookieConfig struct {
	// Secret is the signing secret for the TGT cookie (required, minimum 32 characters).
	Secret string `envconfig:"SECRET" required:"true"`
	// Name is the cookie name.
	Name string `envconfig:"NAME" default:"TGC"`
	// Path is the cookie path.
	Path string `envconfig:"PATH" default:"/"`
	// MaxAge is the cookie lifetime; should track the TGT hard ceiling.
	MaxAge time.Duration `envconfig:"MAX_AGE" default:"8h"`
	// Issuer is the JWT issuer claim on the cookie value.
	Issuer string `envconfig:"ISSUER" default:"sso-service"`
}

// SecurityConfig contains security-related settings including
// rate limiting, CORS configuration, and admin API access.
type SecurityConfig struct {
	// RateLimitRPS is the maximum requests per second per client.
	RateLimitRPS int `envconfig:"RATE_LIMIT_RPS"    default:"100"`
	// RateLimitBurst is the maximum burst size for rate limiting.
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST"  default:"200"`
	// AllowedOrigins are the CORS allowed origins.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"   default:"*"`
	// AllowedMethods are the CORS allowed HTTP methods.
	AllowedMethods []string `envconfig:"ALLOWED_METHODS"   default:"GET,POST,DELETE,OPTIONS"`
	// AllowedHeaders are the CORS allowed headers.
	AllowedHeaders []string `envconfig:"ALLOWED_HEADERS"   default:"*"`
	// AllowCredentials determines if CORS allows credentials.
	AllowCredentials bool `envconfig:"ALLOW_CREDENTIALS" default:"true"`
	// MaxAge is the CORS preflight cache duration in seconds.
	MaxAge int `envconfig:"MAX_AGE"           default:"86400"`
	// AdminAPIKeyHash is the bcrypt hash of the admin API key protecting
	// the /admin endpoints. Empty disables the admin surface.
	AdminAPIKeyHash string `envconfig:"ADMIN_API_KEY_HASH"`
	// SecureCookies determines if cookies should be marked as secure.
	SecureCookies bool `envconfig:"SECURE_COOKIES"    default:"true"`
	// SameSiteCookies sets the SameSite attribute for cookies.
	SameSiteCookies string `envconfig:"SAME_SITE_COOKIES" default:"strict"`
}

// LoggingConfig contains logging configuration including
// log level, format, and output destination.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"              default:"info"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT"             default:"json"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT"             default:"stdout"`
	// ConsoleFormat is the format for console output (text, json).
	ConsoleFormat string `envconfig:"CONSOLE_FORMAT"     default:"text"`
	// FilePath is the path to the log file for dual output.
	FilePath string `envconfig:"FILE_PATH"`
	// EnableDualOutput enables both console and file logging simultaneously.
	EnableDualOutput bool `envconfig:"ENABLE_DUAL_OUTPUT" default:"false"`
}

// ServiceAutoRegisterConfig contains registered-service auto-registration
// configuration for seeding the service registry from a configuration file.
type ServiceAutoRegisterConfig struct {
	// Enabled determines if service auto-registration is enabled.
	Enabled bool `envconfig:"ENABLED"     default:"false"`
	// ConfigPath is the path to the service definitions file.
	ConfigPath string `envconfig:"CONFIG_PATH" default:"configs/services.json"`
}

// Load reads configuration from environment variables and returns
// a validated Config instance. It returns an error if configuration
// is invalid or required values are missing.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Overlay operational tunables from YAML. YAML wins over environment
	// defaults for the tunables it names; connection settings and secrets
	// stay environment-only.
	if err := applyYAMLOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply YAML configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of all configuration values,
// ensuring they meet security and operational requirements.
func (c *Config) Validate() error {
	if c.Cookie.Secret == "" {
		return errors.New("cookie signing secret is required")
	}

	if len(c.Cookie.Secret) < MinCookieSecretLength {
		return fmt.Errorf("cookie signing secret must be at least %d characters long", MinCookieSecretLength)
	}

	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return errors.New("server port must be between 1 and 65535")
	}

	if c.Ticket.RegistryBackend != RegistryMemory && c.Ticket.RegistryBackend != RegistryRedis {
		return fmt.Errorf("unsupported registry backend: %s", c.Ticket.RegistryBackend)
	}

	if c.Ticket.IDEntropyBytes < MinTicketEntropyBytes {
		return fmt.Errorf("ticket id entropy must be at least %d bytes", MinTicketEntropyBytes)
	}

	if c.Ticket.TGTTimeToLive <= 0 || c.Ticket.TGTTimeToIdle <= 0 {
		return errors.New("TGT time-to-live and time-to-idle must be positive")
	}

	if c.Ticket.TGTTimeToIdle > c.Ticket.TGTTimeToLive {
		return errors.New("TGT time-to-idle must not exceed time-to-live")
	}

	if c.Ticket.RememberMeTimeToLive < c.Ticket.TGTTimeToLive {
		return errors.New("remember-me time-to-live must not be shorter than the standard TGT time-to-live")
	}

	if c.Ticket.STTimeToLive < time.Second {
		return errors.New("service ticket time-to-live must be at least 1 second")
	}

	if c.Ticket.STReuseWindow < 0 {
		return errors.New("service ticket reuse window must not be negative")
	}

	if c.Logout.Concurrency < 1 {
		return errors.New("logout concurrency must be at least 1")
	}

	if c.Logout.DispatchTimeout < time.Second {
		return errors.New("logout dispatch timeout must be at least 1 second")
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsTLSEnabled returns true if both TLS certificate and key paths are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// PostgresDatabaseDSN returns the PostgreSQL connection string (Data Source Name).
func (c *Config) PostgresDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s search_path=%s",
		c.PostgresDatabase.Host,
		c.PostgresDatabase.Port,
		c.PostgresDatabase.Database,
		c.PostgresDatabase.User,
		c.PostgresDatabase.Password,
		c.PostgresDatabase.SSLMode,
		c.PostgresDatabase.Schema,
	)
}

// IsPostgresDatabaseConfigured returns true if database user and password are configured.
func (c *Config) IsPostgresDatabaseConfigured() bool {
	return c.PostgresDatabase.User != "" && c.PostgresDatabase.Password != ""
}
