package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskpulse/broadcast"
)

const namespace = "TASKPULSE"

const (
	StoreMemory = "memory"
	StoreTable  = "table"

	AuthJWKS  = "jwks"
	AuthHS256 = "hs256"
)

// Config is the server configuration, read from TASKPULSE_* variables.
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Pprof    bool   `envconfig:"PPROF" default:"false"`

	AllowOrigins []string `envconfig:"ALLOW_ORIGINS" default:"*"`

	StoreType               string `envconfig:"STORE_TYPE" default:"memory"`
	StorageConnectionString string `envconfig:"STORAGE_CONNECTION_STRING"`
	TasksTable              string `envconfig:"TASKS_TABLE" default:"tasks"`
	EventsQueue             string `envconfig:"EVENTS_QUEUE"`
	InitStorage             bool   `envconfig:"INIT_STORAGE" default:"false"`

	RedisConnectionString string        `envconfig:"REDIS_CONNECTION_STRING"`
	CacheTTL              time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	IdempotencyTTL        time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	RelayChannel          string        `envconfig:"RELAY_CHANNEL" default:"taskpulse-events"`

	AuthMode      string        `envconfig:"AUTH_MODE" default:"jwks"`
	Auth0Domain   string        `envconfig:"AUTH0_DOMAIN"`
	Auth0Audience string        `envconfig:"AUTH0_AUDIENCE"`
	AuthSecret    string        `envconfig:"AUTH_SHARED_SECRET"`
	JWKSCacheTTL  time.Duration `envconfig:"JWKS_CACHE_TTL" default:"15m"`

	BroadcastScope    string        `envconfig:"BROADCAST_SCOPE" default:"owner"`
	SessionQueueSize  int           `envconfig:"SESSION_QUEUE_SIZE" default:"256"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`

	ForwarderWorkers int           `envconfig:"FORWARDER_WORKERS" default:"1"`
	ForwarderBuffer  int           `envconfig:"FORWARDER_BUFFER" default:"1024"`
	ForwarderTimeout time.Duration `envconfig:"FORWARDER_TIMEOUT" default:"10s"`
	ForwarderHandoff time.Duration `envconfig:"FORWARDER_HANDOFF_TIMEOUT" default:"15ms"`
}

// Load reads and validates the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(namespace, &c); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	c.AuthMode = strings.ToLower(strings.TrimSpace(c.AuthMode))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreType {
	case StoreMemory:
	case StoreTable:
		if c.StorageConnectionString == "" || c.TasksTable == "" {
			errs = append(errs, errors.New("table store requires STORAGE_CONNECTION_STRING and TASKS_TABLE"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_TYPE %q", c.StoreType))
	}
	if c.EventsQueue != "" && c.StorageConnectionString == "" {
		errs = append(errs, errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	switch c.AuthMode {
	case AuthHS256:
		if c.AuthSecret == "" {
			errs = append(errs, errors.New("AUTH_SHARED_SECRET must be set when AUTH_MODE=hs256"))
		}
	case AuthJWKS:
		if c.Auth0Domain == "" || c.Auth0Audience == "" {
			errs = append(errs, errors.New("missing Auth0 config"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode))
	}
	if _, err := broadcast.ParseScope(c.BroadcastScope); err != nil {
		errs = append(errs, err)
	}
	if c.SessionQueueSize <= 0 {
		errs = append(errs, errors.New("SESSION_QUEUE_SIZE must be greater than zero"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be greater than zero"))
	}
	return errors.Join(errs...)
}

// Level returns the logrus level; Debug overrides LogLevel.
func (c *Config) Level() log.Level {
	if c.Debug {
		return log.DebugLevel
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Scope returns the validated broadcast scope.
func (c *Config) Scope() broadcast.Scope {
	s, err := broadcast.ParseScope(c.BroadcastScope)
	if err != nil {
		return broadcast.ScopeOwner
	}
	return s
}

// JWKSURL is the key set location for the configured Auth0 tenant.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// Issuer is the expected token issuer in jwks mode.
func (c *Config) Issuer() string {
	return "https://" + c.Auth0Domain + "/"
}

// RedisOptions accepts either a redis:// URL or an Azure style connection
// string such as "host:6380,password=secret,ssl=true".
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" || strings.Contains(parts[0], "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
