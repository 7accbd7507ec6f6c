// Package config reads the server configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/storage"
)

const (
	DriverMemory   = storage.DriverMemory
	DriverTables   = storage.DriverTables
	DriverPostgres = storage.DriverPostgres
)

// Config is the server configuration. StoreServiceCredential is the elevated
// credential and must not be logged or serialized.
type Config struct {
	Debug bool

	StoreDriver            string
	StoreURL               string
	StoreCallerCredential  string
	StoreServiceCredential string `json:"-"`
	BoardsTable            string
	ColumnsTable           string
	TasksTable             string

	RedisConnectionString string
	BoardCacheTTL         time.Duration
	DeduperTTL            time.Duration

	QueueConnectionString string
	BoardEventsQueue      string

	Auth0Domain   string
	Auth0Audience string
	SharedSecret  string `json:"-"`
	JWKSCacheTTL  time.Duration

	ListenAddr  string
	CORSOrigins []string
}

// LocalAuth reports whether tokens are verified with a shared secret.
func (c Config) LocalAuth() bool { return c.SharedSecret != "" }

// Load reads Config from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads Config using lookup, which has the signature of os.LookupEnv.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	getenv := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		StoreDriver:            strings.ToLower(getenv("STORE_DRIVER", DriverMemory)),
		StoreURL:               getenv("STORE_URL", ""),
		StoreCallerCredential:  getenv("STORE_CALLER_CREDENTIAL", ""),
		StoreServiceCredential: getenv("STORE_SERVICE_CREDENTIAL", ""),
		BoardsTable:            getenv("BOARDS_TABLE", "boards"),
		ColumnsTable:           getenv("COLUMNS_TABLE", "columns"),
		TasksTable:             getenv("TASKS_TABLE", "tasks"),
		RedisConnectionString:  getenv("REDIS_CONNECTION_STRING", ""),
		QueueConnectionString:  getenv("STORAGE_CONNECTION_STRING", ""),
		BoardEventsQueue:       getenv("BOARD_EVENTS_QUEUE", ""),
		Auth0Domain:            getenv("AUTH0_DOMAIN", ""),
		Auth0Audience:          getenv("AUTH0_AUDIENCE", ""),
		ListenAddr:             ":8080",
	}

	if v := getenv("DEBUG", ""); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DEBUG: %w", err)
		}
		cfg.Debug = dbg
	}

	var err error
	if cfg.BoardCacheTTL, err = duration(getenv("BOARD_CACHE_TTL", ""), 5*time.Minute); err != nil {
		return Config{}, fmt.Errorf("invalid BOARD_CACHE_TTL: %w", err)
	}
	if cfg.DeduperTTL, err = duration(getenv("DEDUPER_TTL", ""), 24*time.Hour); err != nil {
		return Config{}, fmt.Errorf("invalid DEDUPER_TTL: %w", err)
	}
	if cfg.JWKSCacheTTL, err = duration(getenv("JWKS_CACHE_TTL", ""), 15*time.Minute); err != nil {
		return Config{}, fmt.Errorf("invalid JWKS_CACHE_TTL: %w", err)
	}

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverTables, DriverPostgres:
		if cfg.StoreURL == "" {
			return Config{}, fmt.Errorf("missing STORE_URL for driver %s", cfg.StoreDriver)
		}
		// A tables connection string carries the account key for both roles.
		if !strings.Contains(cfg.StoreURL, "AccountName=") {
			if cfg.StoreServiceCredential == "" {
				return Config{}, errors.New("missing STORE_SERVICE_CREDENTIAL")
			}
			if cfg.StoreCallerCredential == "" {
				return Config{}, errors.New("missing STORE_CALLER_CREDENTIAL")
			}
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if (cfg.QueueConnectionString == "") != (cfg.BoardEventsQueue == "") {
		return Config{}, errors.New("STORAGE_CONNECTION_STRING and BOARD_EVENTS_QUEUE must be set together")
	}

	switch {
	case strings.EqualFold(getenv("LOCAL_AUTH_MODE", ""), "hs256"):
		cfg.SharedSecret = getenv("LOCAL_AUTH_SHARED_SECRET", "")
		if cfg.SharedSecret == "" {
			return Config{}, errors.New("missing LOCAL_AUTH_SHARED_SECRET")
		}
	case getenv("AUTH0_TEST_MODE", "") == "1":
		cfg.SharedSecret = getenv("TEST_JWT_SECRET", "")
		if cfg.SharedSecret == "" {
			return Config{}, errors.New("missing TEST_JWT_SECRET")
		}
	default:
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			return Config{}, errors.New("missing Auth0 config")
		}
	}

	if v := getenv("LISTEN_ADDR", ""); v != "" {
		cfg.ListenAddr = v
	} else if port := getenv("FUNCTIONS_CUSTOMHANDLER_PORT", ""); port != "" {
		cfg.ListenAddr = ":" + port
	}

	for _, o := range strings.Split(getenv("CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	return cfg, nil
}

// JWKSURL returns the well-known key set URL of the Auth0 tenant.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// Issuer returns the expected token issuer of the Auth0 tenant.
func (c Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

func duration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be greater than zero")
	}
	return d, nil
}

// RedisOptions parses either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if opts.Addr == "" || strings.Contains(opts.Addr, "://") {
		return nil, fmt.Errorf("invalid redis address %q", parts[0])
	}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
