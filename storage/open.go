package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverTables   = "tables"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend stack.
type Options struct {
	Driver            string
	URL               string
	CallerCredential  string
	ServiceCredential string
	BoardsTable       string
	ColumnsTable      string
	TasksTable        string

	// Redis enables the read cache when non-nil.
	Redis    *redis.Client
	CacheTTL time.Duration
	// Publisher enables the change feed when non-nil.
	Publisher Publisher
	Log       *log.Logger
}

// Open builds the configured backend with its optional decorators. The
// returned func releases driver resources.
func Open(ctx context.Context, opts Options) (Backend, func(), error) {
	var (
		backend Backend
		closeFn = func() {}
	)
	switch strings.ToLower(opts.Driver) {
	case "", DriverMemory:
		backend = NewMemory()
	case DriverTables:
		cfg := TablesConfig{
			BoardsTable:  opts.BoardsTable,
			ColumnsTable: opts.ColumnsTable,
			TasksTable:   opts.TasksTable,
		}
		if strings.Contains(opts.URL, "AccountName=") {
			cfg.ConnectionString = opts.URL
		} else {
			cfg.ServiceURL = opts.URL
			cfg.CallerSAS = opts.CallerCredential
			cfg.ServiceKey = opts.ServiceCredential
		}
		t, err := NewTables(cfg)
		if err != nil {
			return nil, nil, err
		}
		backend = t
	case DriverPostgres:
		p, err := NewPostgres(ctx, PostgresConfig{
			URL:               opts.URL,
			CallerCredential:  opts.CallerCredential,
			ServiceCredential: opts.ServiceCredential,
		})
		if err != nil {
			return nil, nil, err
		}
		backend, closeFn = p, p.Close
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}

	if opts.Redis != nil {
		backend = NewCache(backend, opts.Redis, opts.CacheTTL)
	}
	if opts.Publisher != nil {
		backend = NewEvents(backend, opts.Publisher, opts.Log)
	}
	return backend, closeFn, nil
}
