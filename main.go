package main

import (
	"context"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/api"
	"kanban-api/config"
	"kanban-api/domain"
	"kanban-api/storage"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	}

	var publisher storage.Publisher
	if cfg.QueueConnectionString != "" {
		qp, err := storage.NewQueuePublisher(cfg.QueueConnectionString, cfg.BoardEventsQueue)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		publisher = qp
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	backend, closeStore, err := storage.Open(ctx, storage.Options{
		Driver:            cfg.StoreDriver,
		URL:               cfg.StoreURL,
		CallerCredential:  cfg.StoreCallerCredential,
		ServiceCredential: cfg.StoreServiceCredential,
		BoardsTable:       cfg.BoardsTable,
		ColumnsTable:      cfg.ColumnsTable,
		TasksTable:        cfg.TasksTable,
		Redis:             rc,
		CacheTTL:          cfg.BoardCacheTTL,
		Publisher:         publisher,
		Log:               logger,
	})
	cancel()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var auth *api.Auth
	if cfg.LocalAuth() {
		auth = api.NewAuth(api.AuthConfig{SharedSecret: []byte(cfg.SharedSecret)})
	} else {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(api.AuthConfig{
			JWKS:        jwks,
			Audience:    cfg.Auth0Audience,
			Issuer:      cfg.Issuer(),
			KeyCacheTTL: cfg.JWKSCacheTTL,
		})
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := api.NewEcho(api.ServerConfig{CORSOrigins: cfg.CORSOrigins})
	api.Register(e, api.Deps{
		Auth:       auth,
		Privileged: storage.NewClient(backend, storage.ServiceCredential()),
		Scoped: func(id domain.Identity) api.BoardStore {
			return storage.NewClient(backend, storage.CallerCredential(id))
		},
		Deduper: deduper,
		Health: func(ctx context.Context) error {
			if rc == nil {
				return nil
			}
			return rc.Ping(ctx).Err()
		},
		Log: logger,
	})

	log.WithFields(log.Fields{
		"driver": cfg.StoreDriver,
		"addr":   cfg.ListenAddr,
		"cache":  rc != nil,
		"events": publisher != nil,
	}).Info("kanban api starting")
	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
