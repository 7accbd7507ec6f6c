package config

import (
	"strings"
	"testing"
	"time"
)

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"LOCAL_AUTH_MODE":          "HS256",
		"LOCAL_AUTH_SHARED_SECRET": "s3cret",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != DriverMemory || cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.BoardsTable != "boards" || cfg.ColumnsTable != "columns" || cfg.TasksTable != "tasks" {
		t.Fatalf("unexpected table defaults %+v", cfg)
	}
	if cfg.BoardCacheTTL != 5*time.Minute || cfg.JWKSCacheTTL != 15*time.Minute || cfg.DeduperTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl defaults %v %v %v", cfg.BoardCacheTTL, cfg.JWKSCacheTTL, cfg.DeduperTTL)
	}
	if !cfg.LocalAuth() || cfg.SharedSecret != "s3cret" {
		t.Fatal("expected local auth")
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Fatalf("expected no cors origins, got %v", cfg.CORSOrigins)
	}
}

func TestLoadAuth0(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"AUTH0_DOMAIN":                 "tenant.eu.auth0.com",
		"AUTH0_AUDIENCE":               "https://kanban",
		"FUNCTIONS_CUSTOMHANDLER_PORT": "7071",
		"CORS_ORIGINS":                 "https://a.test, https://b.test,",
		"DEBUG":                        "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LocalAuth() {
		t.Fatal("expected jwks auth")
	}
	if cfg.JWKSURL() != "https://tenant.eu.auth0.com/.well-known/jwks.json" || cfg.Issuer() != "https://tenant.eu.auth0.com/" {
		t.Fatalf("unexpected auth0 urls %s %s", cfg.JWKSURL(), cfg.Issuer())
	}
	if cfg.ListenAddr != ":7071" || !cfg.Debug {
		t.Fatalf("unexpected %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
}

func TestLoadErrors(t *testing.T) {
	auth := map[string]string{"AUTH0_TEST_MODE": "1", "TEST_JWT_SECRET": "x"}
	with := func(extra map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range auth {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	cases := map[string]map[string]string{
		"missing auth0":        {},
		"missing local secret": {"LOCAL_AUTH_MODE": "hs256"},
		"missing test secret":  {"AUTH0_TEST_MODE": "1"},
		"unknown driver":       with(map[string]string{"STORE_DRIVER": "mongo"}),
		"postgres without url": with(map[string]string{"STORE_DRIVER": "postgres"}),
		"postgres without credential": with(map[string]string{
			"STORE_DRIVER": "postgres", "STORE_URL": "postgres://db:5432/kanban",
		}),
		"postgres without caller credential": with(map[string]string{
			"STORE_DRIVER": "postgres", "STORE_URL": "postgres://db:5432/kanban",
			"STORE_SERVICE_CREDENTIAL": "svc:pw",
		}),
		"tables sas without caller credential": with(map[string]string{
			"STORE_DRIVER": "tables", "STORE_URL": "https://acct.table.core.windows.net",
			"STORE_SERVICE_CREDENTIAL": "sv=2024&sig=abc",
		}),
		"bad ttl":          with(map[string]string{"BOARD_CACHE_TTL": "soon"}),
		"negative ttl":     with(map[string]string{"JWKS_CACHE_TTL": "-1m"}),
		"zero deduper ttl": with(map[string]string{"DEDUPER_TTL": "0s"}),
		"bad debug":        with(map[string]string{"DEBUG": "maybe"}),
		"queue without cs": with(map[string]string{"BOARD_EVENTS_QUEUE": "board-events"}),
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFrom(envMap(env)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadTablesConnectionString(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"AUTH0_TEST_MODE": "1",
		"TEST_JWT_SECRET": "x",
		"STORE_DRIVER":    "Tables",
		"STORE_URL":       "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=abc",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != DriverTables {
		t.Fatalf("expected tables driver, got %s", cfg.StoreDriver)
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:pw@localhost:6379/2")
	if err != nil || opts.Addr != "localhost:6379" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v, %v", opts, err)
	}

	opts, err = RedisOptions("cache.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "cache.redis.cache.windows.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options %+v", opts)
	}

	if _, err := RedisOptions(""); err == nil {
		t.Fatal("expected error for empty string")
	}
	if _, err := RedisOptions("http://nope"); err == nil || !strings.Contains(err.Error(), "invalid redis address") {
		t.Fatalf("expected invalid address, got %v", err)
	}
}

func TestLoadPostgresCredentials(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"AUTH0_TEST_MODE":          "1",
		"TEST_JWT_SECRET":          "x",
		"STORE_DRIVER":             "postgres",
		"STORE_URL":                "postgres://db:5432/kanban",
		"STORE_SERVICE_CREDENTIAL": "svc:pw",
		"STORE_CALLER_CREDENTIAL":  "caller:pw",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreCallerCredential != "caller:pw" || cfg.StoreServiceCredential != "svc:pw" {
		t.Fatalf("credentials not loaded for driver %s", cfg.StoreDriver)
	}
}
