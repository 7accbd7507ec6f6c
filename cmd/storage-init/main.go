// Command storage-init creates the board tables, the change feed queue and,
// for the postgres driver, applies the schema migrations. Every step is
// idempotent.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"kanban-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		if err := createTables(ctx, connStr, []string{
			envOr("BOARDS_TABLE", "boards"),
			envOr("COLUMNS_TABLE", "columns"),
			envOr("TASKS_TABLE", "tasks"),
		}); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		if err := createQueues(ctx, connStr, []string{os.Getenv("BOARD_EVENTS_QUEUE")}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	if os.Getenv("STORE_DRIVER") == storage.DriverPostgres {
		if err := migrate(ctx, os.Getenv("STORE_URL"), os.Getenv("STORE_SERVICE_CREDENTIAL")); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	log.Info("storage init complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err = q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}

// migrate needs the service login; the caller role is created by the
// migrations themselves.
func migrate(ctx context.Context, url, serviceCredential string) error {
	if url == "" || serviceCredential == "" {
		return errors.New("missing STORE_URL or STORE_SERVICE_CREDENTIAL")
	}
	pg, err := storage.NewPostgres(ctx, storage.PostgresConfig{
		URL:               url,
		ServiceCredential: serviceCredential,
	})
	if err != nil {
		return err
	}
	defer pg.Close()
	return storage.ApplyMigrations(ctx, pg.ServicePool())
}
