// syncctl inspects and manages the durable pending-mutation queue of a
// driversync agent, directly against its storage backend.
//
// Usage:
//
//	syncctl -config config.yaml inspect
//	syncctl -config config.yaml purge
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/movingmountains/driversync/internal/core/config"
	"github.com/movingmountains/driversync/internal/infra/storage"
	"github.com/movingmountains/driversync/internal/infra/storage/postgres"
	redisstore "github.com/movingmountains/driversync/internal/infra/storage/redis"
	"github.com/movingmountains/driversync/internal/sync/queue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339,
	})))

	_ = godotenv.Load()

	cmd := flag.Arg(0)
	if cmd == "" {
		fmt.Fprintln(os.Stderr, "usage: syncctl [-config file] inspect|purge")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closer, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer()
	}

	switch cmd {
	case "inspect":
		err = inspect(ctx, store)
	case "purge":
		err = purge(ctx, store)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, func() error, error) {
	switch cfg.Driver {
	case "redis":
		store, err := redisstore.NewStore(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("storage driver %q holds no durable queue to manage", cfg.Driver)
	}
}

// inspect pretty-prints the raw pending-actions blob.
func inspect(ctx context.Context, store storage.BlobStore) error {
	data, err := store.Get(ctx, queue.StorageKey)
	if err == storage.ErrNotFound {
		fmt.Println("[]")
		return nil
	}
	if err != nil {
		return err
	}

	var pretty json.RawMessage = data
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		// Blob is not valid JSON; dump it as-is so the operator can see why.
		fmt.Printf("%s\n", data)
		return nil
	}
	fmt.Printf("%s\n", out)
	return nil
}

// purge deletes the pending-actions blob. Queued mutations are lost.
func purge(ctx context.Context, store storage.BlobStore) error {
	if err := store.Delete(ctx, queue.StorageKey); err != nil && err != storage.ErrNotFound {
		return err
	}
	fmt.Println("Pending mutation queue purged")
	return nil
}
