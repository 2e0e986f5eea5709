package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/grantry/grantry"
	"github.com/grantry/grantry/cache/redis"
	"github.com/grantry/grantry/storage/memory"
	"github.com/grantry/grantry/storage/pebble"
	"github.com/grantry/grantry/storage/postgres"
	"github.com/grantry/grantry/storage/sqlite3"
)

type Config struct {
	Storage     string `env:"GRANTRY_STORAGE" envDefault:"memory"`
	DatabaseURL string `env:"GRANTRY_DATABASE_URL"`
	SQLiteFile  string `env:"GRANTRY_SQLITE_FILE" envDefault:"grantry.db"`
	PebbleDir   string `env:"GRANTRY_PEBBLE_DIR" envDefault:"pebble"`
	RedisURL    string `env:"GRANTRY_REDIS_URL"`
}

func NewServerCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server [flags] [actions-file]",
		Short: "Serve permission checks over HTTP",
		Args:  cobra.MaximumNArgs(1),
	}

	var (
		port int
	)

	flags := cmd.Flags()
	flags.IntVar(&port, "port", 4000, "port the server is listening on")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg := Config{}
		if err := env.Parse(&cfg); err != nil {
			return err
		}

		storage, err := newStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()
		log.Info("using storage backend", slog.String("backend", cfg.Storage))

		pingers := []Pinger{}
		if p, ok := storage.(Pinger); ok {
			pingers = append(pingers, p)
		}

		var cache grantry.ResolutionCache = grantry.NewCache(storage)
		if cfg.RedisURL != "" {
			redisCfg := redis.Config{}
			if err := env.Parse(&redisCfg); err != nil {
				return err
			}
			client, err := redis.Connect(ctx, redisCfg)
			if err != nil {
				return err
			}
			defer client.Close()
			redisCache := redis.NewCache(client, storage)
			cache = redisCache
			pingers = append(pingers, redisCache)
			log.Info("using redis resolution cache")
		}

		var registry grantry.Registry
		if len(args) > 0 {
			registry, err = loadRegistry(args[0])
			if err != nil {
				return err
			}
			log.Info("loaded action registry", slog.Int("actions", len(registry)), slog.String("file", args[0]))
		}

		resolver := grantry.NewResolver(cache)
		mux := NewHandler(log.WithGroup("handler"), resolver, registry, pingers...)

		server := http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
			BaseContext: func(l net.Listener) context.Context {
				return ctx
			},
		}

		// Start HTTP server at :4000.
		log.Info(fmt.Sprintf("started server on 0.0.0.0:%d, http://localhost:%d", port, port))
		go func() {
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				log.Info("server gracefully closed")
			} else if err != nil {
				log.Error("error listening on server", slog.Any("error", err))
			}
		}()

		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error("error on server shutdown", slog.Any("error", err))
			return err
		}
		return nil
	}

	return cmd
}

func newStorage(cfg Config) (grantry.Storage, error) {
	switch cfg.Storage {
	case "memory":
		return memory.NewMemoryStorage(), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("GRANTRY_DATABASE_URL is required for the postgres backend")
		}
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		return postgres.NewPostgresStorage(cfg.DatabaseURL)
	case "sqlite3":
		if err := sqlite3.RunMigrations(cfg.SQLiteFile); err != nil {
			return nil, err
		}
		return sqlite3.NewSQLite3Storage(cfg.SQLiteFile)
	case "pebble":
		return pebble.NewPebbleStorage(cfg.PebbleDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// loadRegistry reads a JSON array of actions, e.g.
// [{"name":"read"},{"name":"edit","parameterized":true}].
func loadRegistry(filename string) (grantry.Registry, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	actions := []grantry.Action{}
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("malformed actions file %s: %w", filename, err)
	}
	return grantry.NewRegistry(actions...), nil
}
