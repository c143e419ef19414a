package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/broadcast"
	"github.com/example/agro-freight/internal/config"
	"github.com/example/agro-freight/internal/geo"
	httpapi "github.com/example/agro-freight/internal/http"
	"github.com/example/agro-freight/internal/ingest"
	"github.com/example/agro-freight/internal/lifecycle"
	"github.com/example/agro-freight/internal/logging"
	"github.com/example/agro-freight/internal/rating"
	"github.com/example/agro-freight/internal/storage"
)

const migrationFile = "001_create_shipments.sql"

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DevSecret() {
		logger.Warn("JWT_SECRET not set, signing with the development secret")
	}

	var checks []httpapi.Check

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := migrate(ctx, pg.DB(), filepath.Join("migrations", migrationFile)); err != nil {
				return err
			}
			logger.Info("migration applied", "file", migrationFile)
		}
		checks = append(checks, httpapi.Check{Name: "postgres", Fn: pg.DB().PingContext})
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using the in-memory store")
		store = storage.NewMemoryStore()
	}

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		checks = append(checks, httpapi.Check{Name: "redis", Fn: func(ctx context.Context) error { return rc.Ping(ctx).Err() }})
	}

	var live geo.Geo = geo.NewIndex()
	if rc != nil {
		live = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
	}

	var events lifecycle.EventSink = geo.Projector{Geo: live}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		events = producer
		logger.Info("publishing lifecycle events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	hub := broadcast.NewHub(logger)
	var publisher broadcast.Publisher = hub
	var relay *broadcast.RedisRelay
	if cfg.BroadcastRelay {
		relay = broadcast.NewRedisRelay(rc, hub, logger)
		publisher = relay
	}

	ratings := rating.NewWorker(rating.NewClient(cfg.AIServiceURL, cfg.AITimeout), store, cfg.RatingWorkers, cfg.RatingQueueSize, logger)

	svc := &lifecycle.Service{
		Store:      store,
		Publisher:  publisher,
		Events:     events,
		Ratings:    ratings,
		PricePerKm: cfg.PricePerKm,
		SpeedKmh:   cfg.AvgSpeedKmh,
		Logger:     logger,
	}
	authn := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewServer(httpapi.Deps{
			Service: svc,
			Auth:    authn,
			Hub:     hub,
			Geo:     live,
			Ratings: ratings,
			Checks:  checks,
			Logger:  logger,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("agro-freight listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return ratings.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// migrate runs a schema file as a single batch. The statements are idempotent.
func migrate(ctx context.Context, db *sql.DB, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply %s: %w", filepath.Base(path), err)
	}
	return nil
}
