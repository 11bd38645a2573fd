package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/trip-sync/internal/backend"
	"github.com/example/trip-sync/internal/config"
	"github.com/example/trip-sync/internal/dispatch"
	"github.com/example/trip-sync/internal/feed"
	"github.com/example/trip-sync/internal/geo"
	httpapi "github.com/example/trip-sync/internal/http"
	"github.com/example/trip-sync/internal/ingest"
	"github.com/example/trip-sync/internal/logging"
	"github.com/example/trip-sync/internal/models"
	"github.com/example/trip-sync/internal/payments"
	"github.com/example/trip-sync/internal/routing"
	"github.com/example/trip-sync/internal/snapshot"
	"github.com/example/trip-sync/internal/store"
	syncchan "github.com/example/trip-sync/internal/sync"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN)
	}

	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.TripTopic, cfg.MessageTopic, cfg.LocationTopic)
		defer producer.Close()
	}

	var be backend.Backend
	if cfg.PGDSN != "" {
		pg, err := backend.NewPostgres(cfg.PGDSN, producer)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		be = pg
	} else {
		mem := backend.NewMemory()
		if producer != nil {
			mem.WithPublisher(producer)
		}
		be = mem
		logger.Warn("no PG_DSN set, using in-memory backend")
	}

	snap, err := snapshot.Open(cfg.SnapshotPath)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}
	defer snap.Close()

	role := models.Role(cfg.ActorRole)
	opts := []store.Option{store.WithSnapshot(snap), store.WithRequestTimeout(cfg.RequestTimeout)}
	if os.Getenv("STRIPE_API_KEY") != "" {
		settler := payments.NewStripeSettler(payments.NewStripeClient(cfg.Currency), nil)
		opts = append(opts, store.WithSettler(settler))
	}
	st := store.New(be, role, cfg.ActorID, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Rehydrate(ctx); err != nil {
		logger.Error("rehydrate failed", "error", err)
	}

	var presence geo.Presence
	if cfg.RedisAddr != "" {
		presence = geo.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		presence = geo.NewIndex()
	}

	fd := feed.New(be)
	wsreg := dispatch.NewWSRegistry()

	var router routing.Provider
	if cfg.OSRMEndpoint != "" {
		router = routing.NewOSRMClient(cfg.OSRMEndpoint, cfg.GeocodeEndpoint)
	}

	if len(cfg.KafkaBrokers) > 0 {
		ch := syncchan.NewChannel(syncchan.Config{
			Brokers:       cfg.KafkaBrokers,
			TripTopic:     cfg.TripTopic,
			MessageTopic:  cfg.MessageTopic,
			GroupID:       "trip-sync-" + cfg.ActorRole + "-" + cfg.ActorID,
			RecencyWindow: cfg.RecencyWindow,
		}, st, logger)
		if role == models.RoleFulfiller {
			ch.OnOpenRequest = func(t *models.Trip) {
				entry := feed.Entry{Trip: t}
				nearby := presence.Nearby(t.OriginLat, t.OriginLng, 10)
				if len(nearby) == 0 {
					wsreg.Broadcast(entry)
					return
				}
				for _, d := range nearby {
					entry.Score = feed.Score(d, t)
					if err := wsreg.PushRequest(d.DriverID, entry); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
						logger.Warn("request push failed", "driver", d.DriverID, "error", err)
					}
				}
			}
		}
		defer ch.Close()
		go ch.Run(ctx)
	}

	srv := httpapi.NewServer(st, be, fd, presence, producer, wsreg, router, cfg.DefaultSpeedKmh, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("trip-sync client listening", "addr", cfg.HTTPAddr, "role", cfg.ActorRole, "actor", cfg.ActorID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// runMigrations applies the bundled schema; best-effort, matching a
// fresh local setup.
func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_trips.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_create_trips.sql")
}
