package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"slotkeeper/internal/availability"
	"slotkeeper/internal/booking"
	"slotkeeper/internal/concurrency"
	"slotkeeper/internal/config"
	"slotkeeper/internal/db"
	"slotkeeper/internal/events"
	"slotkeeper/internal/holdstore"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/sweeper"
)

// app holds the wired components. Bookings and Holds are the in-process API.
type app struct {
	DB       *db.DB
	Redis    *redis.Client
	Store    holdstore.Store
	Calc     *availability.Calculator
	Holds    *concurrency.Manager
	Bookings *booking.Service
	Sweeper  *sweeper.Sweeper
	Backups  *db.BackupService
}

func main() {
	configPath := os.Getenv("SLOTKEEPER_CONFIG_PATH")

	bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if err := config.LoadEnv(); err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.close()

	// Availability defaults are hot-reloadable; the initial load already happened.
	if err := config.WatchAvailability(ctx, configPath, 30*time.Second, &logger, func(s availability.Settings) {
		a.Calc.SetDefaults(s)
		logger.Info().Int("slot_minutes", s.SlotDurationMinutes).Int("buffer_minutes", s.BufferMinutes).
			Int("notice_hours", s.MinimumNoticeHours).Msg("availability settings applied")
	}); err != nil {
		logger.Warn().Err(err).Msg("config watch disabled")
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, a, &logger)
	if cfg.Monitoring.GRPCHealthPort > 0 {
		go startGRPCHealthServer(ctx, cfg.Monitoring.GRPCHealthPort, a, &logger)
	}
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	go a.Sweeper.Start(ctx)
	go a.Backups.Start(ctx)

	logger.Info().Dur("hold_ttl", a.Holds.HoldTTL()).Msg("slotkeeper started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	a.Sweeper.Stop()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	database, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.DB = database

	if cfg.Redis.Address != "" {
		rdb, err := holdstore.Connect(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = rdb
		a.Store = holdstore.NewRedisStore(rdb)
		logger.Info().Str("address", cfg.Redis.Address).Msg("hold store: redis")
	} else {
		a.Store = holdstore.NewMemoryStore(nil)
		logger.Warn().Msg("hold store: in-memory, holds are not shared between instances")
	}

	loc, err := cfg.Location()
	if err != nil {
		a.close()
		return nil, err
	}
	a.Calc = availability.NewCalculator(database,
		availability.WithLocation(loc),
		availability.WithDefaults(cfg.AvailabilitySettings()),
	)

	bus := events.NewEventBus()
	database.SubscribeAudit(bus)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.Subscribe(bus)
	}

	customer, guest := cfg.HoldLimits()
	altDays, altLimit := cfg.Alternatives()
	a.Holds = concurrency.NewManager(a.Store, database, logger,
		concurrency.WithHoldTTL(cfg.HoldTTL()),
		concurrency.WithRecordGrace(cfg.RecordGrace()),
		concurrency.WithDefaultCapacity(cfg.DefaultCapacity()),
		concurrency.WithLimits(customer, guest),
		concurrency.WithSlotChecker(a.Calc),
		concurrency.WithAlternatives(altDays, altLimit, a.Calc),
		concurrency.WithEvents(bus),
	)
	a.Bookings = booking.NewService(database, a.Holds, bus, logger)

	a.Sweeper = sweeper.New(sweeper.Config{
		Interval:     cfg.SweepInterval(),
		ReleaseRate:  cfg.Sweeper.ReleaseRate,
		ReleaseBurst: cfg.Sweeper.ReleaseBurst,
	}, a.Holds, logger)

	a.Backups = db.NewBackupService(database, db.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.Backup.StoragePath,
		RetentionDays: cfg.Backup.RetentionDays,
	}, logger)

	return a, nil
}

func (a *app) close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// ready pings the durable store and the hold store.
func (a *app) ready(ctx context.Context) error {
	ctxPing, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := a.DB.Ping(ctxPing); err != nil {
		return fmt.Errorf("db not ready: %w", err)
	}
	if err := a.Store.Ping(ctxPing); err != nil {
		return fmt.Errorf("hold store not ready: %w", err)
	}
	return nil
}

func startHealthServer(ctx context.Context, port int, a *app, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("health server error")
	}
}

// startGRPCHealthServer serves grpc.health.v1 and refreshes the overall
// status from the readiness probe.
func startGRPCHealthServer(ctx context.Context, port int, a *app, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("grpc health listen error")
		return
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if err := a.ready(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	update()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error().Err(err).Msg("grpc health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
