package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/config"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/httpapi"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/hub"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/models"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/queue"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/realtime"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/slotlock"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store/memory"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/store/postgres"
	"github.com/ZaXSeT/dental-clinic-queue-reservation-system-sub000/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	ticketStore, cleanup, err := buildTicketStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store setup failed")
	}
	defer cleanup()

	lockStore, err := buildLockStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("slot lock store setup failed")
	}

	broadcastHub := hub.NewHub()

	// Wired in two steps: the engine needs the publisher for push, the
	// publisher needs the engine for snapshots.
	engine := queue.NewEngine(ticketStore, nil, nil, queue.Config{
		Rooms:        cfg.Rooms,
		LockTimeout:  cfg.DayLockTimeout,
		OpenTime:     cfg.OpenTime,
		CloseTime:    cfg.CloseTime,
		SlotInterval: cfg.SlotInterval,
	})
	publisher := realtime.NewPublisher(engine, broadcastHub, log)
	locker := slotlock.NewManager(lockStore, publisher, cfg.SlotLockTTL())
	engine.SetBroadcaster(publisher)
	engine.SetSlotLocks(locker)

	apiHandler := httpapi.NewHandler(engine, locker, httpapi.Options{
		JWTSecret:     cfg.JWTSecret,
		RateLimit:     cfg.RateLimit,
		RateInterval:  cfg.RateInterval,
		Logger:        log,
		EnableTracing: cfg.OTLPEndpoint != "",
	})

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	mux.Handle("/ws/", realtime.NewSocketHandler("/ws", broadcastHub, publisher, log))
	mux.Handle("/debug/vars", expvar.Handler())

	poller := realtime.NewPoller(publisher, cfg.SnapshotInterval)
	go poller.Run(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.Port).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func buildTicketStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.TicketStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		memStore := memory.NewStore()
		memStore.SeedDoctors([]models.Doctor{
			{DoctorID: "doc-1", Name: "drg. Default"},
		})
		return memStore, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func buildLockStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (slotlock.LockStore, error) {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("REDIS_ADDR not set, slot locks are per-instance")
		return slotlock.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return slotlock.NewRedisStore(client), nil
}
