package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/billing"
	"github.com/hackgods/clinic-booking/internal/calendar"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up", zap.String("http_port", cfg.HTTPPort), zap.String("version", version))

	grid, err := calendar.ParseGrid(cfg.SlotGrid)
	if err != nil {
		return fmt.Errorf("slot grid: %w", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		return err
	}
	log.Info("connected to Postgres, schema up to date")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, log)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		pub, err := notify.DialPublisher(cfg.AMQPURL, cfg.NotifyQueue, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		notifier = pub
	} else {
		log.Warn("AMQP_URL not set, notifications are disabled")
	}

	// an untyped nil keeps the gateway's "card payments unavailable" branch
	var card payment.Provider
	if cfg.StripeSecretKey != "" {
		card = payment.NewCardProvider(cfg.StripeSecretKey, &http.Client{Timeout: cfg.GatewayTimeout})
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, card payments are disabled")
	}
	gateway := payment.NewGateway(card, payment.NewManualProvider(), cfg.GatewayTimeout, cfg.Currency, log)

	clinicRepo := clinic.NewPgRepository(pgPool)
	clinicSvc := clinic.NewService(clinicRepo)

	ledger := billing.NewService(billing.NewPgRepository(pgPool), clinicRepo, gateway, locker, notifier, cfg.Currency, log)

	appointments := appointment.NewService(appointment.Deps{
		Repo:     appointment.NewPgRepository(pgPool),
		Clinic:   clinicRepo,
		Ledger:   ledger,
		Locker:   locker,
		Grid:     grid,
		Policy:   appointment.PolicyFor(cfg.StrictTransitions),
		Notifier: notifier,
		Currency: cfg.Currency,
		Log:      log,
	})

	router := api.NewRouter(api.RouterConfig{
		Handler:            api.NewHandler(appointments, ledger, clinicSvc, grid, log),
		Health:             api.NewHealthHandler(pgPool.Ping, redisclient.Ping(rdb), cfg.Env, version),
		Log:                log,
		JWTSecret:          cfg.JWTSecret,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
