package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"itinera/api/internal/app"
	"itinera/api/internal/auth"
	"itinera/api/internal/export"
	"itinera/api/internal/metrics"
	"itinera/api/internal/notify"
	"itinera/api/internal/planner"
	"itinera/api/internal/presence"
	"itinera/api/internal/search"
	"itinera/api/internal/store"
	"itinera/api/internal/util"
)

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewSQLStore(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	meters, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		backend = meili
	}
	searchService := search.NewService(backend, dataStore, logger)

	instance := util.NewID()
	var roster presence.Roster
	var fanout presence.Fanout
	var redisCheck app.Pinger
	if strings.TrimSpace(cfg.RedisURL) != "" {
		var client *redis.Client
		client, err = presence.Connect(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()
		redisRoster := presence.NewRedisRoster(client)
		roster = redisRoster
		redisCheck = redisRoster
		fanout = presence.NewRedisFanout(client, instance)
		logger.Info().Msg("using redis for presence")
	} else {
		logger.Info().Msg("using in-process presence")
	}

	engine := planner.NewEngine(dataStore, planner.Options{MaxBoards: cfg.MaxBoards, Logger: logger})
	exporter := export.NewService(dataStore, export.Options{ChromePath: cfg.ChromePath})

	// The hub authorizes joins through the service and the service signals
	// the hub after commits, so the service is wired in two steps.
	var service *app.Service
	hub := presence.NewHub(presence.Options{
		Config: presence.Config{
			SendQueue:     cfg.WS.SendQueue,
			PingInterval:  cfg.WS.PingInterval,
			PongWait:      cfg.WS.PongWait,
			WriteWait:     cfg.WS.WriteWait,
			MaxMessage:    cfg.WS.MaxMessage,
			RatePerSec:    cfg.WS.RatePerSec,
			RateBurst:     cfg.WS.RateBurst,
			AllowedOrigin: cfg.CORSOrigin,
		},
		Roster:     roster,
		Fanout:     fanout,
		Authorizer: joinAuthorizer(func(ctx context.Context, templateID, userID string) error {
			return service.AuthorizeJoin(ctx, templateID, userID)
		}),
		Logger:   logger,
		Metrics:  meters,
		Instance: instance,
	})

	dispatcher := notify.NewDispatcher(dataStore, hub, notify.Options{Logger: logger, Metrics: meters})

	service = app.New(app.Options{
		Store:    dataStore,
		Engine:   engine,
		Presence: hub,
		Notifier: dispatcher,
		Search:   searchService,
		Export:   exporter,
		Metrics:  meters,
		Logger:   logger,
	})

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		Verifier:   auth.NewVerifier(cfg.JWTSecret),
		Sockets:    hub,
		Redis:      redisCheck,
		Metrics:    meters,
		Logger:     logger,
		CORSOrigin: cfg.CORSOrigin,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("itinera api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

type joinAuthorizer func(ctx context.Context, templateID, userID string) error

func (f joinAuthorizer) AuthorizeJoin(ctx context.Context, templateID, userID string) error {
	return f(ctx, templateID, userID)
}
