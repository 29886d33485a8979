package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskpulse/api"
	"taskpulse/broadcast"
	"taskpulse/config"
	"taskpulse/domain"
	"taskpulse/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	if cfg.InitStorage && cfg.StorageConnectionString != "" {
		if cfg.StoreType == config.StoreTable {
			if err := storage.CreateTables(ctx, cfg.StorageConnectionString, cfg.TasksTable); err != nil {
				log.Fatalf("create tables: %v", err)
			}
		}
		if err := storage.CreateQueues(ctx, cfg.StorageConnectionString, cfg.EventsQueue); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	var store domain.TaskStore
	switch cfg.StoreType {
	case config.StoreTable:
		ts, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = ts
	default:
		log.Warn("using in-memory task store; tasks are lost on restart")
		store = storage.NewMemoryStore()
	}

	dispatcher := broadcast.NewDispatcher(
		broadcast.WithScope(cfg.Scope()),
		broadcast.WithQueueSize(cfg.SessionQueueSize),
	)

	var sinks []broadcast.Sink
	var deduper api.Deduper
	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()

		store = storage.NewCache(store, rc, cfg.CacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.IdempotencyTTL)

		relay := broadcast.NewRelay(rc, cfg.RelayChannel, dispatcher)
		sinks = append(sinks, relay)
		go relay.Run(ctx)
		log.WithField("instance", relay.Instance()).Info("redis relay enabled")
	}
	if cfg.EventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		sinks = append(sinks, queue)
	}
	if len(sinks) > 0 {
		forwarder := broadcast.NewForwarder(broadcast.ForwarderConfig{
			Workers:        cfg.ForwarderWorkers,
			Buffer:         cfg.ForwarderBuffer,
			Timeout:        cfg.ForwarderTimeout,
			HandoffTimeout: cfg.ForwarderHandoff,
		}, sinks...)
		defer forwarder.Close()
		dispatcher.Attach(forwarder)
	}

	var auth *api.Auth
	if cfg.AuthMode == config.AuthHS256 {
		auth = api.NewAuth(api.AuthOptions{Secret: []byte(cfg.AuthSecret), Audience: cfg.Auth0Audience})
	} else {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(api.AuthOptions{
			JWKS:        jwks,
			Audience:    cfg.Auth0Audience,
			Issuer:      cfg.Issuer(),
			KeyCacheTTL: cfg.JWKSCacheTTL,
		})
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			echo.HeaderContentEncoding, "X-Session-ID", "Idempotency-Key",
		},
	}))
	e.Use(api.GzipRequestMiddleware())
	if cfg.Pprof {
		pprof.Register(e)
	}

	api.Register(e, api.Deps{
		Authority:  domain.NewAuthority(store, dispatcher),
		Dispatcher: dispatcher,
		Auth:       auth,
		Deduper:    deduper,
		Logger:     log.StandardLogger(),
		Heartbeat:  cfg.HeartbeatInterval,
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
}
