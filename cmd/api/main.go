package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/driftlab/driftchat/internal/bus"
	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/config"
	"github.com/driftlab/driftchat/internal/handler"
	"github.com/driftlab/driftchat/internal/handler/ws"
	"github.com/driftlab/driftchat/internal/hub"
	"github.com/driftlab/driftchat/internal/janitor"
	"github.com/driftlab/driftchat/internal/model/assistant"
	"github.com/driftlab/driftchat/internal/service/ai"
	"github.com/driftlab/driftchat/internal/service/auth"
	chatservice "github.com/driftlab/driftchat/internal/service/chat"
	"github.com/driftlab/driftchat/internal/service/history"
	"github.com/driftlab/driftchat/internal/service/limiter"
	"github.com/driftlab/driftchat/internal/store"
	"github.com/driftlab/driftchat/internal/store/gormstore"
)

// repositories is the durable surface the services need; both the sqlite
// store and the in-memory fallback satisfy it.
type repositories interface {
	store.UserRepo
	store.RoomRepo
	store.MessageRepo
	store.FileRepo
	store.SessionStore
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration invalid", zap.Error(err))
	}
	if cfg.Auth.JWTKey == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// Durable store: sqlite when configured, process-local otherwise.
	var repos repositories
	var storePinger handler.Pinger
	if cfg.Store.Enabled() {
		gs, err := gormstore.Open(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatal("sqlite store open failed", zap.String("path", cfg.Store.SQLitePath), zap.Error(err))
		}
		repos = gs
		storePinger = gs
		log.Info("sqlite store ready", zap.String("path", cfg.Store.SQLitePath))
	} else {
		repos = store.NewMemory()
		log.Warn("no SQLITE_PATH configured, using in-memory store")
	}

	// Shared cache and bus: redis when configured, single-instance
	// in-memory stand-ins otherwise.
	var sharedCache cache.Cache
	var pubsub bus.PubSub
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		sharedCache = cache.NewRedis(client, "driftchat")
		pubsub = bus.NewRedis(client)
		log.Info("redis ready", zap.String("addr", cfg.Redis.Addr))
	} else {
		sharedCache = cache.NewMemory()
		pubsub = bus.NewMemory()
		log.Warn("no REDIS_ADDR configured, running single-instance with in-memory cache and bus")
	}

	origin := uuid.NewString()
	conns := hub.NewConnections(cfg.Limits.MaxConnections, cfg.Limits.PreemptWait, log)
	presence := hub.NewPresence(cfg.Limits.MaxPresence)
	h := hub.New(conns, presence, pubsub, origin, log)

	assistantStore := assistant.NewMemoryStore(assistant.Seed())
	authSvc := auth.New(auth.NewJWTVerifier([]byte(cfg.Auth.JWTKey)), repos, repos, sharedCache, cfg.Auth.UserCacheTTL, log)
	rateLimiter := limiter.New(sharedCache, cfg.Limits.RateWindow, cfg.Limits.RateMax, cfg.Limits.MaxRateBuckets, log)

	chatSvc := chatservice.New(chatservice.Deps{
		Rooms:      repos,
		Users:      repos,
		Files:      repos,
		Messages:   repos,
		Sessions:   repos,
		Cache:      sharedCache,
		Limiter:    rateLimiter,
		Assistants: assistantStore,
		Hub:        h,
		Log:        log,
	})
	loader := history.New(repos, chatSvc, sharedCache, h, cfg.Limits.MaxInflight, log)

	var coordinator *ai.Coordinator
	if cfg.AI.Enabled() {
		gen, err := ai.NewArkGenerator(ctx, cfg.AI)
		if err != nil {
			log.Warn("ai generator init failed, mentions will be ignored", zap.Error(err))
		} else {
			coordinator = ai.NewCoordinator(gen, assistantStore, repos, h, cfg.Limits.MaxStreams, log)
			chatSvc.SetStreamer(coordinator)
			log.Info("ai streaming ready", zap.String("model", cfg.AI.Model))
		}
	} else {
		log.Info("ark credentials not configured, assistant mentions disabled")
	}

	maint := janitor.New(janitor.Config{
		Interval:       cfg.Limits.JanitorInterval,
		RateMaxAge:     2 * cfg.Limits.RateWindow,
		InflightMaxAge: 5 * time.Minute,
		StreamIdle:     cfg.Limits.StreamIdle,
		HeapSoftBytes:  cfg.Limits.HeapSoftBytes,
		HeapHardBytes:  cfg.Limits.HeapHardBytes,
	}, conns, rateLimiter, loader, streamExpirer(coordinator), log)

	wsHandler := ws.NewHandler(authSvc, chatSvc, loader, h, log)
	router := handler.NewRouter(handler.Deps{
		WS:         wsHandler,
		Assistants: assistantStore,
		Cache:      sharedCache,
		Store:      storePinger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(runCtx) })
	g.Go(func() error { return maint.Run(runCtx) })
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("instance", origin))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		log.Info("shutting down", zap.Duration("grace", cfg.Server.ShutdownGrace))

		if coordinator != nil {
			coordinator.CancelAll()
		}
		conns.TerminateAll(hub.ReasonShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("stopped")
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// streamExpirer adapts the optional AI coordinator for the janitor; with
// AI disabled there is nothing to expire.
func streamExpirer(c *ai.Coordinator) janitor.StreamExpirer {
	if c == nil {
		return noStreams{}
	}
	return c
}

type noStreams struct{}

func (noStreams) ExpireIdle(time.Duration) int { return 0 }
