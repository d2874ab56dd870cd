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

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/arenachat/internal/api"
	"github.com/lalith-99/arenachat/internal/config"
	"github.com/lalith-99/arenachat/internal/db"
	"github.com/lalith-99/arenachat/internal/mux"
	"github.com/lalith-99/arenachat/internal/observ"
	"github.com/lalith-99/arenachat/internal/realtime"
	"github.com/lalith-99/arenachat/internal/repository"
	"github.com/lalith-99/arenachat/internal/repository/memory"
	"github.com/lalith-99/arenachat/internal/repository/postgres"
	"github.com/lalith-99/arenachat/internal/resolver"
	"github.com/lalith-99/arenachat/internal/retry"
	"github.com/lalith-99/arenachat/internal/session"
	"github.com/lalith-99/arenachat/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// backend is everything that differs between self-contained mode and a
// real deployment.
type backend struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	roles    repository.RoleRepository
	broker   realtime.Broker
	health   func(ctx context.Context) error
	close    func()
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// SIGINT/SIGTERM cancel ctx; everything below shuts down from it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Metrics
	//
	// A private registry instead of prometheus.DefaultRegisterer so
	// tests can build as many Metrics as they like.
	// ---------------------------------------------------------------
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observ.NewMetrics(reg)

	// ---------------------------------------------------------------
	// 4. Storage and broker
	// ---------------------------------------------------------------
	var be *backend
	if cfg.SelfContained {
		be, err = selfContained(cfg, logger)
	} else {
		be, err = connect(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}
	defer be.close()

	// ---------------------------------------------------------------
	// 5. Messaging core
	//
	// One Manager per process: every session of every connection
	// shares its feeds, so N viewers of a channel cost one broker
	// subscription.
	// ---------------------------------------------------------------
	reconnect := retry.DefaultConfig()
	reconnect.MaxAttempts = cfg.ReconnectMaxAttempts

	manager := realtime.NewManager(be.broker, realtime.Options{
		QueueSize: cfg.SubscriberQueue,
		Retry:     reconnect,
	}, logger, metrics)
	defer manager.Close()

	res := resolver.New(logger)
	client := store.New(be.messages, res, manager, cfg.HistoryLimit, logger, metrics)
	deps := session.Deps{
		Store:             client,
		Realtime:          manager,
		Users:             be.users,
		MetadataCacheSize: cfg.MetadataCacheSize,
		MetadataTimeout:   cfg.MetadataLookupTimeout,
		Subscribe:         reconnect,
		Logger:            logger,
		Metrics:           metrics,
	}

	// ---------------------------------------------------------------
	// 6. HTTP
	// ---------------------------------------------------------------
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	routes := api.Routes{
		Channels:    api.NewChannelHandler(be.roles, res, client, logger),
		Messages:    api.NewMessageHandler(be.roles, res, client, logger),
		Users:       api.NewUserHandler(be.users, logger),
		Memberships: api.NewMembershipHandler(be.roles, res, logger),
		Gateway: api.NewGateway(be.roles, res, deps, api.GatewayOptions{
			MessagesPerSecond: cfg.WSMessagesPerSecond,
			Burst:             cfg.WSBurst,
			Mux:               mux.Options{NearBottomThreshold: cfg.NearBottomThreshold},
		}, logger),
		JWTSecret: cfg.JWTSecret,
		Health:    be.health,
	}
	if cfg.SelfContained {
		routes.Auth = api.NewAuthHandler(be.users, cfg.JWTSecret, logger)
	}
	routes.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting ArenaChat",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("self_contained", cfg.SelfContained),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// ---------------------------------------------------------------
	// 7. Graceful shutdown
	//
	// Shutdown stops accepting and waits for plain requests. Hijacked
	// websocket connections are not tracked by http.Server; they end
	// when manager.Close (deferred above) closes their feeds and the
	// process exits.
	// ---------------------------------------------------------------
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// selfContained builds in-memory stores and an in-process broker.
func selfContained(cfg *config.Config, logger *zap.Logger) (*backend, error) {
	dir := memory.NewDirectory()
	if cfg.SeedFile != "" {
		f, err := os.Open(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		if err := dir.LoadSeed(f); err != nil {
			return nil, fmt.Errorf("load seed file: %w", err)
		}
	}
	logger.Warn("running self-contained: messages are kept in memory only",
		zap.String("seed_file", cfg.SeedFile),
	)
	return &backend{
		messages: memory.NewMessageStore(),
		users:    dir,
		roles:    dir,
		broker:   realtime.NewLocalBroker(),
		close:    func() {},
	}, nil
}

// connect opens Postgres and Redis.
//
// Why ctx from signal.NotifyContext and not context.Background()?
//   - Startup still takes as long as it needs, but a Ctrl-C during a
//     slow connect should stop it instead of being ignored.
func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	database, err := db.New(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		database.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", opts.Addr))

	// Each repo gets the same pool. The pool is goroutine-safe.
	pool := database.Pool()
	return &backend{
		messages: postgres.NewMessageStore(pool),
		users:    postgres.NewUserStore(pool),
		roles:    postgres.NewRoleStore(pool),
		broker:   realtime.NewRedisBroker(rdb, logger),
		health: func(ctx context.Context) error {
			if err := database.Health(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		close: func() {
			rdb.Close()
			database.Close()
		},
	}, nil
}
