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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saurabhrjk/admin-connect-chat/internal/config"
	"github.com/saurabhrjk/admin-connect-chat/internal/events"
	"github.com/saurabhrjk/admin-connect-chat/internal/httpserver"
	"github.com/saurabhrjk/admin-connect-chat/internal/logging"
	"github.com/saurabhrjk/admin-connect-chat/internal/metrics"
	"github.com/saurabhrjk/admin-connect-chat/internal/security"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
	"github.com/saurabhrjk/admin-connect-chat/internal/session"
	"github.com/saurabhrjk/admin-connect-chat/internal/store"
	"github.com/saurabhrjk/admin-connect-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := store.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repos.Close()
	log.Info("database ready", zap.String("driver", cfg.DBDriver))

	tokens := security.NewTokenService(cfg.JWTSecret, cfg.AccessTTL(), cfg.ResetTTL())
	hasher := security.NewPasswordHasher(0)
	encryptor, err := security.NewEncryptor(cfg.EncryptKey, cfg.LegacyEncryptKeys)
	if err != nil {
		return fmt.Errorf("init encryptor: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	broker := events.NewBroker()
	m := metrics.New()
	var (
		revoked session.Store = session.NewMemoryStore()
		pub                   = events.Multi{m}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		revoked = session.NewRedisStore(rdb, cfg.RedisPrefix)
		relay := events.NewRedisRelay(rdb, cfg.RedisPrefix+":events", broker, log)
		pub = append(pub, relay)
		g.Go(func() error {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event relay: %w", err)
			}
			return nil
		})
		log.Info("redis enabled", zap.String("addr", cfg.RedisAddr))
	} else {
		pub = append(pub, broker)
	}
	if len(cfg.KafkaBrokers) > 0 {
		exporter := events.NewKafkaExporter(cfg.KafkaBrokers, cfg.KafkaTopic, log.Named("kafka"))
		defer exporter.Close()
		pub = append(pub, exporter)
		log.Info("kafka export enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	auth := service.NewAuthService(repos.Users, tokens, hasher, revoked, log.Named("auth"))
	users := service.NewUserService(repos.Users)
	messages := service.NewMessageService(repos.Users, repos.Messages, encryptor, pub, log.Named("messages"))

	hub := ws.NewHub(broker)
	m.TrackConnections(hub.Total)
	limiter := httpserver.NewLimiterStore(cfg.AuthRatePerMinute, cfg.AuthRateBurst, time.Minute)
	defer limiter.Stop()

	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Auth:     auth,
		Users:    users,
		Messages: messages,
		WS:       ws.MakeHandler(hub, auth, messages, cfg.CORSOrigins, log.Named("ws")),
		Limiter:  limiter,
		Metrics:  m,
		Log:      log.Named("http"),
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting server", zap.String("addr", cfg.HTTPAddr()), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
