package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/redis/go-redis/v9"
	redischannel "github.com/tribeat/server/internal/channel/redis"
	"github.com/tribeat/server/internal/controller"
	"github.com/tribeat/server/internal/repository/connection/inmemory"
	sessionRedis "github.com/tribeat/server/internal/repository/session/redis"
	"github.com/tribeat/server/internal/service/session"
	"github.com/tribeat/server/pkg/ctxlogger"
	"github.com/tribeat/server/pkg/redisclient"
)

type AppConfig struct {
	Secret        string        `json:"-"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	LogLevel      string        `json:"log_level"`
	SessionTTL    time.Duration `json:"session_ttl"`
	StateInterval time.Duration `json:"state_interval"`
	RedisPort     int           `json:"redis_port"`
	RedisHost     string        `json:"redis_host"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
}

func (cfg *AppConfig) Validate() error {
	return validation.ValidateStruct(cfg,
		validation.Field(&cfg.Secret, validation.Required.Error("secret must be set")),
		validation.Field(&cfg.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&cfg.SessionTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&cfg.StateInterval, validation.Min(time.Duration(0))),
		validation.Field(&cfg.RedisHost, validation.Required),
		validation.Field(&cfg.RedisPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&cfg.RedisDB, validation.Min(0)),
	)
}

// newHandler wires the session stack on top of rc. Background work stops with ctx.
func newHandler(ctx context.Context, rc *redis.Client, cfg *AppConfig, logger *slog.Logger) http.Handler {
	sessionRepo := sessionRedis.NewRepo(rc, cfg.SessionTTL, logger)
	connectionRepo := inmemory.NewRepo()
	sessionChannel := redischannel.NewChannel(rc, cfg.SessionTTL)

	sessionService := session.NewService(sessionRepo, connectionRepo, sessionChannel, &session.Config{
		Secret:        cfg.Secret,
		StateInterval: cfg.StateInterval,
	}, logger)
	go sessionService.SendStatePeriodically(ctx)

	return controller.NewController(sessionService, logger).GetMux()
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	logger := slog.New(&h)
	slog.SetDefault(logger)

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Port:     cfg.RedisPort,
		Host:     cfg.RedisHost,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: newHandler(serverCtx, rc, cfg, logger),
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
