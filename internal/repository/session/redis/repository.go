package redis

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
	logger         *slog.Logger
}

func NewRepo(rc *redis.Client, expireDuration time.Duration, logger *slog.Logger) *repo {
	if logger == nil {
		logger = slog.Default()
	}

	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
		logger:         logger,
	}
}
