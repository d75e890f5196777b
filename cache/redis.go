package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
)

// Options builds the client options from config. ok is false when REDIS_HOST
// is unset, in which case the balance fingerprint falls back to a file.
func Options(cfg *config.Config) (opts *redis.Options, ok bool) {
	host := strings.TrimSpace(cfg.RedisHost)
	if host == "" {
		return nil, false
	}
	opts = &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, cfg.RedisPort),
		Username: strings.TrimSpace(cfg.RedisUser),
		Password: cfg.RedisPassword,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.RedisScheme), "rediss") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	return opts, true
}

func NewRedis(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (*redis.Client, error) {
	opts, ok := Options(cfg)
	if !ok {
		log.Infow("redis_disabled", "reason", "missing REDIS_HOST")
		return nil, nil
	}

	client := redis.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				return fmt.Errorf("redis ping: %w", err)
			}
			log.Infow("redis_connected", "addr", opts.Addr, "tls", opts.TLSConfig != nil)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := client.Close(); err != nil {
				log.Warnw("redis_close_failed", "err", err)
			}
			return nil
		},
	})

	return client, nil
}
