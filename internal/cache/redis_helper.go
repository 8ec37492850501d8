package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/andresuchdata/procureplan/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRunTTL = time.Hour
	pingTimeout   = 5 * time.Second
)

var errNoRedisAddr = errors.New("redis host and port are required when no url is set")

// connectRedis dials and pings Redis, giving up when ctx ends or after pingTimeout.
func connectRedis(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// buildRedisOptions prefers REDIS_URL. Host and port defaults come from config.Load.
func buildRedisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, errNoRedisAddr
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// runTTL is how long a terminal run stays cached.
func runTTL(cfg config.CacheConfig) time.Duration {
	if cfg.RunTTLSeconds <= 0 {
		return defaultRunTTL
	}
	return time.Duration(cfg.RunTTLSeconds) * time.Second
}

// unlinkPrefixes removes every key under the given prefixes, one SCAN page at a time.
func unlinkPrefixes(ctx context.Context, client *redis.Client, batch int64, prefixes ...string) (int, error) {
	removed := 0
	for _, prefix := range prefixes {
		iter := client.Scan(ctx, 0, prefix+":*", batch).Iterator()
		keys := make([]string, 0, batch)
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if int64(len(keys)) < batch {
				continue
			}
			if err := client.Unlink(ctx, keys...).Err(); err != nil {
				return removed, fmt.Errorf("redis unlink %s: %w", prefix, err)
			}
			removed += len(keys)
			keys = keys[:0]
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := client.Unlink(ctx, keys...).Err(); err != nil {
				return removed, fmt.Errorf("redis unlink %s: %w", prefix, err)
			}
			removed += len(keys)
		}
	}
	return removed, nil
}
