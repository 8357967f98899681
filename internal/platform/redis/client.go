// Package redis dials the shared field-office Redis that devices on one site use
// as a common response cache.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"relief/internal/platform/config"
)

// ClientName identifies field devices in CLIENT LIST on the gateway.
const ClientName = "relief-field"

// ErrNoURL is returned by Dial when no gateway is configured.
var ErrNoURL = errors.New("redis: no gateway URL configured")

// Options turns cfg into go-redis options without connecting.
func Options(cfg config.RedisConfig) (*goredis.Options, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse gateway URL: %w", err)
	}
	opts.ClientName = ClientName
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	// a dead gateway should fail the request, not stall it behind retries
	opts.MaxRetries = -1
	return opts, nil
}

// Dial connects to the gateway and pings it once.
func Dial(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping gateway %s: %w", opts.Addr, err)
	}
	return client, nil
}
