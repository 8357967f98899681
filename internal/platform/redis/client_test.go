package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/platform/config"
)

func TestOptions(t *testing.T) {
	cfg := config.DefaultClient()
	cfg.RedisURL = "redis://gateway.local:6380/2"

	opts, err := Options(cfg.GatewayRedis())
	require.NoError(t, err)
	assert.Equal(t, "gateway.local:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, ClientName, opts.ClientName)
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, -1, opts.MaxRetries)
}

func TestOptionsRejectsMissingOrBadURL(t *testing.T) {
	_, err := Options(config.RedisConfig{})
	assert.ErrorIs(t, err, ErrNoURL)

	_, err = Options(config.RedisConfig{URL: "http://not-redis"})
	assert.Error(t, err)
}

func TestDialUnreachableGateway(t *testing.T) {
	_, err := Dial(context.Background(), config.RedisConfig{
		URL:         "redis://127.0.0.1:1/0",
		DialTimeout: 200 * time.Millisecond,
	})
	assert.Error(t, err)
}
