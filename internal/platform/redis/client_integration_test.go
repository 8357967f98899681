//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/platform/config"
	"relief/pkg/testutil/containers"
)

func TestDialGateway(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	cfg := config.DefaultClient()
	cfg.RedisURL = rc.URL

	client, err := Dial(context.Background(), cfg.GatewayRedis())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	name, err := client.ClientGetName(context.Background()).Result()
	require.NoError(t, err)
	assert.Equal(t, ClientName, name)
}
