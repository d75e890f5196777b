package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"newapi-checkin/config"
)

func TestOptions(t *testing.T) {
	t.Parallel()

	_, ok := Options(&config.Config{RedisHost: "  "})
	require.False(t, ok)

	opts, ok := Options(&config.Config{RedisHost: "cache.local", RedisPort: 6380, RedisUser: " u ", RedisPassword: "p", RedisScheme: "REDISS"})
	require.True(t, ok)
	require.Equal(t, "cache.local:6380", opts.Addr)
	require.Equal(t, "u", opts.Username)
	require.Equal(t, "p", opts.Password)
	require.NotNil(t, opts.TLSConfig)
	require.Equal(t, "cache.local", opts.TLSConfig.ServerName)

	opts, ok = Options(&config.Config{RedisHost: "cache.local", RedisPort: 6379, RedisScheme: "redis"})
	require.True(t, ok)
	require.Nil(t, opts.TLSConfig)
}

func TestNewRedis_Disabled(t *testing.T) {
	t.Parallel()

	lc := fxtest.NewLifecycle(t)
	client, err := NewRedis(lc, &config.Config{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Nil(t, client)
	lc.RequireStart().RequireStop()
}
