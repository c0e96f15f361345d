package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-lend/pkg/config"
)

func TestNew_RecordsCommands(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	before := testutil.ToFloat64(redisRequestsTotal.WithLabelValues("get"))
	missesBefore := testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get"))

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	value, err := client.Get(context.Background(), "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	_ = client.Get(context.Background(), "missing").Err()

	assert.Equal(t, before+2, testutil.ToFloat64(redisRequestsTotal.WithLabelValues("get")))
	assert.Equal(t, missesBefore, testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get")), "redis.Nil is not an error")
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), config.RedisConfig{Addr: addr})
	assert.ErrorContains(t, err, "failed to connect to redis")
}
