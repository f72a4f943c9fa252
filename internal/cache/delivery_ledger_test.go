package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ClareAI/astra-dialer-service/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeliveryLedger(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryDeliveryLedger(time.Minute)
	l.now = func() time.Time { return now }

	seen, err := l.Seen(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Mark(ctx, "d1"))
	seen, err = l.Seen(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, l.Mark(ctx, "d2"))
	assert.Equal(t, 1, l.Len())

	seen, err = l.Seen(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, seen)

	assert.Error(t, l.Mark(ctx, ""))
}

func TestRedisDeliveryLedger(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	svc, err := redis.NewRedisService(ctx, &redis.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	defer svc.Close()

	l := NewRedisDeliveryLedger(svc, time.Hour)

	seen, err := l.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Mark(ctx, "abc"))
	require.NoError(t, l.Mark(ctx, "abc"))

	seen, err = l.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists("astra_dialer_webhook_delivery:abc"))

	mr.FastForward(2 * time.Hour)
	seen, err = l.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, seen)
}
