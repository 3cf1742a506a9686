package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "package:BOX1:p1:current")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "package:BOX1:p1:current", []byte(`{"id":"p1"}`), time.Minute))

	b, ok, err := c.Get(ctx, "package:BOX1:p1:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":"p1"}`), b)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "package:BOX1:p1:current")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:carrier:kr.epost:202501010900", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:carrier:kr.epost:202501010900", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:carrier:kr.epost:202501010900", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// другое окно — другой счётчик
	ok, n, _ = rl.Allow(ctx, "rl:carrier:kr.epost:202501010901", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}
