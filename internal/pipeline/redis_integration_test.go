//go:build integration

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/tags"
	"github.com/nidhogg/nyx/internal/testenv"
)

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	url, cleanup, err := testenv.StartRedis(ctx)
	require.NoError(t, err)
	defer cleanup()

	c, err := NewRedisCache(ctx, url, time.Hour, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	entry := CacheEntry{
		ResponseID: "resp_1_42",
		Raw:        "hi <mood>calm</mood>",
		Parsed:     tags.ParsedReply{MainText: "hi", Thoughts: []string{}, Images: []string{}, Mood: "calm"},
		Timestamp:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, c.Put(ctx, entry))
	require.NoError(t, c.Put(ctx, CacheEntry{ResponseID: "resp_2_7"}))

	got, err := c.Get(ctx, "resp_1_42")
	require.NoError(t, err)
	require.Equal(t, entry.Raw, got.Raw)
	require.Equal(t, "calm", got.Parsed.Mood)
	require.True(t, entry.Timestamp.Equal(got.Timestamp))

	_, err = c.Get(ctx, "resp_missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = c.Get(ctx, "resp_1_42")
	require.ErrorIs(t, err, ErrCacheMiss)
}
