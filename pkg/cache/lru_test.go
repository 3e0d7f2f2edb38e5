package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	current := start
	return func() time.Time { return current }, func(d time.Duration) { current = current.Add(d) }
}

func TestGetPromotesL2Hit(t *testing.T) {
	now, _ := newClock(time.Unix(1000, 0))
	cfg := DefaultConfig()
	cfg.L1MaxSize = 1
	c := NewTwoLevel(cfg, now)

	c.Set("a", 1, 10)
	c.Set("b", 2, 10) // evicts "a" from L1, demoting it to L2

	stats := c.Stats()
	require.Equal(t, 1, stats.L1Items)
	require.Equal(t, 1, stats.L2Items)

	v, ok := c.Get("a") // L2 hit promotes back into L1, pushing "b" down
	require.True(t, ok)
	require.Equal(t, 1, v)

	stats = c.Stats()
	require.Equal(t, 1, stats.L1Items)
	require.Equal(t, 1, stats.L2Items)
	require.Equal(t, int64(1), stats.Hits)
}

func TestExpiredEntriesMiss(t *testing.T) {
	now, advance := newClock(time.Unix(1000, 0))
	cfg := DefaultConfig()
	cfg.L1TTL = time.Minute
	c := NewTwoLevel(cfg, now)

	c.Set("a", 1, 10)
	advance(2 * time.Minute)

	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, int64(1), c.Stats().Misses)
}

func TestOversizedItemRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxItemSizeBytes = 100
	c := NewTwoLevel(cfg, nil)

	require.False(t, c.Set("big", "x", 101))
	require.True(t, c.Set("ok", "x", 100))
}

func TestMemoryCeilingEvictsLRU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemoryBytes = 100
	c := NewTwoLevel(cfg, nil)

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, 10)
	}

	stats := c.Stats()
	require.LessOrEqual(t, stats.Bytes, int64(100))
	// The most recent write always survives.
	_, ok := c.Get("k19")
	require.True(t, ok)
}

func TestBytesCountItemsOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.L1MaxSize = 1
	c := NewTwoLevel(cfg, nil)

	c.Set("a", 1, 10)
	c.Set("b", 2, 10)     // "a" demoted to L2
	_, _ = c.Get("a")     // promoted back, "b" demoted
	require.Equal(t, int64(20), c.Stats().Bytes)
}

func TestDeleteDropsBothLevels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.L1MaxSize = 1
	c := NewTwoLevel(cfg, nil)

	c.Set("a", 1, 10)
	c.Set("b", 2, 10)
	c.Delete("a")
	c.Delete("b")

	stats := c.Stats()
	require.Zero(t, stats.L1Items)
	require.Zero(t, stats.L2Items)
	require.Zero(t, stats.Bytes)
}
