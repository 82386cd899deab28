package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/dirent"
)

func TestDeterministicClock_Sequence(t *testing.T) {
	clock := NewDeterministicClock()
	require.Zero(t, clock.Current())

	for want := int64(1); want <= 4; want++ {
		assert.Equal(t, want, clock.Next())
	}
	assert.Equal(t, int64(4), clock.Current(), "Current does not advance")

	clock.Reset()
	assert.Zero(t, clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ConcurrentTicksAreUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const writers, ticks = 50, 200

	seen := make(chan int64, writers*ticks)
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ticks {
				seen <- clock.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[int64]bool, writers*ticks)
	for v := range seen {
		require.False(t, got[v], "tick %d handed out twice", v)
		got[v] = true
	}
	assert.Len(t, got, writers*ticks)
	assert.Equal(t, int64(writers*ticks), clock.Current())
}

func TestDeterministicClock_NowStampsMetadata(t *testing.T) {
	clock := NewDeterministicClock()

	first := clock.Now()
	second := clock.Now()
	assert.Equal(t, Epoch.Add(time.Second), first)
	assert.Equal(t, time.Second, second.Sub(first))

	// Readings survive the metadata wire format unchanged.
	m := &dirent.AttrMetadata{Version: 1, OrigServerID: "srv-a", OrigTime: second, OrigUSN: 7}
	assert.Equal(t, "0:1:srv-a:20240101000002.000:7", m.String())
	parsed, err := dirent.ParseAttrMetadata(m.String())
	require.NoError(t, err)
	assert.True(t, parsed.OrigTime.Equal(second))

	clock.Reset()
	assert.Equal(t, first, clock.Now(), "a reset clock replays the same times")
}
