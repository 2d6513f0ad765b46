package tokencache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func newMemoryCacheWithClock(maxEntries int) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(maxEntries)
	c.now = clock.Now
	return c, clock
}

func TestMemoryCache_GetSet(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantOK  bool
	}{
		{
			name:    "正常系: TTL内は取得できる",
			advance: 59 * time.Second,
			wantOK:  true,
		},
		{
			name:    "正常系: TTL到達で期限切れ",
			advance: time.Minute,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c, clock := newMemoryCacheWithClock(0)

			require.NoError(t, c.Set(ctx, "user123", "token", time.Minute))
			clock.now = clock.now.Add(tt.advance)

			got, ok, err := c.Get(ctx, "user123")
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "token", got)
			} else {
				assert.Equal(t, 0, c.Len())
			}
		})
	}
}

func TestMemoryCache_SetInvalidTTL(t *testing.T) {
	c := NewMemoryCache(0)

	err := c.Set(context.Background(), "k", "v", 0)

	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Purge(t *testing.T) {
	ctx := context.Background()
	c, clock := newMemoryCacheWithClock(0)
	require.NoError(t, c.Set(ctx, "short", "v", time.Second))
	require.NoError(t, c.Set(ctx, "long", "v", time.Hour))

	clock.now = clock.now.Add(time.Minute)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_MaxEntries(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryCacheWithClock(2)

	require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "b", "2", time.Hour))
	require.NoError(t, c.Set(ctx, "c", "3", time.Hour))

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok, "最も早く期限切れになるエントリが追い出される")
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)

	// 既存キーの上書きでは追い出さない
	require.NoError(t, c.Set(ctx, "b", "22", time.Hour))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("user%d", i%5)
			_ = c.Set(ctx, key, "token", time.Minute)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Len())
}
