package fixstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
)

func fixAt(min int) race.LiveFix {
	speed := 2.5
	return race.LiveFix{
		Position:   geo.Point{Lat: 50 + float64(min)*0.001, Lon: 4.5},
		CapturedAt: time.Date(2025, 6, 27, 17, min, 0, 0, time.UTC),
		SpeedMps:   &speed,
		Status:     "MOVING",
	}
}

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "", time.Hour), s
}

func stores(t *testing.T) map[string]Store {
	r, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  r,
	}
}

func TestStore_LatestFixWins(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			fix, err := st.Latest(ctx)
			require.NoError(t, err)
			assert.Nil(t, fix)

			ok, err := st.Put(ctx, fixAt(10))
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = st.Put(ctx, fixAt(5))
			require.NoError(t, err)
			assert.False(t, ok, "older fix is ignored")

			ok, err = st.Put(ctx, fixAt(10))
			require.NoError(t, err)
			assert.True(t, ok, "same capture time replaces")

			ok, err = st.Put(ctx, fixAt(12))
			require.NoError(t, err)
			assert.True(t, ok)

			fix, err = st.Latest(ctx)
			require.NoError(t, err)
			require.NotNil(t, fix)
			assert.True(t, fix.CapturedAt.Equal(fixAt(12).CapturedAt))
			assert.Equal(t, fixAt(12).Position, fix.Position)
			require.NotNil(t, fix.SpeedMps)
			assert.Equal(t, 2.5, *fix.SpeedMps)
			assert.Equal(t, "MOVING", fix.Status)
		})
	}
}

func TestStore_ConcurrentPuts(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func(min int) {
					defer wg.Done()
					_, _ = st.Put(ctx, fixAt(min))
				}(i)
			}
			wg.Wait()

			fix, err := st.Latest(ctx)
			require.NoError(t, err)
			require.NotNil(t, fix)
			assert.True(t, fix.CapturedAt.Equal(fixAt(29).CapturedAt))
		})
	}
}

func TestRedis_KeyAndTTL(t *testing.T) {
	r, s := newRedisStore(t)
	_, err := r.Put(context.Background(), fixAt(1))
	require.NoError(t, err)

	assert.True(t, s.Exists(DefaultKey))
	assert.Equal(t, time.Hour, s.TTL(DefaultKey))

	s.FastForward(2 * time.Hour)
	fix, err := r.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fix)
}

func TestRedis_CorruptValue(t *testing.T) {
	r, s := newRedisStore(t)
	require.NoError(t, s.Set(DefaultKey, "{not json"))
	_, err := r.Latest(context.Background())
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	assert.Nil(t, Connect("", ""))
	c := Connect("127.0.0.1:6379", "secret")
	require.NotNil(t, c)
	defer c.Close()
	assert.Equal(t, "127.0.0.1:6379", c.Options().Addr)
}

func TestMemory_ReturnsCopy(t *testing.T) {
	m := NewMemory()
	_, _ = m.Put(context.Background(), fixAt(1))
	fix, _ := m.Latest(context.Background())
	fix.Status = "changed"
	again, _ := m.Latest(context.Background())
	assert.Equal(t, "MOVING", again.Status)
}
