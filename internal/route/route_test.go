package route

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
)

func randomSamples(r *rand.Rand, n int) []Sample {
	samples := make([]Sample, n)
	lat, lon := 50.7, 4.5
	for i := range samples {
		// mostly small steps, sometimes a repeated sample
		if r.Intn(10) > 0 {
			lat += (r.Float64() - 0.5) * 0.01
			lon += (r.Float64() - 0.5) * 0.01
		}
		samples[i] = Sample{Position: geo.Point{Lat: lat, Lon: lon}}
	}
	return samples
}

func straightRoute(t *testing.T, n int) *Store {
	t.Helper()
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{Position: geo.Point{Lat: 50 + float64(i)*0.001, Lon: 4.5}}
	}
	s, err := New(samples)
	require.NoError(t, err)
	return s
}

func TestNew_Empty(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrEmptyRoute)
}

func TestNew_CumulativeDistanceNonDecreasing(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		n := 1 + r.Intn(300)
		s, err := New(randomSamples(r, n))
		require.NoError(t, err)
		require.Equal(t, n, s.Len())

		first, err := s.PointAt(0)
		require.NoError(t, err)
		assert.Equal(t, 0.0, first.DistanceKm)

		for i := 1; i < s.Len(); i++ {
			prev, _ := s.PointAt(i - 1)
			cur, _ := s.PointAt(i)
			assert.Equal(t, i, cur.Seq)
			assert.GreaterOrEqual(t, cur.DistanceKm, prev.DistanceKm)
		}
	}
}

func TestNew_SumsHaversine(t *testing.T) {
	a := geo.Point{Lat: 50, Lon: 4}
	b := geo.Point{Lat: 50.1, Lon: 4}
	c := geo.Point{Lat: 50.1, Lon: 4.1}
	s, err := New([]Sample{{Position: a}, {Position: b}, {Position: c}})
	require.NoError(t, err)

	want := geo.DistanceKm(a, b) + geo.DistanceKm(b, c)
	assert.InDelta(t, want, s.Last().DistanceKm, 1e-12)
	assert.InDelta(t, want, s.TotalKm(), 1e-12)
}

func TestNew_ScheduledAtStoredInUTC(t *testing.T) {
	brussels := time.FixedZone("CEST", 2*3600)
	at := time.Date(2025, 6, 27, 19, 0, 0, 0, brussels)
	s, err := New([]Sample{{Position: geo.Point{Lat: 50, Lon: 4}, ScheduledAt: &at}})
	require.NoError(t, err)

	p, err := s.PointAt(0)
	require.NoError(t, err)
	require.NotNil(t, p.ScheduledAt)
	assert.Equal(t, time.UTC, p.ScheduledAt.Location())
	assert.True(t, p.ScheduledAt.Equal(at))
}

func TestPointAt_OutOfRange(t *testing.T) {
	s := straightRoute(t, 3)
	for _, idx := range []int{-1, 3, 100} {
		_, err := s.PointAt(idx)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", idx)
	}
}

func TestFromPoints(t *testing.T) {
	_, err := FromPoints(nil)
	assert.ErrorIs(t, err, ErrEmptyRoute)

	_, err = FromPoints([]race.RoutePoint{{Seq: 0}, {Seq: 2, DistanceKm: 1}})
	assert.ErrorIs(t, err, ErrNotDense)

	_, err = FromPoints([]race.RoutePoint{{Seq: 0, DistanceKm: 1}, {Seq: 1, DistanceKm: 0.5}})
	assert.ErrorIs(t, err, ErrNotMonotonic)

	s, err := FromPoints([]race.RoutePoint{{Seq: 0}, {Seq: 1, DistanceKm: 1}, {Seq: 2, DistanceKm: 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 1.0, s.TotalKm())
}

func TestPointsReturnsCopy(t *testing.T) {
	s := straightRoute(t, 3)
	pts := s.Points()
	pts[0].DistanceKm = 99
	p, _ := s.PointAt(0)
	assert.Equal(t, 0.0, p.DistanceKm)
}

func TestFindClosest_ExactSample(t *testing.T) {
	s := straightRoute(t, 10)
	m := NewLinearMatcher(s)

	p, _ := s.PointAt(4)
	res, err := m.FindClosest(p.Position)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Index)
	assert.Equal(t, 0.0, res.DistanceToRouteKm)
	assert.Equal(t, p, res.Point)
}

func TestFindClosest_OffRoute(t *testing.T) {
	s := straightRoute(t, 10)
	m := NewLinearMatcher(s)

	res, err := m.FindClosest(geo.Point{Lat: 50.0031, Lon: 4.5005})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Index)
	assert.Greater(t, res.DistanceToRouteKm, 0.0)
}

func TestFindClosest_TieBreaksOnLowestIndex(t *testing.T) {
	a := geo.Point{Lat: 50, Lon: 4}
	b := geo.Point{Lat: 50.01, Lon: 4}
	// route goes out and back through the same samples
	s, err := New([]Sample{{Position: a}, {Position: b}, {Position: a}})
	require.NoError(t, err)

	res, err := NewLinearMatcher(s).FindClosest(a)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
}

func TestFindClosest_EmptyRoute(t *testing.T) {
	_, err := NewLinearMatcher(&Store{}).FindClosest(geo.Point{})
	assert.True(t, errors.Is(err, ErrEmptyRoute))

	var m *LinearMatcher
	_, err = m.FindClosest(geo.Point{})
	assert.ErrorIs(t, err, ErrEmptyRoute)
}

func TestFindClosest_RoundTripIdentity(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	samples := make([]Sample, 500)
	for i := range samples {
		// distinct positions along a wiggly line
		samples[i] = Sample{Position: geo.Point{
			Lat: 50 + float64(i)*0.0005,
			Lon: 4.5 + (r.Float64()-0.5)*0.0002,
		}}
	}
	s, err := New(samples)
	require.NoError(t, err)
	m := NewLinearMatcher(s)

	for i := 0; i < s.Len(); i++ {
		p, _ := s.PointAt(i)
		res, err := m.FindClosest(p.Position)
		require.NoError(t, err)
		require.Equal(t, i, res.Index)
		require.Equal(t, i, res.Point.Seq)
		require.Equal(t, 0.0, res.DistanceToRouteKm)
	}
}

func TestFindClosest_Concurrent(t *testing.T) {
	s := straightRoute(t, 2000)
	m := NewLinearMatcher(s)
	query := geo.Point{Lat: 50.7771, Lon: 4.5003}

	want, err := m.FindClosest(query)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan MatchResult, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.FindClosest(query)
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for res := range results {
		assert.Equal(t, want, res)
		count++
	}
	assert.Equal(t, 64, count)
}

func TestProgressPercent(t *testing.T) {
	for _, n := range []int{1, 2, 3, 10, 5000} {
		assert.Equal(t, 0.0, ProgressPercent(0, n), "n=%d", n)
		if n > 1 {
			assert.Equal(t, 100.0, ProgressPercent(n-1, n), "n=%d", n)
		}
	}
	assert.Equal(t, 0.0, ProgressPercent(0, 1))
	assert.Equal(t, 50.0, ProgressPercent(5, 11))
	assert.Equal(t, 100.0, ProgressPercent(20, 11))
	assert.Equal(t, 0.0, ProgressPercent(-3, 11))

	prev := -1.0
	for i := 0; i < 100; i++ {
		p := ProgressPercent(i, 100)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
}

func TestPositionAt(t *testing.T) {
	s := straightRoute(t, 11)
	total := s.TotalKm()

	start, _ := s.PositionAt(-1)
	assert.Equal(t, geo.Point{Lat: 50, Lon: 4.5}, start)

	end, bearing := s.PositionAt(total + 5)
	assert.InDelta(t, 50.01, end.Lat, 1e-9)
	assert.InDelta(t, 0, bearing, 0.01)

	mid, _ := s.PositionAt(total / 2)
	assert.InDelta(t, 50.005, mid.Lat, 1e-6)
	assert.InDelta(t, 4.5, mid.Lon, 1e-9)
}
