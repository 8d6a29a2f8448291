package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultra-tracker/internal/eta"
	"ultra-tracker/internal/fixstore"
	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/livefeed"
	"ultra-tracker/internal/metrics"
	"ultra-tracker/internal/publisher"
	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

var raceStart = time.Date(2025, 6, 20, 16, 0, 0, 0, time.UTC)

func at(i int) geo.Point { return geo.Point{Lat: 50 + float64(i)*0.009, Lon: 4} }

// testRace is a 10 km line with one point per km, a ravito at km 5 and the
// finish at km 10.
func testRace(t *testing.T) *Race {
	t.Helper()
	pts := make([]race.RoutePoint, 11)
	for i := range pts {
		sched := raceStart.Add(time.Duration(i) * 10 * time.Minute)
		pts[i] = race.RoutePoint{Seq: i, Position: at(i), DistanceKm: float64(i), ScheduledAt: &sched}
	}
	store, err := route.FromPoints(pts)
	require.NoError(t, err)
	wps := []race.Waypoint{
		{ID: 1, KmMark: 5, Name: "Ravito 1", Position: at(5), IsCheckpoint: true},
		{ID: 2, KmMark: 10, Name: "Finish", Position: at(10)},
	}
	return NewRace(store, wps, nil, raceStart, eta.Config{})
}

func TestRaceStatus_NoFix(t *testing.T) {
	r := testRace(t)

	st := r.Status(eta.Pace, nil, raceStart.Add(-90*time.Second))
	assert.False(t, st.Available)
	assert.False(t, st.Started)
	assert.Equal(t, int64(90), st.StartsInSeconds)

	st = r.Status(eta.Pace, nil, raceStart.Add(time.Hour))
	assert.True(t, st.Started)
	assert.Zero(t, st.StartsInSeconds)
}

func TestRaceStatus_Pace(t *testing.T) {
	r := testRace(t)
	captured := raceStart.Add(30 * time.Minute)
	fix := &race.LiveFix{Position: at(2), CapturedAt: captured}

	st := r.Status(eta.Pace, fix, captured.Add(5*time.Second))
	require.True(t, st.Available)
	assert.Equal(t, 2, st.Match.Index)
	assert.InDelta(t, 20.0, st.Progress, 1e-9)
	assert.InDelta(t, 2.0, st.DistanceKm, 1e-9)
	assert.InDelta(t, 8.0, st.RemainingKm, 1e-9)

	require.NotNil(t, st.Next)
	assert.Equal(t, "Ravito 1", st.Next.Waypoint.Name)
	assert.InDelta(t, 3.0, st.Next.RemainingKm, 1e-9)
	require.NotNil(t, st.Next.ETA)
	assert.Equal(t, captured.Add(23*time.Minute+15*time.Second), st.Next.ETA.At)
	assert.Equal(t, "16:53", st.Next.ETAClock)

	require.Len(t, st.Upcoming, 2)
	assert.Equal(t, "Ravito 1", st.Upcoming[0].Waypoint.Name)
	assert.Equal(t, "Finish", st.Upcoming[1].Waypoint.Name)
}

func TestRaceStatus_ScheduleOffset(t *testing.T) {
	r := testRace(t)
	// planned at km 2 for 16:20, actually there at 16:35
	captured := raceStart.Add(35 * time.Minute)
	fix := &race.LiveFix{Position: at(2), CapturedAt: captured}

	st := r.Status(eta.ScheduleOffset, fix, captured)
	require.NotNil(t, st.Next)
	require.NotNil(t, st.Next.ETA)
	assert.Equal(t, 15*time.Minute, st.Next.ETA.Offset)
	assert.Equal(t, raceStart.Add(65*time.Minute), st.Next.ETA.At)
}

func TestRaceStatus_PastLastCheckpoint(t *testing.T) {
	r := testRace(t)
	fix := &race.LiveFix{Position: at(7), CapturedAt: raceStart.Add(time.Hour)}

	st := r.Status(eta.Pace, fix, fix.CapturedAt)
	require.True(t, st.Available)
	assert.Nil(t, st.Next)
	require.Len(t, st.Upcoming, 1)
	assert.Equal(t, "Finish", st.Upcoming[0].Waypoint.Name)
}

func TestRaceWaypoint(t *testing.T) {
	r := testRace(t)
	w, ok := r.Waypoint(2)
	require.True(t, ok)
	assert.Equal(t, "Finish", w.Name)
	_, ok = r.Waypoint(42)
	assert.False(t, ok)
}

type fakeFeed struct {
	mu    sync.Mutex
	fix   *race.LiveFix
	err   error
	calls int
}

func (f *fakeFeed) set(fix *race.LiveFix, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fix, f.err = fix, err
}

func (f *fakeFeed) Latest(context.Context) (*race.LiveFix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fix, f.err
}

func (f *fakeFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	msgs []publisher.StatusMessage
	err  error
}

func (p *fakePublisher) PublishStatus(msg publisher.StatusMessage) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestManager_PollOnce(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{}
	pub := &fakePublisher{}
	store := fixstore.NewMemory()
	col := metrics.NewCollector(10*time.Second, eta.DefaultPaceMinPerKm, 1)
	now := raceStart.Add(time.Hour)
	m := NewManager(feed, store, testRace(t), Options{
		Publisher: pub,
		Metrics:   col,
		Now:       func() time.Time { return now },
	})

	feed.set(nil, livefeed.ErrNoSession)
	res, err := m.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultIdle, res)

	feed.set(nil, nil)
	res, err = m.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultEmpty, res)

	fix := &race.LiveFix{Position: at(4), CapturedAt: now.Add(-20 * time.Second)}
	feed.set(fix, nil)
	res, err = m.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, res)

	stored, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, fix.Position, stored.Position)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, 4, msg.RouteIndex)
	assert.Equal(t, "Ravito 1", msg.NextCheckpoint)
	assert.Equal(t, "pace", msg.Method)
	assert.Equal(t, fix.CapturedAt, msg.Timestamp)
	require.NotNil(t, msg.NextCheckpointETA)

	assert.InDelta(t, 40.0, testutil.ToFloat64(col.ProgressPercent), 1e-9)
	assert.Equal(t, 20.0, testutil.ToFloat64(col.FixAge))

	older := &race.LiveFix{Position: at(3), CapturedAt: fix.CapturedAt.Add(-time.Minute)}
	feed.set(older, nil)
	res, err = m.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultStale, res)
	assert.Len(t, pub.msgs, 1)

	feed.set(nil, errors.New("boom"))
	res, err = m.PollOnce(ctx)
	assert.Error(t, err)
	assert.Equal(t, ResultError, res)

	for label, want := range map[string]float64{ResultIdle: 1, ResultEmpty: 1, ResultOK: 1, ResultStale: 1, ResultError: 1} {
		assert.Equal(t, want, testutil.ToFloat64(col.Polls.WithLabelValues(label)), label)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(col.FixesStale))
}

func TestManager_PublishErrorDoesNotFailPoll(t *testing.T) {
	feed := &fakeFeed{fix: &race.LiveFix{Position: at(1), CapturedAt: raceStart}}
	pub := &fakePublisher{err: errors.New("nats down")}
	m := NewManager(feed, fixstore.NewMemory(), testRace(t), Options{Publisher: pub})

	res, err := m.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultOK, res)
	assert.Len(t, pub.msgs, 1)
}

func TestManager_Current(t *testing.T) {
	ctx := context.Background()
	store := fixstore.NewMemory()
	m := NewManager(&fakeFeed{}, store, testRace(t), Options{Now: func() time.Time { return raceStart }})

	st, err := m.Current(ctx, eta.Pace)
	require.NoError(t, err)
	assert.False(t, st.Available)

	_, err = store.Put(ctx, race.LiveFix{Position: at(10), CapturedAt: raceStart})
	require.NoError(t, err)
	st, err = m.Current(ctx, eta.ScheduleOffset)
	require.NoError(t, err)
	assert.True(t, st.Available)
	assert.Equal(t, eta.ScheduleOffset, st.Method)
	assert.InDelta(t, 100.0, st.Progress, 1e-9)
	assert.Empty(t, st.Upcoming)
}

func TestManager_StartStop(t *testing.T) {
	feed := &fakeFeed{}
	m := NewManager(feed, fixstore.NewMemory(), testRace(t), Options{Interval: 5 * time.Millisecond})

	m.Start(context.Background())
	m.Start(context.Background())
	assert.Eventually(t, func() bool { return feed.Calls() >= 3 }, time.Second, time.Millisecond)
	m.Stop()

	calls := feed.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, feed.Calls())
	m.Stop()
}
