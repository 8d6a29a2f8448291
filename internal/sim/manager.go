package sim

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

var ErrNoSchedule = errors.New("route has no schedule and no race start")

// Fix status values reported by the replay.
const (
	StatusMoving     = "MOVING"
	StatusStationary = "STATIONARY"
	StatusFinished   = "FINISHED"
)

type Options struct {
	// RaceStart and PaceMinPerKm time route points that carry no schedule.
	RaceStart    time.Time
	PaceMinPerKm float64
	// SpeedMultiplier scales planned time against the wall clock.
	SpeedMultiplier float64
	Now             func() time.Time
}

// Replay is a livefeed.Feed that walks the planned schedule, starting at the
// first keyframe when the replay is created. It is used for rehearsals
// before the race.
type Replay struct {
	route *route.Store
	times []time.Time
	dists []float64
	speed float64
	now   func() time.Time

	mu       sync.Mutex
	started  time.Time
	finished bool
}

func NewReplay(store *route.Store, opts Options) (*Replay, error) {
	if store.Len() == 0 {
		return nil, route.ErrEmptyRoute
	}
	if opts.SpeedMultiplier <= 0 {
		opts.SpeedMultiplier = 1
	}
	if opts.PaceMinPerKm <= 0 {
		opts.PaceMinPerKm = 7.75
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	times, dists := buildSchedule(store.Points(), opts.RaceStart, opts.PaceMinPerKm)
	if len(times) == 0 {
		return nil, ErrNoSchedule
	}
	r := &Replay{
		route:   store,
		times:   times,
		dists:   dists,
		speed:   opts.SpeedMultiplier,
		now:     opts.Now,
		started: opts.Now(),
	}
	log.Printf("replay starting at %s (x%.1f), %d keyframes over %.1f km",
		times[0].Format(time.RFC3339), r.speed, len(times), dists[len(dists)-1])
	return r, nil
}

// PlannedTime maps the wall clock onto the schedule.
func (r *Replay) PlannedTime(now time.Time) time.Time {
	elapsed := now.Sub(r.started).Seconds() * r.speed
	return r.times[0].Add(time.Duration(elapsed * float64(time.Second)))
}

// Latest returns the runner's planned position at the current replay time,
// stamped with the wall clock.
func (r *Replay) Latest(ctx context.Context) (*race.LiveFix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.now()
	target := r.PlannedTime(now)
	km, kmPerSec := interpolateDistAtTime(r.times, r.dists, target)
	pos, _ := r.route.PositionAt(km)

	mps := kmPerSec * 1000
	distM := km * 1000
	durS := target.Sub(r.times[0]).Seconds()
	fix := &race.LiveFix{
		Position:       pos,
		CapturedAt:     now,
		SpeedMps:       &mps,
		TotalDistanceM: &distM,
		TotalDurationS: &durS,
		Status:         StatusMoving,
	}
	if mps == 0 {
		fix.Status = StatusStationary
	}

	last := r.times[len(r.times)-1]
	if !target.Before(last) {
		fix.Status = StatusFinished
		r.mu.Lock()
		if !r.finished {
			r.finished = true
			log.Printf("replay finished at %s", now.Format(time.RFC3339))
		}
		r.mu.Unlock()
	}
	return fix, nil
}

// buildSchedule turns route points into time->distance keyframes. Points
// without a planned time are timed from start at a constant pace; without a
// start they are skipped.
func buildSchedule(points []race.RoutePoint, start time.Time, paceMinPerKm float64) ([]time.Time, []float64) {
	var (
		times []time.Time
		dists []float64
		lastT time.Time
		lastD float64
	)
	for _, p := range points {
		var t time.Time
		switch {
		case p.ScheduledAt != nil:
			t = *p.ScheduledAt
		case !start.IsZero():
			t = start.Add(time.Duration(p.DistanceKm * paceMinPerKm * float64(time.Minute)))
		default:
			continue
		}
		if len(times) > 0 {
			// keep keyframes non-decreasing in time and drop exact repeats
			if t.Before(lastT) {
				continue
			}
			if t.Equal(lastT) && p.DistanceKm == lastD {
				continue
			}
		}
		times = append(times, t)
		dists = append(dists, p.DistanceKm)
		lastT, lastD = t, p.DistanceKm
	}
	return times, dists
}

// interpolateDistAtTime returns the distance reached at `at` and the planned
// speed of the segment containing it, in km per second.
func interpolateDistAtTime(times []time.Time, dists []float64, at time.Time) (float64, float64) {
	n := len(times)
	if n == 0 {
		return 0, 0
	}
	if at.Before(times[0]) {
		return dists[0], 0
	}
	if !at.Before(times[n-1]) {
		return dists[n-1], 0
	}
	// find segment i s.t. times[i] <= at < times[i+1]
	i := 0
	for i+1 < n && !at.Before(times[i+1]) {
		i++
	}
	t0, t1 := times[i], times[i+1]
	d0, d1 := dists[i], dists[i+1]
	dt := t1.Sub(t0)
	if dt <= 0 {
		return d0, 0
	}
	frac := float64(at.Sub(t0)) / float64(dt)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return d0 + (d1-d0)*frac, (d1 - d0) / dt.Seconds()
}
