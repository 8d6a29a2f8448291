package importer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

const (
	DefaultPaceMinPerKm    = 7.75
	DefaultCheckpointBreak = 10 * time.Minute
)

var (
	ErrBadClock    = errors.New("invalid clock time")
	ErrNoRaceStart = errors.New("clock time needs a race start")
)

// Options carries the race plan used to synthesize times.
type Options struct {
	// RaceStart is the start gun, in the race time zone.
	RaceStart       time.Time
	PaceMinPerKm    float64
	CheckpointBreak time.Duration
}

func (o Options) withDefaults() Options {
	if o.PaceMinPerKm <= 0 {
		o.PaceMinPerKm = DefaultPaceMinPerKm
	}
	if o.CheckpointBreak <= 0 {
		o.CheckpointBreak = DefaultCheckpointBreak
	}
	return o
}

func (o Options) atKm(from time.Time, km float64) time.Time {
	return from.Add(time.Duration(km * o.PaceMinPerKm * float64(time.Minute)))
}

// ResolveClock turns an "HH:MM" departure into the first matching instant at
// or after notBefore, in notBefore's time zone. Full RFC3339 timestamps are
// accepted as is.
func ResolveClock(clock string, notBefore time.Time) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrBadClock)
	}
	if t, err := time.Parse(time.RFC3339, clock); err == nil {
		return t, nil
	}
	if notBefore.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoRaceStart, clock)
	}
	var layout string
	switch strings.Count(clock, ":") {
	case 1:
		layout = "15:04"
	case 2:
		layout = "15:04:05"
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadClock, clock)
	}
	c, err := time.Parse(layout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadClock, clock)
	}
	loc := notBefore.Location()
	y, m, d := notBefore.Date()
	t := time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, loc)
	if t.Before(notBefore) {
		t = time.Date(y, m, d+1, c.Hour(), c.Minute(), c.Second(), 0, loc)
	}
	return t, nil
}

// ApplySchedule fills in planned passage times on route points that lack
// them. Inside a stage the plan is the stage departure plus the distance
// covered since the stage start at the planned pace; without stages it is the
// race start plus the distance at pace.
func ApplySchedule(store *route.Store, stages []race.Stage, opts Options) (*route.Store, error) {
	opts = opts.withDefaults()
	points := store.Points()
	if len(points) == 0 {
		return nil, route.ErrEmptyRoute
	}
	if opts.RaceStart.IsZero() && len(stages) == 0 {
		return store, nil
	}

	starts := stageStartKm(stages)
	for i := range points {
		if points[i].ScheduledAt != nil {
			continue
		}
		km := points[i].DistanceKm
		var at time.Time
		if si := stageFor(starts, km); si >= 0 {
			at = opts.atKm(stages[si].Departure, km-starts[si])
		} else {
			at = opts.atKm(opts.RaceStart, km)
		}
		at = at.UTC()
		points[i].ScheduledAt = &at
	}
	return route.FromPoints(points)
}

// stageStartKm returns the cumulative start distance of each stage.
func stageStartKm(stages []race.Stage) []float64 {
	starts := make([]float64, len(stages))
	cum := 0.0
	for i, s := range stages {
		starts[i] = cum
		cum += s.DistanceKm
	}
	return starts
}

// stageFor returns the last stage starting at or before km, or -1.
func stageFor(starts []float64, km float64) int {
	idx := -1
	for i, s := range starts {
		if s <= km {
			idx = i
		}
	}
	return idx
}
