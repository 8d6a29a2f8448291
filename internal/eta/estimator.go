package eta

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

// DefaultPaceMinPerKm is the planned average pace of the runner.
const DefaultPaceMinPerKm = 7.75

var ErrUnknownMethod = errors.New("unknown eta method")

// Method selects how an arrival time is projected.
type Method int

const (
	// ScheduleOffset applies the runner's current deviation from the planned
	// schedule to the target's planned passage time.
	ScheduleOffset Method = iota + 1
	// Pace adds remaining route distance at a constant pace to the fix time.
	Pace
)

func (m Method) String() string {
	switch m {
	case ScheduleOffset:
		return "schedule"
	case Pace:
		return "pace"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	v, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMethod accepts "schedule"/"offset"/"a" and "pace"/"b".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "schedule", "offset", "schedule-offset", "a":
		return ScheduleOffset, nil
	case "pace", "b":
		return Pace, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

type Config struct {
	AveragePaceMinPerKm float64
	Location            *time.Location
}

// Estimator projects arrival times over a loaded route. It holds no mutable
// state and can be shared between goroutines.
type Estimator struct {
	matcher route.Matcher
	pace    float64
	loc     *time.Location
}

func New(matcher route.Matcher, cfg Config) *Estimator {
	if cfg.AveragePaceMinPerKm <= 0 {
		cfg.AveragePaceMinPerKm = DefaultPaceMinPerKm
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Estimator{matcher: matcher, pace: cfg.AveragePaceMinPerKm, loc: cfg.Location}
}

func (e *Estimator) Location() *time.Location { return e.loc }

func (e *Estimator) PaceMinPerKm() float64 { return e.pace }

// Estimate is a projected arrival at a waypoint.
type Estimate struct {
	Method Method    `json:"method"`
	At     time.Time `json:"at"`
	// RemainingKm is route distance from the runner to the target.
	RemainingKm float64 `json:"remainingKm"`
	// Offset is the deviation from plan; positive means behind schedule.
	// Only set by ScheduleOffset.
	Offset time.Duration `json:"offset"`
}

// Clock formats the arrival as a local time of day.
func (e Estimate) Clock() string {
	return e.At.Format("15:04")
}

// Estimate projects the arrival at target. It reports false whenever no
// sensible arrival exists: no fix yet, empty route, missing schedule, or a
// target the runner has already passed.
func (e *Estimator) Estimate(method Method, target race.Waypoint, fix *race.LiveFix) (Estimate, bool) {
	if e == nil || e.matcher == nil || fix == nil {
		return Estimate{}, false
	}
	current, err := e.matcher.FindClosest(fix.Position)
	if err != nil {
		return Estimate{}, false
	}
	targetMatch, err := e.matcher.FindClosest(target.Position)
	if err != nil {
		return Estimate{}, false
	}
	return e.project(method, current, targetMatch, fix.CapturedAt)
}

func (e *Estimator) project(method Method, current, target route.MatchResult, capturedAt time.Time) (Estimate, bool) {
	remaining := target.Point.DistanceKm - current.Point.DistanceKm
	var (
		at     time.Time
		offset time.Duration
	)
	switch method {
	case ScheduleOffset:
		if current.Point.ScheduledAt == nil || target.Point.ScheduledAt == nil {
			return Estimate{}, false
		}
		offset = capturedAt.Sub(*current.Point.ScheduledAt)
		at = target.Point.ScheduledAt.Add(offset)
	case Pace:
		if remaining <= 0 {
			return Estimate{}, false
		}
		at = capturedAt.Add(time.Duration(remaining * e.pace * float64(time.Minute)))
	default:
		return Estimate{}, false
	}
	if at.Before(capturedAt) {
		return Estimate{}, false
	}
	return Estimate{
		Method:      method,
		At:          at.In(e.loc),
		RemainingKm: remaining,
		Offset:      offset,
	}, true
}

// WaypointETA pairs a waypoint with its projected arrival.
type WaypointETA struct {
	Waypoint race.Waypoint `json:"waypoint"`
	Estimate
}

// Upcoming returns estimates for every waypoint still ahead of the runner,
// ordered by remaining distance.
func (e *Estimator) Upcoming(method Method, waypoints []race.Waypoint, fix *race.LiveFix) []WaypointETA {
	if e == nil || e.matcher == nil || fix == nil {
		return nil
	}
	current, err := e.matcher.FindClosest(fix.Position)
	if err != nil {
		return nil
	}
	var out []WaypointETA
	for _, wp := range waypoints {
		tm, err := e.matcher.FindClosest(wp.Position)
		if err != nil || tm.Point.DistanceKm <= current.Point.DistanceKm {
			continue
		}
		est, ok := e.project(method, current, tm, fix.CapturedAt)
		if !ok {
			continue
		}
		out = append(out, WaypointETA{Waypoint: wp, Estimate: est})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RemainingKm < out[j].RemainingKm })
	return out
}

// NextCheckpoint returns the nearest checkpoint ahead of the runner and the
// route distance to it.
func (e *Estimator) NextCheckpoint(waypoints []race.Waypoint, fix *race.LiveFix) (race.Waypoint, float64, bool) {
	if e == nil || e.matcher == nil || fix == nil {
		return race.Waypoint{}, 0, false
	}
	current, err := e.matcher.FindClosest(fix.Position)
	if err != nil {
		return race.Waypoint{}, 0, false
	}
	var (
		next  race.Waypoint
		best  float64
		found bool
	)
	for _, wp := range waypoints {
		if !wp.IsCheckpoint {
			continue
		}
		tm, err := e.matcher.FindClosest(wp.Position)
		if err != nil {
			continue
		}
		remaining := tm.Point.DistanceKm - current.Point.DistanceKm
		if remaining <= 0 {
			continue
		}
		if !found || remaining < best {
			next, best, found = wp, remaining, true
		}
	}
	return next, best, found
}
