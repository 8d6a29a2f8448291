package route

import (
	"errors"
	"fmt"
	"time"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
)

var (
	ErrEmptyRoute      = errors.New("route has no points")
	ErrIndexOutOfRange = errors.New("route index out of range")
	ErrNotDense        = errors.New("route sequence is not dense and zero-based")
	ErrNotMonotonic    = errors.New("route cumulative distance decreases")
)

// Sample is a raw route sample as produced by the importer.
type Sample struct {
	Position    geo.Point
	ElevationM  *float64
	ScheduledAt *time.Time
}

// Store is the ordered, write-once route. It is safe for concurrent reads.
type Store struct {
	points []race.RoutePoint
}

// New builds a store from raw samples, assigning sequence numbers in input
// order and summing Haversine distances between consecutive samples.
func New(samples []Sample) (*Store, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyRoute
	}
	points := make([]race.RoutePoint, len(samples))
	cum := 0.0
	for i, s := range samples {
		if i > 0 {
			cum += geo.DistanceKm(samples[i-1].Position, s.Position)
		}
		points[i] = race.RoutePoint{
			Seq:         i,
			Position:    s.Position,
			DistanceKm:  cum,
			ScheduledAt: utcPtr(s.ScheduledAt),
			ElevationM:  s.ElevationM,
		}
	}
	return &Store{points: points}, nil
}

// FromPoints rebuilds a store from persisted route points, which must already
// be ordered by Seq.
func FromPoints(points []race.RoutePoint) (*Store, error) {
	if len(points) == 0 {
		return nil, ErrEmptyRoute
	}
	out := make([]race.RoutePoint, len(points))
	for i, p := range points {
		if p.Seq != i {
			return nil, fmt.Errorf("%w: got seq %d at position %d", ErrNotDense, p.Seq, i)
		}
		if i > 0 && p.DistanceKm < points[i-1].DistanceKm {
			return nil, fmt.Errorf("%w: seq %d (%.3f km < %.3f km)", ErrNotMonotonic, i, p.DistanceKm, points[i-1].DistanceKm)
		}
		if p.DistanceKm < 0 {
			return nil, fmt.Errorf("%w: seq %d has negative distance", ErrNotMonotonic, i)
		}
		p.ScheduledAt = utcPtr(p.ScheduledAt)
		out[i] = p
	}
	return &Store{points: out}, nil
}

// Len returns the number of route points.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}

// PointAt returns the point with the given sequence index.
func (s *Store) PointAt(index int) (race.RoutePoint, error) {
	if index < 0 || index >= s.Len() {
		return race.RoutePoint{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, s.Len())
	}
	return s.points[index], nil
}

// Last returns the finish point. A Store built by New or FromPoints is never
// empty.
func (s *Store) Last() race.RoutePoint {
	return s.points[len(s.points)-1]
}

// TotalKm is the cumulative distance at the finish.
func (s *Store) TotalKm() float64 {
	if s.Len() == 0 {
		return 0
	}
	return s.Last().DistanceKm
}

// Points returns a copy of the route points.
func (s *Store) Points() []race.RoutePoint {
	out := make([]race.RoutePoint, s.Len())
	if s != nil {
		copy(out, s.points)
	}
	return out
}

// Positions returns the bare geometry, in route order.
func (s *Store) Positions() []geo.Point {
	out := make([]geo.Point, s.Len())
	for i := range out {
		out[i] = s.points[i].Position
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
