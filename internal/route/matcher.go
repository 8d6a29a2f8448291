package route

import (
	"math"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
)

// MatchResult is the route sample closest to a queried position.
type MatchResult struct {
	Point             race.RoutePoint `json:"point"`
	Index             int             `json:"index"`
	DistanceToRouteKm float64         `json:"distanceToRouteKm"`
}

// Matcher finds the route sample closest to a position. Implementations must
// break ties on the lowest sequence index.
type Matcher interface {
	FindClosest(p geo.Point) (MatchResult, error)
	Route() *Store
}

// LinearMatcher scans every route sample. Routes hold a few thousand points
// and are queried once per poll, so no spatial index is needed.
type LinearMatcher struct {
	store *Store
}

func NewLinearMatcher(store *Store) *LinearMatcher {
	return &LinearMatcher{store: store}
}

func (m *LinearMatcher) Route() *Store { return m.store }

// FindClosest returns the nearest sample; the first one wins on ties.
func (m *LinearMatcher) FindClosest(p geo.Point) (MatchResult, error) {
	if m == nil || m.store.Len() == 0 {
		return MatchResult{}, ErrEmptyRoute
	}
	best := 0
	bestDist := math.Inf(1)
	for i, rp := range m.store.points {
		d := geo.DistanceKm(p, rp.Position)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return MatchResult{
		Point:             m.store.points[best],
		Index:             best,
		DistanceToRouteKm: bestDist,
	}, nil
}

// ProgressPercent converts a matched index into race completion, in [0, 100].
// A single-point route reports 0.
func ProgressPercent(index, length int) float64 {
	if index <= 0 {
		return 0
	}
	denom := length - 1
	if denom < 1 {
		denom = 1
	}
	return math.Min(100, float64(index)/float64(denom)*100)
}
