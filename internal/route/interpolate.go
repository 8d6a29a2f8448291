package route

import (
	"sort"

	"ultra-tracker/internal/geo"
)

// PositionAt interpolates the position and heading at a cumulative route
// distance. Distances outside the route clamp to the start or finish.
func (s *Store) PositionAt(km float64) (geo.Point, float64) {
	n := s.Len()
	if n == 0 {
		return geo.Point{}, 0
	}
	pts := s.points
	if n == 1 {
		return pts[0].Position, 0
	}
	if km <= 0 {
		return pts[0].Position, geo.BearingDeg(pts[0].Position, pts[1].Position)
	}
	if km >= s.TotalKm() {
		return pts[n-1].Position, geo.BearingDeg(pts[n-2].Position, pts[n-1].Position)
	}
	// first index whose cumulative distance reaches km
	i := sort.Search(n, func(i int) bool { return pts[i].DistanceKm >= km })
	if i == 0 {
		i = 1
	}
	p0, p1 := pts[i-1], pts[i]
	bearing := geo.BearingDeg(p0.Position, p1.Position)
	if p1.DistanceKm == p0.DistanceKm {
		return p0.Position, bearing
	}
	frac := (km - p0.DistanceKm) / (p1.DistanceKm - p0.DistanceKm)
	return geo.Lerp(p0.Position, p1.Position, frac), bearing
}
