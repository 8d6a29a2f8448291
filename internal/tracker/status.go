package tracker

import (
	"time"

	"ultra-tracker/internal/eta"
	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

// Race is the loaded, read-only reference data of one race edition.
type Race struct {
	Route     *route.Store
	Matcher   route.Matcher
	Estimator *eta.Estimator
	Waypoints []race.Waypoint
	Stages    []race.Stage
	Start     time.Time
}

func NewRace(store *route.Store, waypoints []race.Waypoint, stages []race.Stage, start time.Time, cfg eta.Config) *Race {
	m := route.NewLinearMatcher(store)
	return &Race{
		Route:     store,
		Matcher:   m,
		Estimator: eta.New(m, cfg),
		Waypoints: waypoints,
		Stages:    stages,
		Start:     start,
	}
}

// NextCheckpoint is the nearest supply station ahead of the runner.
type NextCheckpoint struct {
	Waypoint    race.Waypoint `json:"waypoint"`
	RemainingKm float64       `json:"remainingKm"`
	ETA         *eta.Estimate `json:"eta,omitempty"`
	ETAClock    string        `json:"etaClock,omitempty"`
}

// Status is the runner's situation at one fix. Fields past Method are only
// meaningful when Available is set.
type Status struct {
	Now             time.Time  `json:"now"`
	Started         bool       `json:"started"`
	StartsInSeconds int64      `json:"startsInSeconds"`
	Available       bool       `json:"available"`
	Method          eta.Method `json:"method"`

	Fix               *race.LiveFix      `json:"fix,omitempty"`
	Match             *route.MatchResult `json:"match,omitempty"`
	Progress          float64            `json:"progress"`
	DistanceKm        float64            `json:"distanceKm"`
	RemainingKm       float64            `json:"remainingKm"`
	DistanceToRouteKm float64            `json:"distanceToRouteKm"`
	Next              *NextCheckpoint    `json:"nextCheckpoint,omitempty"`
	Upcoming          []eta.WaypointETA  `json:"upcoming,omitempty"`
}

// Status computes progress and projections for fix. A nil fix or an empty
// route yields a status that is not Available.
func (r *Race) Status(method eta.Method, fix *race.LiveFix, now time.Time) Status {
	st := Status{Now: now, Method: method, Started: true}
	if !r.Start.IsZero() && now.Before(r.Start) {
		st.Started = false
		st.StartsInSeconds = int64(r.Start.Sub(now) / time.Second)
	}
	if fix == nil {
		return st
	}
	match, err := r.Matcher.FindClosest(fix.Position)
	if err != nil {
		return st
	}
	st.Available = true
	st.Fix = fix
	st.Match = &match
	st.Progress = route.ProgressPercent(match.Index, r.Route.Len())
	st.DistanceKm = match.Point.DistanceKm
	st.RemainingKm = r.Route.TotalKm() - match.Point.DistanceKm
	st.DistanceToRouteKm = match.DistanceToRouteKm

	if wp, remaining, ok := r.Estimator.NextCheckpoint(r.Waypoints, fix); ok {
		next := &NextCheckpoint{Waypoint: wp, RemainingKm: remaining}
		if est, ok := r.Estimator.Estimate(method, wp, fix); ok {
			next.ETA = &est
			next.ETAClock = est.Clock()
		}
		st.Next = next
	}
	st.Upcoming = r.Estimator.Upcoming(method, r.Waypoints, fix)
	return st
}

// Waypoint looks a waypoint up by ID.
func (r *Race) Waypoint(id int) (race.Waypoint, bool) {
	for _, w := range r.Waypoints {
		if w.ID == id {
			return w, true
		}
	}
	return race.Waypoint{}, false
}
