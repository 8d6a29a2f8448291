package race

import (
	"time"

	"ultra-tracker/internal/geo"
)

// RoutePoint is one sample of the precomputed race route.
type RoutePoint struct {
	// Seq is dense and zero-based; it defines route order.
	Seq      int       `json:"seq"`
	Position geo.Point `json:"position"`
	// DistanceKm is cumulative from the start sample.
	DistanceKm float64 `json:"distanceKm"`
	// ScheduledAt is the planned passage time in UTC, when known.
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	ElevationM  *float64   `json:"elevationM,omitempty"`
}

// Waypoint is a named point of interest on the route. Checkpoints ("ravitos")
// are supply stations.
type Waypoint struct {
	ID             int        `json:"id"`
	KmMark         float64    `json:"km"` // authored distance, not snapped to the track
	Name           string     `json:"name"`
	Position       geo.Point  `json:"position"`
	IsCheckpoint   bool       `json:"isRavito"`
	PlannedArrival *time.Time `json:"plannedArrival,omitempty"`
	Departure      *time.Time `json:"departure,omitempty"`
}

// LiveFix is one position report from the live-tracking provider.
type LiveFix struct {
	Position   geo.Point `json:"position"`
	CapturedAt time.Time `json:"capturedAt"`
	SpeedMps   *float64  `json:"speedMps,omitempty"`

	// Optional fitness data some providers attach to each fix.
	ElevationM     *float64 `json:"elevationM,omitempty"`
	HeartRateBpm   *int     `json:"heartRateBpm,omitempty"`
	TotalDistanceM *float64 `json:"totalDistanceM,omitempty"`
	TotalDurationS *float64 `json:"totalDurationS,omitempty"`
	ElevationGainM *float64 `json:"elevationGainM,omitempty"`
	Status         string   `json:"status,omitempty"` // MOVING, STATIONARY, ...
}

// Stage is one leg of the planned race schedule.
type Stage struct {
	Index                int       `json:"index"`
	Start                geo.Point `json:"start"`
	End                  geo.Point `json:"end"`
	Departure            time.Time `json:"departure"`
	DistanceKm           float64   `json:"distanceKm"`
	ElevationGainM       float64   `json:"elevationGainM"`
	EstimatedDurationMin int       `json:"estimatedDurationMin"`
}

// LiveTrackConfig points the poller at the current live-tracking session.
type LiveTrackConfig struct {
	ID        int64     `json:"id"`
	URL       string    `json:"liveTrackUrl"`
	Active    bool      `json:"isActive"`
	UpdatedAt time.Time `json:"updatedAt"`
}
