package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tkrajina/gpxgo/gpx"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

var ErrNoTrackPoints = errors.New("gpx has no track points")

// ParseGPX flattens every track segment into route samples, in file order.
// Point timestamps, when present, become the planned passage times. Named
// <wpt> elements are returned as waypoints without a km mark.
func ParseGPX(data []byte) ([]route.Sample, []race.Waypoint, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse gpx: %w", err)
	}
	var samples []route.Sample
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				s := route.Sample{Position: geo.Point{Lat: p.Latitude, Lon: p.Longitude}}
				if p.Elevation.NotNull() {
					ele := p.Elevation.Value()
					s.ElevationM = &ele
				}
				if !p.Timestamp.IsZero() {
					ts := p.Timestamp.UTC()
					s.ScheduledAt = &ts
				}
				samples = append(samples, s)
			}
		}
	}
	// routes exported without <trk> still carry <rte> points
	if len(samples) == 0 {
		for _, rte := range g.Routes {
			for _, p := range rte.Points {
				samples = append(samples, route.Sample{Position: geo.Point{Lat: p.Latitude, Lon: p.Longitude}})
			}
		}
	}
	if len(samples) == 0 {
		return nil, nil, ErrNoTrackPoints
	}

	var waypoints []race.Waypoint
	for i, w := range g.Waypoints {
		name := strings.TrimSpace(w.Name)
		waypoints = append(waypoints, race.Waypoint{
			ID:           i,
			Name:         name,
			Position:     geo.Point{Lat: w.Latitude, Lon: w.Longitude},
			IsCheckpoint: IsCheckpointName(name),
		})
	}
	return samples, waypoints, nil
}

// hasSchedule reports whether every sample carries a timestamp.
func hasSchedule(samples []route.Sample) bool {
	for _, s := range samples {
		if s.ScheduledAt == nil {
			return false
		}
	}
	return len(samples) > 0
}
