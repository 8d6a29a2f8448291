package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
)

// IsCheckpointName reports whether a waypoint is a supply station.
func IsCheckpointName(name string) bool {
	return strings.Contains(strings.ToLower(name), "ravito")
}

// ParseWaypoints reads the waypoint sheet:
//
//	km,name,lat,lng,<unused>,departure_time
//
// The first row is a header. Planned arrival is the race start plus km at
// the planned pace; checkpoints are planned one break earlier so the runner
// leaves on the pace line. A checkpoint without a departure time departs on
// the pace line. Departure clock times resolve forward from the race start,
// each one at or after the previous departure.
func ParseWaypoints(r io.Reader, opts Options) ([]race.Waypoint, error) {
	opts = opts.withDefaults()
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read waypoints: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	out := make([]race.Waypoint, 0, len(rows)-1)
	after := opts.RaceStart
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) < 4 {
			return nil, fmt.Errorf("waypoints line %d: want at least 4 fields, got %d", line, len(row))
		}
		km, err := parseFloat(row[0])
		if err != nil {
			return nil, fmt.Errorf("waypoints line %d: km: %w", line, err)
		}
		lat, err := parseFloat(row[2])
		if err != nil {
			return nil, fmt.Errorf("waypoints line %d: lat: %w", line, err)
		}
		lon, err := parseFloat(row[3])
		if err != nil {
			return nil, fmt.Errorf("waypoints line %d: lng: %w", line, err)
		}
		name := strings.Trim(strings.TrimSpace(row[1]), `"`)
		wp := race.Waypoint{
			ID:           i,
			KmMark:       km,
			Name:         name,
			Position:     geo.Point{Lat: lat, Lon: lon},
			IsCheckpoint: IsCheckpointName(name),
		}
		if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
			dep, err := ResolveClock(row[5], after)
			if err != nil {
				return nil, fmt.Errorf("waypoints line %d: departure: %w", line, err)
			}
			after = dep
			dep = dep.UTC()
			wp.Departure = &dep
		}
		if !opts.RaceStart.IsZero() {
			base := opts.atKm(opts.RaceStart, km).UTC()
			arrival := base
			if wp.IsCheckpoint {
				arrival = base.Add(-opts.CheckpointBreak)
				if wp.Departure == nil {
					dep := base
					wp.Departure = &dep
				}
			}
			wp.PlannedArrival = &arrival
		}
		out = append(out, wp)
	}
	return out, nil
}

// ParseStages reads the semicolon separated stage plan:
//
//	index;start_lat;start_lng;end_lat;end_lng;departure_time;distance_km;elevation_gain_m;estimated_duration_minutes
//
// Stages must be listed in race order; departures resolve forward like
// waypoint departures.
func ParseStages(r io.Reader, opts Options) ([]race.Stage, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read stages: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	out := make([]race.Stage, 0, len(rows)-1)
	after := opts.RaceStart
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) < 9 {
			return nil, fmt.Errorf("stages line %d: want 9 fields, got %d", line, len(row))
		}
		var f [9]float64
		for _, col := range []int{1, 2, 3, 4, 6, 7} {
			if f[col], err = parseFloat(row[col]); err != nil {
				return nil, fmt.Errorf("stages line %d: column %d: %w", line, col+1, err)
			}
		}
		idx, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("stages line %d: index: %w", line, err)
		}
		dur, err := strconv.Atoi(strings.TrimSpace(row[8]))
		if err != nil {
			return nil, fmt.Errorf("stages line %d: duration: %w", line, err)
		}
		dep, err := ResolveClock(row[5], after)
		if err != nil {
			return nil, fmt.Errorf("stages line %d: departure: %w", line, err)
		}
		after = dep
		out = append(out, race.Stage{
			Index:                idx,
			Start:                geo.Point{Lat: f[1], Lon: f[2]},
			End:                  geo.Point{Lat: f[3], Lon: f[4]},
			Departure:            dep.UTC(),
			DistanceKm:           f[6],
			ElevationGainM:       f[7],
			EstimatedDurationMin: dur,
		})
	}
	return out, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
