package importer

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

// Bundle is everything the tracker needs about a race edition.
type Bundle struct {
	Route     *route.Store
	Waypoints []race.Waypoint
	Stages    []race.Stage
}

// Files names the raw inputs. Waypoints and Stages are optional.
type Files struct {
	GPX       string
	Waypoints string
	Stages    string
}

// Load parses the raw files and synthesizes the planned schedule. GPX
// timestamps win over synthesized times.
func Load(files Files, opts Options) (*Bundle, error) {
	opts = opts.withDefaults()

	data, err := os.ReadFile(files.GPX)
	if err != nil {
		return nil, fmt.Errorf("read gpx: %w", err)
	}
	samples, gpxWaypoints, err := ParseGPX(data)
	if err != nil {
		return nil, err
	}
	if hasSchedule(samples) {
		log.Printf("gpx %s carries timestamps; keeping them as the plan", files.GPX)
	}
	b := &Bundle{Waypoints: gpxWaypoints}

	if files.Stages != "" {
		raw, err := os.ReadFile(files.Stages)
		if err != nil {
			return nil, fmt.Errorf("read stages: %w", err)
		}
		if b.Stages, err = ParseStages(bytes.NewReader(raw), opts); err != nil {
			return nil, err
		}
	}
	if files.Waypoints != "" {
		raw, err := os.ReadFile(files.Waypoints)
		if err != nil {
			return nil, fmt.Errorf("read waypoints: %w", err)
		}
		if b.Waypoints, err = ParseWaypoints(bytes.NewReader(raw), opts); err != nil {
			return nil, err
		}
	}

	store, err := route.New(samples)
	if err != nil {
		return nil, err
	}
	if b.Route, err = ApplySchedule(store, b.Stages, opts); err != nil {
		return nil, err
	}
	log.Printf("loaded route: %d points, %.1f km, %d waypoints, %d stages",
		b.Route.Len(), b.Route.TotalKm(), len(b.Waypoints), len(b.Stages))
	return b, nil
}
