package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
	"ultra-tracker/internal/route"
)

// SaveRoute replaces the stored route.
func (d *DB) SaveRoute(ctx context.Context, store *route.Store) error {
	points := store.Points()
	q := `INSERT INTO route_points (seq, lat, lon, distance_km, scheduled_at_ms, elevation_m) VALUES (` + d.phs(1, 6) + `)`
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM route_points`); err != nil {
			return fmt.Errorf("clear route_points: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return fmt.Errorf("prepare route_points: %w", err)
		}
		defer stmt.Close()
		for _, p := range points {
			if _, err := stmt.ExecContext(ctx, p.Seq, p.Position.Lat, p.Position.Lon, p.DistanceKm,
				toMillis(p.ScheduledAt), toFloat(p.ElevationM)); err != nil {
				return fmt.Errorf("insert route point %d: %w", p.Seq, err)
			}
		}
		return nil
	})
}

// LoadRoute reads the route back in sequence order.
func (d *DB) LoadRoute(ctx context.Context) (*route.Store, error) {
	rows, err := d.QueryContext(ctx, `SELECT seq, lat, lon, distance_km, scheduled_at_ms, elevation_m FROM route_points ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query route_points: %w", err)
	}
	defer rows.Close()

	var points []race.RoutePoint
	for rows.Next() {
		var (
			p   race.RoutePoint
			at  sql.NullInt64
			ele sql.NullFloat64
		)
		if err := rows.Scan(&p.Seq, &p.Position.Lat, &p.Position.Lon, &p.DistanceKm, &at, &ele); err != nil {
			return nil, err
		}
		p.ScheduledAt = fromMillis(at)
		p.ElevationM = fromFloat(ele)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return route.FromPoints(points)
}

// SaveWaypoints replaces the stored waypoints.
func (d *DB) SaveWaypoints(ctx context.Context, waypoints []race.Waypoint) error {
	q := `INSERT INTO waypoints (id, km, name, lat, lon, is_checkpoint, planned_arrival_ms, departure_ms) VALUES (` + d.phs(1, 8) + `)`
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM waypoints`); err != nil {
			return fmt.Errorf("clear waypoints: %w", err)
		}
		for _, w := range waypoints {
			if _, err := tx.ExecContext(ctx, q, w.ID, w.KmMark, w.Name, w.Position.Lat, w.Position.Lon,
				w.IsCheckpoint, toMillis(w.PlannedArrival), toMillis(w.Departure)); err != nil {
				return fmt.Errorf("insert waypoint %d: %w", w.ID, err)
			}
		}
		return nil
	})
}

func (d *DB) LoadWaypoints(ctx context.Context) ([]race.Waypoint, error) {
	rows, err := d.QueryContext(ctx, `SELECT id, km, name, lat, lon, is_checkpoint, planned_arrival_ms, departure_ms FROM waypoints ORDER BY km, id`)
	if err != nil {
		return nil, fmt.Errorf("query waypoints: %w", err)
	}
	defer rows.Close()

	var out []race.Waypoint
	for rows.Next() {
		var (
			w        race.Waypoint
			arr, dep sql.NullInt64
		)
		if err := rows.Scan(&w.ID, &w.KmMark, &w.Name, &w.Position.Lat, &w.Position.Lon, &w.IsCheckpoint, &arr, &dep); err != nil {
			return nil, err
		}
		w.PlannedArrival = fromMillis(arr)
		w.Departure = fromMillis(dep)
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveStages replaces the stored stage plan.
func (d *DB) SaveStages(ctx context.Context, stages []race.Stage) error {
	q := `INSERT INTO stages (idx, start_lat, start_lon, end_lat, end_lon, departure_ms, distance_km, elevation_gain_m, estimated_duration_min) VALUES (` + d.phs(1, 9) + `)`
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stages`); err != nil {
			return fmt.Errorf("clear stages: %w", err)
		}
		for _, s := range stages {
			if _, err := tx.ExecContext(ctx, q, s.Index, s.Start.Lat, s.Start.Lon, s.End.Lat, s.End.Lon,
				s.Departure.UnixMilli(), s.DistanceKm, s.ElevationGainM, s.EstimatedDurationMin); err != nil {
				return fmt.Errorf("insert stage %d: %w", s.Index, err)
			}
		}
		return nil
	})
}

func (d *DB) LoadStages(ctx context.Context) ([]race.Stage, error) {
	rows, err := d.QueryContext(ctx, `SELECT idx, start_lat, start_lon, end_lat, end_lon, departure_ms, distance_km, elevation_gain_m, estimated_duration_min FROM stages ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []race.Stage
	for rows.Next() {
		var (
			s          race.Stage
			start, end geo.Point
			dep        int64
		)
		if err := rows.Scan(&s.Index, &start.Lat, &start.Lon, &end.Lat, &end.Lon, &dep,
			&s.DistanceKm, &s.ElevationGainM, &s.EstimatedDurationMin); err != nil {
			return nil, err
		}
		s.Start, s.End = start, end
		s.Departure = time.UnixMilli(dep).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
