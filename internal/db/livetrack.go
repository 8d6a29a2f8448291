package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ultra-tracker/internal/race"
)

var ErrNoLiveTrackConfig = errors.New("no live track config")

// GetLiveTrackConfig returns the most recent live-track config row.
func (d *DB) GetLiveTrackConfig(ctx context.Context) (race.LiveTrackConfig, error) {
	q := `
SELECT id, url, is_active, updated_at_ms
FROM live_track_config
ORDER BY id DESC
LIMIT 1`
	var (
		c  race.LiveTrackConfig
		ms int64
	)
	if err := d.QueryRowContext(ctx, q).Scan(&c.ID, &c.URL, &c.Active, &ms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return race.LiveTrackConfig{}, ErrNoLiveTrackConfig
		}
		return race.LiveTrackConfig{}, fmt.Errorf("query live_track_config: %w", err)
	}
	c.UpdatedAt = time.UnixMilli(ms).UTC()
	return c, nil
}

// UpdateLiveTrackConfig rewrites the latest config row, creating the first
// one when the table is empty.
func (d *DB) UpdateLiveTrackConfig(ctx context.Context, url string, active bool) (race.LiveTrackConfig, error) {
	c := race.LiveTrackConfig{
		URL:       strings.TrimSpace(url),
		Active:    active,
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var id sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(id) FROM live_track_config`).Scan(&id); err != nil {
			return fmt.Errorf("query live_track_config: %w", err)
		}
		if id.Valid {
			c.ID = id.Int64
			q := `UPDATE live_track_config SET url = ` + d.ph(1) + `, is_active = ` + d.ph(2) + `, updated_at_ms = ` + d.ph(3) + ` WHERE id = ` + d.ph(4)
			if _, err := tx.ExecContext(ctx, q, c.URL, c.Active, c.UpdatedAt.UnixMilli(), c.ID); err != nil {
				return fmt.Errorf("update live_track_config: %w", err)
			}
			return nil
		}
		c.ID = 1
		q := `INSERT INTO live_track_config (id, url, is_active, updated_at_ms) VALUES (` + d.phs(1, 4) + `)`
		if _, err := tx.ExecContext(ctx, q, c.ID, c.URL, c.Active, c.UpdatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert live_track_config: %w", err)
		}
		return nil
	})
	if err != nil {
		return race.LiveTrackConfig{}, err
	}
	return c, nil
}

// LiveTrackURL returns the configured share URL, or "" when tracking is
// switched off or was never configured.
func (d *DB) LiveTrackURL(ctx context.Context) (string, error) {
	c, err := d.GetLiveTrackConfig(ctx)
	if errors.Is(err, ErrNoLiveTrackConfig) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !c.Active {
		return "", nil
	}
	return c.URL, nil
}
