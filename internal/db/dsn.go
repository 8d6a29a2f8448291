package db

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var ErrEmptyDSN = errors.New("empty DSN")

// WithDBName returns a DSN identical to the input but with the database path replaced.
// Supports postgres:// and postgresql:// schemes.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", ErrEmptyDSN
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// EditionDSN points a DSN at the database of one race edition. Postgres gets
// the edition as database name; SQLite gets a sibling file named after it.
// An empty edition leaves the DSN unchanged.
func EditionDSN(driver, dsn, edition string) (string, error) {
	edition = strings.TrimSpace(edition)
	if edition == "" {
		return dsn, nil
	}
	if driver != DriverSQLite {
		return WithDBName(dsn, edition)
	}
	if dsn == "" {
		return "", ErrEmptyDSN
	}
	if strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return dsn, nil
	}
	path, query, _ := strings.Cut(dsn, "?")
	ext := filepath.Ext(path)
	path = strings.TrimSuffix(path, ext) + "-" + edition + ext
	if query != "" {
		return path + "?" + query, nil
	}
	return path, nil
}
