package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"ultra-tracker/internal/db"
	"ultra-tracker/internal/eta"
)

type Config struct {
	DBDriver     string
	DatabaseURL  string
	RaceEdition  string
	HTTPAddr     string
	MetricsAddr  string
	PollInterval time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	RedisAddr     string
	RedisPassword string

	LiveTrackURL   string
	GarminEndpoint string

	PaceMinPerKm float64
	RaceStart    time.Time
	Location     *time.Location
	ETAMethod    eta.Method

	Simulate        bool
	SpeedMultiplier float64
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Time zone first: RACE_START may be given without an offset.
	loc, err := time.LoadLocation(getenvDefault("TZ", "Europe/Brussels"))
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	cfg.DBDriver = strings.ToLower(getenvDefault("DB_DRIVER", db.DriverPostgres))
	switch cfg.DBDriver {
	case db.DriverPostgres, "postgres", "postgresql":
		cfg.DBDriver = db.DriverPostgres
		dsn, err := postgresDSN()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	case db.DriverSQLite:
		cfg.DatabaseURL = firstNonEmpty(os.Getenv("SQLITE_PATH"), os.Getenv("DATABASE_URL"), "ultra-tracker.db")
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER: %q", cfg.DBDriver)
	}
	cfg.RaceEdition = strings.TrimSpace(os.Getenv("RACE_EDITION"))

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_MS: %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PollInterval = 10 * time.Second
	}

	// Empty NATS_URL disables status pushes.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "ultra")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// Empty REDIS_ADDR keeps the latest fix in memory.
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.LiveTrackURL = strings.TrimSpace(os.Getenv("LIVETRACK_URL"))
	cfg.GarminEndpoint = os.Getenv("GARMIN_GRAPHQL_URL")

	if v := os.Getenv("AVERAGE_PACE_MIN_PER_KM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid AVERAGE_PACE_MIN_PER_KM: %q", v)
		}
		cfg.PaceMinPerKm = f
	} else {
		cfg.PaceMinPerKm = eta.DefaultPaceMinPerKm
	}

	if v := strings.TrimSpace(os.Getenv("RACE_START")); v != "" {
		t, err := parseStart(v, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid RACE_START: %q", v)
		}
		cfg.RaceStart = t
	}

	cfg.ETAMethod, err = eta.ParseMethod(getenvDefault("ETA_METHOD", "pace"))
	if err != nil {
		return nil, fmt.Errorf("invalid ETA_METHOD: %v", err)
	}

	cfg.Simulate = parseBool(os.Getenv("SIMULATE"))
	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}
	if cfg.Simulate && cfg.RaceStart.IsZero() {
		return nil, errors.New("SIMULATE requires RACE_START")
	}

	return cfg, nil
}

// DSN returns the connection string for the configured race edition.
func (c *Config) DSN() (string, error) {
	return db.EditionDSN(c.DBDriver, c.DatabaseURL, c.RaceEdition)
}

// postgresDSN prefers DATABASE_URL / PG_DSN, else builds one from PG* vars.
func postgresDSN() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	name := os.Getenv("PGDATABASE")
	if name == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, name, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, name, sslmode), nil
}

// parseStart accepts RFC3339 or a local "2006-01-02T15:04" in loc.
func parseStart(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	return time.ParseInLocation("2006-01-02T15:04", v, loc)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
