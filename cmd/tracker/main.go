package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"ultra-tracker/internal/api"
	"ultra-tracker/internal/config"
	"ultra-tracker/internal/db"
	"ultra-tracker/internal/eta"
	"ultra-tracker/internal/fixstore"
	"ultra-tracker/internal/livefeed"
	"ultra-tracker/internal/metrics"
	"ultra-tracker/internal/publisher"
	"ultra-tracker/internal/route"
	"ultra-tracker/internal/sim"
	"ultra-tracker/internal/tracker"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dsn, err := cfg.DSN()
	if err != nil {
		log.Fatalf("invalid DSN: %v", err)
	}
	sqlDB, err := db.Open(cfg.DBDriver, dsn)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if err := sqlDB.Migrate(ctx); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}
	if cfg.RaceEdition != "" {
		log.Printf("using race edition %q", cfg.RaceEdition)
	}

	r, err := loadRace(ctx, sqlDB, cfg)
	if errors.Is(err, route.ErrEmptyRoute) {
		log.Fatalf("no route stored; run the importer first")
	}
	if err != nil {
		log.Fatalf("load race: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval, cfg.PaceMinPerKm, cfg.SpeedMultiplier)
		mcol.SetRoute(r.Route.Len(), r.Route.TotalKm())
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Status pushes are optional
	var pub tracker.StatusPublisher
	if cfg.NATSURL != "" {
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer np.Close()
		pub = np
		log.Printf("publishing status on %s", publisher.StatusSubject(cfg.NATSSubjectPrefix))
	}

	var fixes fixstore.Store = fixstore.NewMemory()
	if rc := fixstore.Connect(cfg.RedisAddr, cfg.RedisPassword); rc != nil {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
		fixes = fixstore.NewRedis(rc, fixstore.DefaultKey, 0)
		log.Printf("latest fix kept in redis at %s", cfg.RedisAddr)
	}

	feed, err := newFeed(cfg, sqlDB, r)
	if err != nil {
		log.Fatalf("live feed: %v", err)
	}

	mgr := tracker.NewManager(feed, fixes, r, tracker.Options{
		Interval:  cfg.PollInterval,
		Method:    cfg.ETAMethod,
		Publisher: pub,
		Metrics:   mcol,
	})
	mgr.Start(ctx)

	srv := api.NewServer(r, mgr, sqlDB, cfg.ETAMethod)
	go func() {
		log.Printf("http listening on %s", cfg.HTTPAddr)
		if err := srv.Listen(cfg.HTTPAddr); err != nil {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	mgr.Stop()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	log.Println("shutdown complete")
}

func loadRace(ctx context.Context, sqlDB *db.DB, cfg *config.Config) (*tracker.Race, error) {
	store, err := sqlDB.LoadRoute(ctx)
	if err != nil {
		return nil, err
	}
	waypoints, err := sqlDB.LoadWaypoints(ctx)
	if err != nil {
		return nil, err
	}
	stages, err := sqlDB.LoadStages(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("race loaded: %d route points, %.1f km, %d waypoints, %d stages",
		store.Len(), store.TotalKm(), len(waypoints), len(stages))
	return tracker.NewRace(store, waypoints, stages, cfg.RaceStart, eta.Config{
		AveragePaceMinPerKm: cfg.PaceMinPerKm,
		Location:            cfg.Location,
	}), nil
}

// newFeed picks the replay when simulating, else Garmin LiveTrack with the
// URL from LIVETRACK_URL or the live_track_config table.
func newFeed(cfg *config.Config, sqlDB *db.DB, r *tracker.Race) (livefeed.Feed, error) {
	if cfg.Simulate {
		replay, err := sim.NewReplay(r.Route, sim.Options{
			RaceStart:       cfg.RaceStart,
			PaceMinPerKm:    cfg.PaceMinPerKm,
			SpeedMultiplier: cfg.SpeedMultiplier,
		})
		if err != nil {
			return nil, err
		}
		return replay, nil
	}
	var source livefeed.URLSource = sqlDB
	if cfg.LiveTrackURL != "" {
		if _, err := livefeed.ParseLiveTrackURL(cfg.LiveTrackURL); err != nil {
			return nil, err
		}
		source = livefeed.StaticURL(cfg.LiveTrackURL)
	}
	return livefeed.NewGarmin(source, cfg.GarminEndpoint), nil
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
