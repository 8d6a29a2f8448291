package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ultra-tracker/internal/config"
	"ultra-tracker/internal/db"
	"ultra-tracker/internal/importer"
)

func main() {
	gpxPath := flag.String("gpx", "", "Path to the race GPX track (required)")
	waypointsPath := flag.String("waypoints", "", "Path to the waypoints CSV (name,km,lat,lon[,departure])")
	stagesPath := flag.String("stages", "", "Path to the stages CSV (';' separated)")
	dryRun := flag.Bool("dry-run", false, "Parse and report without writing to the database")
	flag.Parse()

	if *gpxPath == "" {
		fmt.Fprintln(os.Stderr, "usage: importer -gpx race.gpx [-waypoints ravitos.csv] [-stages steps.csv] [-dry-run]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bundle, err := importer.Load(importer.Files{
		GPX:       *gpxPath,
		Waypoints: *waypointsPath,
		Stages:    *stagesPath,
	}, importer.Options{
		RaceStart:    cfg.RaceStart,
		PaceMinPerKm: cfg.PaceMinPerKm,
	})
	if err != nil {
		log.Fatalf("import error: %v", err)
	}
	if *dryRun {
		last := bundle.Route.Last()
		if last.ScheduledAt != nil {
			log.Printf("planned finish %s", last.ScheduledAt.In(cfg.Location).Format("Mon 02 Jan 15:04"))
		}
		for _, w := range bundle.Waypoints {
			planned := "-"
			if w.PlannedArrival != nil {
				planned = w.PlannedArrival.In(cfg.Location).Format("Mon 15:04")
			}
			log.Printf("waypoint %-24s km %6.1f ravito=%-5t planned %s", w.Name, w.KmMark, w.IsCheckpoint, planned)
		}
		return
	}

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

	if err := sqlDB.SaveRoute(ctx, bundle.Route); err != nil {
		log.Fatalf("save route: %v", err)
	}
	if err := sqlDB.SaveWaypoints(ctx, bundle.Waypoints); err != nil {
		log.Fatalf("save waypoints: %v", err)
	}
	if err := sqlDB.SaveStages(ctx, bundle.Stages); err != nil {
		log.Fatalf("save stages: %v", err)
	}
	log.Printf("imported %d route points, %d waypoints, %d stages into %s database",
		bundle.Route.Len(), len(bundle.Waypoints), len(bundle.Stages), sqlDB.Driver())
}
