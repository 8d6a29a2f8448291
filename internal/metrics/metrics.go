package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Polls        *prometheus.CounterVec // result label: ok|empty|idle|stale|error
	PollDuration prometheus.Histogram

	FixesAccepted prometheus.Counter
	FixesStale    prometheus.Counter
	FixAge        prometheus.Gauge // seconds
	FixTimestamp  prometheus.Gauge // unix seconds

	ProgressPercent   prometheus.Gauge
	DistanceKm        prometheus.Gauge
	DistanceToRouteKm prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	RoutePoints     prometheus.Gauge
	RouteKm         prometheus.Gauge
	PollInterval    prometheus.Gauge // seconds
	PaceMinPerKm    prometheus.Gauge
	SpeedMultiplier prometheus.Gauge
}

func NewCollector(pollInterval time.Duration, paceMinPerKm, speedMultiplier float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_polls_total",
			Help: "Live feed polls by result.",
		}, []string{"result"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_poll_duration_seconds",
			Help:    "Duration of a live feed poll including status computation.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		FixesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fixes_accepted_total",
			Help: "Fixes stored as the new latest position.",
		}),
		FixesStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fixes_stale_total",
			Help: "Fixes ignored because a newer one was already stored.",
		}),
		FixAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_fix_age_seconds",
			Help: "Age of the latest fix when it was polled.",
		}),
		FixTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_fix_timestamp_seconds",
			Help: "Capture time of the latest fix, unix seconds.",
		}),
		ProgressPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_progress_percent",
			Help: "Race completion of the runner.",
		}),
		DistanceKm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_distance_km",
			Help: "Route distance covered by the runner.",
		}),
		DistanceToRouteKm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_distance_to_route_km",
			Help: "Distance from the latest fix to the nearest route point.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RoutePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_route_points",
			Help: "Number of loaded route points.",
		}),
		RouteKm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_route_km",
			Help: "Total length of the loaded route.",
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Live feed poll interval in seconds.",
		}),
		PaceMinPerKm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_pace_min_per_km",
			Help: "Planned average pace used for pace projections.",
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_replay_speed_multiplier",
			Help: "Replay speed multiplier when simulating.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.PollDuration,
		c.FixesAccepted, c.FixesStale, c.FixAge, c.FixTimestamp,
		c.ProgressPercent, c.DistanceKm, c.DistanceToRouteKm,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.RoutePoints, c.RouteKm, c.PollInterval, c.PaceMinPerKm, c.SpeedMultiplier,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.PaceMinPerKm.Set(paceMinPerKm)
	c.SpeedMultiplier.Set(speedMultiplier)

	return c
}

// SetRoute records the loaded route's size.
func (c *Collector) SetRoute(points int, km float64) {
	c.RoutePoints.Set(float64(points))
	c.RouteKm.Set(km)
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
