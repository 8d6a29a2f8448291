package tracker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"ultra-tracker/internal/eta"
	"ultra-tracker/internal/fixstore"
	"ultra-tracker/internal/livefeed"
	mmetrics "ultra-tracker/internal/metrics"
	"ultra-tracker/internal/publisher"
)

// Poll results, used as the metrics label.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultIdle  = "idle"
	ResultStale = "stale"
	ResultError = "error"
)

// StatusPublisher receives the runner status after every accepted fix.
type StatusPublisher interface {
	PublishStatus(msg publisher.StatusMessage) error
}

// Manager polls the live feed on a fixed interval, keeps the latest fix and
// pushes the derived status to subscribers.
type Manager struct {
	feed     livefeed.Feed
	fixes    fixstore.Store
	race     *Race
	pub      StatusPublisher
	method   eta.Method
	interval time.Duration
	metrics  *mmetrics.Collector
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Options struct {
	Interval time.Duration
	Method   eta.Method
	// Publisher may be nil when nobody subscribes to pushes.
	Publisher StatusPublisher
	Metrics   *mmetrics.Collector
	// Now overrides the wall clock in tests.
	Now func() time.Time
}

func NewManager(feed livefeed.Feed, fixes fixstore.Store, r *Race, opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Method == 0 {
		opts.Method = eta.Pace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		feed:     feed,
		fixes:    fixes,
		race:     r,
		pub:      opts.Publisher,
		method:   opts.Method,
		interval: opts.Interval,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// Start polls once immediately and then on every tick until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	log.Printf("polling live feed every %s (eta method %s)", m.interval, m.method)
	go func() {
		defer m.wg.Done()
		tick := time.NewTicker(m.interval)
		defer tick.Stop()
		for {
			if _, err := m.PollOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("poll error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// PollOnce fetches the newest fix, stores it and publishes the resulting
// status. It returns the poll result label.
func (m *Manager) PollOnce(ctx context.Context) (string, error) {
	start := time.Now()
	result, err := m.poll(ctx)
	if m.metrics != nil {
		m.metrics.Polls.WithLabelValues(result).Inc()
		m.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (m *Manager) poll(ctx context.Context) (string, error) {
	fix, err := m.feed.Latest(ctx)
	if errors.Is(err, livefeed.ErrNoSession) {
		return ResultIdle, nil
	}
	if err != nil {
		return ResultError, err
	}
	if fix == nil {
		return ResultEmpty, nil
	}
	accepted, err := m.fixes.Put(ctx, *fix)
	if err != nil {
		return ResultError, err
	}
	if !accepted {
		if m.metrics != nil {
			m.metrics.FixesStale.Inc()
		}
		return ResultStale, nil
	}

	st := m.race.Status(m.method, fix, m.now())
	m.record(st)
	if m.pub != nil && st.Available {
		if err := m.pub.PublishStatus(Message(st)); err != nil {
			log.Printf("publish status error: %v", err)
		}
	}
	return ResultOK, nil
}

func (m *Manager) record(st Status) {
	if m.metrics == nil || !st.Available {
		return
	}
	m.metrics.FixesAccepted.Inc()
	m.metrics.FixAge.Set(st.Now.Sub(st.Fix.CapturedAt).Seconds())
	m.metrics.FixTimestamp.Set(float64(st.Fix.CapturedAt.Unix()))
	m.metrics.ProgressPercent.Set(st.Progress)
	m.metrics.DistanceKm.Set(st.DistanceKm)
	m.metrics.DistanceToRouteKm.Set(st.DistanceToRouteKm)
}

// Current computes the status from the stored fix.
func (m *Manager) Current(ctx context.Context, method eta.Method) (Status, error) {
	fix, err := m.fixes.Latest(ctx)
	if err != nil {
		return Status{}, err
	}
	return m.race.Status(method, fix, m.now()), nil
}

// Message flattens a status into the pushed wire form.
func Message(st Status) publisher.StatusMessage {
	msg := publisher.StatusMessage{
		Timestamp:         st.Now,
		Progress:          st.Progress,
		DistanceKm:        st.DistanceKm,
		RemainingKm:       st.RemainingKm,
		DistanceToRouteKm: st.DistanceToRouteKm,
		Method:            st.Method.String(),
	}
	if st.Fix != nil {
		msg.Timestamp = st.Fix.CapturedAt
		msg.Lat = st.Fix.Position.Lat
		msg.Lon = st.Fix.Position.Lon
		msg.SpeedMps = st.Fix.SpeedMps
		msg.HeartRateBpm = st.Fix.HeartRateBpm
	}
	if st.Match != nil {
		msg.RouteIndex = st.Match.Index
	}
	if st.Next != nil {
		msg.NextCheckpoint = st.Next.Waypoint.Name
		if st.Next.ETA != nil {
			at := st.Next.ETA.At
			msg.NextCheckpointETA = &at
		}
	}
	return msg
}
