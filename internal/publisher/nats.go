package publisher

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	nc          *nats.Conn
	subject     string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NewNATSPublisher connects to url and publishes status on "<prefix>.status".
func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("ultra-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, subject: StatusSubject(prefix), logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// StatusMessage is the runner status pushed to subscribers after each poll.
type StatusMessage struct {
	Timestamp         time.Time  `json:"timestamp"`
	Lat               float64    `json:"lat"`
	Lon               float64    `json:"lon"`
	SpeedMps          *float64   `json:"speedMps,omitempty"`
	HeartRateBpm      *int       `json:"heartRateBpm,omitempty"`
	RouteIndex        int        `json:"routeIndex"`
	DistanceKm        float64    `json:"distanceKm"`
	RemainingKm       float64    `json:"remainingKm"`
	DistanceToRouteKm float64    `json:"distanceToRouteKm"`
	Progress          float64    `json:"progress"`
	NextCheckpoint    string     `json:"nextCheckpoint,omitempty"`
	NextCheckpointETA *time.Time `json:"nextCheckpointEta,omitempty"`
	Method            string     `json:"method"`
}

func (p *NATSPublisher) PublishStatus(msg StatusMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", p.subject)
	}
	start := time.Now()
	err = p.nc.Publish(p.subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// StatusSubject builds the status subject under a dotted prefix.
func StatusSubject(prefix string) string {
	var tokens []string
	for _, t := range strings.Split(prefix, ".") {
		if t = subjectToken(t); t != "_" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		tokens = []string{"ultra"}
	}
	return strings.Join(append(tokens, "status"), ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
