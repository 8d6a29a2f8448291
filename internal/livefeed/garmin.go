package livefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/race"
)

const DefaultGarminEndpoint = "https://livetrack.garmin.com/apollo/graphql"

const trackPointsQuery = `
query getTrackPoints($sessionId: String!, $token: String!, $disablePolling: Boolean) {
  trackPointsBySessionId(
    sessionId: $sessionId
    token: $token
    limit: 3000
    disablePolling: $disablePolling
  ) {
    trackPoints {
      fitnessPointData {
        totalDurationSecs
        speedMetersPerSec
        totalDistanceMeters
        elevationGainMeters
        elevation
        heartRateBeatsPerMin
        pointStatus
        activityType
      }
      position {
        lat
        lon
      }
      dateTime
      speed
    }
    sessionId
  }
}`

// Garmin polls the LiveTrack GraphQL endpoint.
type Garmin struct {
	source     URLSource
	endpoint   string
	httpClient *http.Client
}

func NewGarmin(source URLSource, endpoint string) *Garmin {
	if endpoint == "" {
		endpoint = DefaultGarminEndpoint
	}
	return &Garmin{
		source:   source,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		TrackPointsBySessionID *struct {
			TrackPoints []garminPoint `json:"trackPoints"`
			SessionID   string        `json:"sessionId"`
		} `json:"trackPointsBySessionId"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type garminPoint struct {
	Position struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"position"`
	DateTime string   `json:"dateTime"`
	Speed    *float64 `json:"speed"`
	Fitness  *struct {
		TotalDurationSecs   *float64 `json:"totalDurationSecs"`
		SpeedMetersPerSec   *float64 `json:"speedMetersPerSec"`
		TotalDistanceMeters *float64 `json:"totalDistanceMeters"`
		ElevationGainMeters *float64 `json:"elevationGainMeters"`
		Elevation           *float64 `json:"elevation"`
		HeartRate           *int     `json:"heartRateBeatsPerMin"`
		PointStatus         string   `json:"pointStatus"`
		ActivityType        string   `json:"activityType"`
	} `json:"fitnessPointData"`
}

// Latest fetches the session's track and returns its newest valid fix.
func (g *Garmin) Latest(ctx context.Context) (*race.LiveFix, error) {
	fixes, err := g.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return newest(fixes), nil
}

// Fetch returns every fix of the current session, in provider order.
func (g *Garmin) Fetch(ctx context.Context) ([]race.LiveFix, error) {
	url, err := g.source.LiveTrackURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve live track url: %w", err)
	}
	if url == "" {
		return nil, ErrNoSession
	}
	session, err := ParseLiveTrackURL(url)
	if err != nil {
		return nil, err
	}
	return g.fetchSession(ctx, session)
}

func (g *Garmin) fetchSession(ctx context.Context, s Session) ([]race.LiveFix, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: trackPointsQuery,
		Variables: map[string]any{
			"sessionId":      s.ID,
			"token":          s.Token,
			"disablePolling": true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("livetrack error %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("livetrack graphql: %s", out.Errors[0].Message)
	}
	if out.Data.TrackPointsBySessionID == nil {
		return nil, fmt.Errorf("livetrack: no trackpoints data received")
	}

	points := out.Data.TrackPointsBySessionID.TrackPoints
	fixes := make([]race.LiveFix, 0, len(points))
	for _, p := range points {
		fix, ok := p.toFix()
		if !ok {
			continue
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

func (p garminPoint) toFix() (race.LiveFix, bool) {
	pos := geo.Point{Lat: p.Position.Lat, Lon: p.Position.Lon}
	if !pos.Valid() || (pos.Lat == 0 && pos.Lon == 0) {
		return race.LiveFix{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, p.DateTime)
	if err != nil {
		return race.LiveFix{}, false
	}
	fix := race.LiveFix{Position: pos, CapturedAt: at.UTC(), SpeedMps: p.Speed}
	if f := p.Fitness; f != nil {
		if f.SpeedMetersPerSec != nil {
			fix.SpeedMps = f.SpeedMetersPerSec
		}
		fix.ElevationM = f.Elevation
		fix.HeartRateBpm = f.HeartRate
		fix.TotalDistanceM = f.TotalDistanceMeters
		fix.TotalDurationS = f.TotalDurationSecs
		fix.ElevationGainM = f.ElevationGainMeters
		fix.Status = f.PointStatus
	}
	return fix, true
}

// newest picks the fix with the latest capture time; later entries win ties.
func newest(fixes []race.LiveFix) *race.LiveFix {
	var best *race.LiveFix
	for i := range fixes {
		if best == nil || !fixes[i].CapturedAt.Before(best.CapturedAt) {
			best = &fixes[i]
		}
	}
	return best
}
