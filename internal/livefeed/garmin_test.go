package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shareURL = "https://livetrack.garmin.com/session/3f2a-11/token/AB12CD?locale=fr"

func TestParseLiveTrackURL(t *testing.T) {
	s, err := ParseLiveTrackURL(shareURL)
	require.NoError(t, err)
	assert.Equal(t, Session{ID: "3f2a-11", Token: "AB12CD"}, s)

	s, err = ParseLiveTrackURL("https://livetrack.garmin.com/session/x/token/y/")
	require.NoError(t, err)
	assert.Equal(t, "y", s.Token)

	for _, bad := range []string{"", "https://livetrack.garmin.com/", "https://x/session//token/y", "https://x/session/a/token/"} {
		_, err := ParseLiveTrackURL(bad)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

const garminBody = `{
  "data": {
    "trackPointsBySessionId": {
      "sessionId": "3f2a-11",
      "trackPoints": [
        {"position": {"lat": 50.7664, "lon": 4.4978}, "dateTime": "2025-06-27T17:00:05.000Z", "speed": 2.1,
         "fitnessPointData": {"speedMetersPerSec": 2.2, "totalDistanceMeters": 10, "totalDurationSecs": 5, "elevation": 101.5, "elevationGainMeters": 0, "heartRateBeatsPerMin": 120, "pointStatus": "MOVING"}},
        {"position": {"lat": 50.7801, "lon": 4.5102}, "dateTime": "2025-06-27T17:20:00.000Z", "speed": 2.4,
         "fitnessPointData": {"speedMetersPerSec": 2.5, "totalDistanceMeters": 3100, "totalDurationSecs": 1195, "elevation": 88, "elevationGainMeters": 42, "heartRateBeatsPerMin": 141, "pointStatus": "MOVING"}},
        {"position": {"lat": 50.7712, "lon": 4.5001}, "dateTime": "2025-06-27T17:10:00.000Z", "speed": 2.3},
        {"position": {"lat": 0, "lon": 0}, "dateTime": "2025-06-27T17:30:00.000Z"}
      ]
    }
  }
}`

func garminServer(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req graphQLRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			assert.Contains(t, req.Query, "trackPointsBySessionId")
			got = req.Variables
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestGarmin_Latest(t *testing.T) {
	srv, vars := garminServer(t, http.StatusOK, garminBody)
	g := NewGarmin(StaticURL(shareURL), srv.URL)

	fix, err := g.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, fix)

	assert.Equal(t, "3f2a-11", (*vars)["sessionId"])
	assert.Equal(t, "AB12CD", (*vars)["token"])
	assert.Equal(t, true, (*vars)["disablePolling"])

	// newest by capture time, not by position in the list; 0,0 is dropped
	assert.Equal(t, 50.7801, fix.Position.Lat)
	assert.True(t, fix.CapturedAt.Equal(time.Date(2025, 6, 27, 17, 20, 0, 0, time.UTC)))
	require.NotNil(t, fix.SpeedMps)
	assert.Equal(t, 2.5, *fix.SpeedMps)
	require.NotNil(t, fix.HeartRateBpm)
	assert.Equal(t, 141, *fix.HeartRateBpm)
	assert.Equal(t, 3100.0, *fix.TotalDistanceM)
	assert.Equal(t, 42.0, *fix.ElevationGainM)
	assert.Equal(t, "MOVING", fix.Status)
}

func TestGarmin_Fetch(t *testing.T) {
	srv, _ := garminServer(t, http.StatusOK, garminBody)
	fixes, err := NewGarmin(StaticURL(shareURL), srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, fixes, 3)
	require.NotNil(t, fixes[2].SpeedMps)
	assert.Equal(t, 2.3, *fixes[2].SpeedMps, "falls back to top-level speed")
	assert.Nil(t, fixes[2].HeartRateBpm)
}

func TestGarmin_NoPoints(t *testing.T) {
	srv, _ := garminServer(t, http.StatusOK, `{"data":{"trackPointsBySessionId":{"sessionId":"x","trackPoints":[]}}}`)
	fix, err := NewGarmin(StaticURL(shareURL), srv.URL).Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, fix)
}

func TestGarmin_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http status", http.StatusBadGateway, "upstream down"},
		{"graphql error", http.StatusOK, `{"errors":[{"message":"session expired"}]}`},
		{"missing data", http.StatusOK, `{"data":{}}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := garminServer(t, tt.status, tt.body)
			_, err := NewGarmin(StaticURL(shareURL), srv.URL).Latest(context.Background())
			assert.Error(t, err)
		})
	}
}

type failingSource struct{}

func (failingSource) LiveTrackURL(context.Context) (string, error) {
	return "", errors.New("db down")
}

func TestGarmin_Source(t *testing.T) {
	_, err := NewGarmin(StaticURL(""), "http://unused").Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = NewGarmin(StaticURL("https://example.com/nothing"), "http://unused").Latest(context.Background())
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = NewGarmin(failingSource{}, "http://unused").Latest(context.Background())
	assert.ErrorContains(t, err, "db down")

	g := NewGarmin(StaticURL(shareURL), "")
	assert.Equal(t, DefaultGarminEndpoint, g.endpoint)
}
