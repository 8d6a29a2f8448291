package livefeed

import (
	"context"
	"errors"
	"regexp"

	"ultra-tracker/internal/race"
)

var (
	// ErrNoSession means no live-track session is configured or active.
	ErrNoSession  = errors.New("no live track session")
	ErrInvalidURL = errors.New("invalid live track url")
)

// Feed yields the runner's most recent position. Only the latest fix matters:
// a nil fix with a nil error means the provider has no points yet.
type Feed interface {
	Latest(ctx context.Context) (*race.LiveFix, error)
}

// URLSource resolves the share URL to poll. An empty URL disables polling.
type URLSource interface {
	LiveTrackURL(ctx context.Context) (string, error)
}

// StaticURL is a fixed share URL.
type StaticURL string

func (s StaticURL) LiveTrackURL(context.Context) (string, error) { return string(s), nil }

// Session identifies a Garmin LiveTrack share.
type Session struct {
	ID    string
	Token string
}

var sessionRe = regexp.MustCompile(`/session/([^/]+)/token/([^/?#]+)`)

// ParseLiveTrackURL extracts the session and token from a share URL such as
// https://livetrack.garmin.com/session/<id>/token/<token>.
func ParseLiveTrackURL(url string) (Session, error) {
	m := sessionRe.FindStringSubmatch(url)
	if m == nil {
		return Session{}, ErrInvalidURL
	}
	return Session{ID: m[1], Token: m[2]}, nil
}
