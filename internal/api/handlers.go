package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-kml"

	"ultra-tracker/internal/db"
	"ultra-tracker/internal/eta"
	"ultra-tracker/internal/geo"
	"ultra-tracker/internal/livefeed"
	"ultra-tracker/internal/race"
)

func orbPoint(p geo.Point) orb.Point { return orb.Point{p.Lon, p.Lat} }

// routeGeoJSON serves the route line and the waypoints as one collection.
func (s *Server) routeGeoJSON(c *fiber.Ctx) error {
	fc := geojson.NewFeatureCollection()

	pts := s.Race.Route.Points()
	line := make(orb.LineString, len(pts))
	for i, p := range pts {
		line[i] = orbPoint(p.Position)
	}
	f := geojson.NewFeature(line)
	f.Properties["kind"] = "route"
	f.Properties["distanceKm"] = s.Race.Route.TotalKm()
	fc.Append(f)

	for _, w := range s.Race.Waypoints {
		f := geojson.NewFeature(orbPoint(w.Position))
		f.Properties["kind"] = "waypoint"
		f.Properties["id"] = w.ID
		f.Properties["name"] = w.Name
		f.Properties["km"] = w.KmMark
		f.Properties["isRavito"] = w.IsCheckpoint
		fc.Append(f)
	}

	b, err := json.Marshal(fc)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	c.Set(fiber.HeaderContentType, "application/geo+json")
	return c.Send(b)
}

func (s *Server) routePolyline(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"polyline": geo.EncodePolyline(s.Race.Route.Positions()),
		"points":   s.Race.Route.Len(),
		"totalKm":  s.Race.Route.TotalKm(),
	})
}

func (s *Server) routeKML(c *fiber.Ctx) error {
	pts := s.Race.Route.Points()
	coords := make([]kml.Coordinate, len(pts))
	for i, p := range pts {
		coords[i] = kml.Coordinate{Lon: p.Position.Lon, Lat: p.Position.Lat}
		if p.ElevationM != nil {
			coords[i].Alt = *p.ElevationM
		}
	}
	doc := []kml.Element{
		kml.Name("Race route"),
		kml.Placemark(
			kml.Name("Route"),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coords...),
			),
		),
	}
	for _, w := range s.Race.Waypoints {
		doc = append(doc, kml.Placemark(
			kml.Name(w.Name),
			kml.Description(strconv.FormatFloat(w.KmMark, 'f', 1, 64)+" km"),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: w.Position.Lon, Lat: w.Position.Lat})),
		))
	}

	var buf bytes.Buffer
	if err := kml.KML(kml.Document(doc...)).WriteIndent(&buf, "", "  "); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	c.Set(fiber.HeaderContentType, "application/vnd.google-earth.kml+xml")
	return c.Send(buf.Bytes())
}

func (s *Server) waypoints(c *fiber.Ctx) error {
	wps := s.Race.Waypoints
	if wps == nil {
		wps = []race.Waypoint{}
	}
	return c.JSON(wps)
}

func (s *Server) stages(c *fiber.Ctx) error {
	st := s.Race.Stages
	if st == nil {
		st = []race.Stage{}
	}
	return c.JSON(st)
}

// method reads the "method" query parameter, falling back to the server
// default.
func (s *Server) method(c *fiber.Ctx) (eta.Method, error) {
	v := c.Query("method")
	if v == "" {
		return s.Method, nil
	}
	m, err := eta.ParseMethod(v)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return m, nil
}

func (s *Server) status(c *fiber.Ctx) error {
	m, err := s.method(c)
	if err != nil {
		return err
	}
	st, err := s.Status.Current(c.Context(), m)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(st)
}

func (s *Server) waypointETA(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("waypointID"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid waypoint id")
	}
	wp, ok := s.Race.Waypoint(id)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "waypoint not found")
	}
	m, err := s.method(c)
	if err != nil {
		return err
	}
	st, err := s.Status.Current(c.Context(), m)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	est, ok := s.Race.Estimator.Estimate(m, wp, st.Fix)
	if !ok {
		return c.JSON(fiber.Map{"available": false, "waypoint": wp, "method": m})
	}
	return c.JSON(fiber.Map{
		"available": true,
		"waypoint":  wp,
		"method":    m,
		"eta":       est,
		"clock":     est.Clock(),
	})
}

func (s *Server) getLiveTrack(c *fiber.Ctx) error {
	cfg, err := s.LiveTrack.GetLiveTrackConfig(c.Context())
	if errors.Is(err, db.ErrNoLiveTrackConfig) {
		return fiber.NewError(fiber.StatusNotFound, "live track not configured")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(cfg)
}

func (s *Server) putLiveTrack(c *fiber.Ctx) error {
	var body struct {
		URL    string `json:"liveTrackUrl"`
		Active bool   `json:"isActive"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	body.URL = strings.TrimSpace(body.URL)
	if body.URL != "" {
		if _, err := livefeed.ParseLiveTrackURL(body.URL); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "liveTrackUrl must look like https://livetrack.garmin.com/session/<id>/token/<token>")
		}
	}
	if body.Active && body.URL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "liveTrackUrl required when active")
	}
	cfg, err := s.LiveTrack.UpdateLiveTrackConfig(c.Context(), body.URL, body.Active)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(cfg)
}
