// Package scenario imports the city topology the intersection is placed in
// and works out the map tiles covering it.
package scenario

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"trafficsim/internal/domain"
)

var ErrEmptyCity = errors.New("city name is required")

// City is a known import target
type City struct {
	Name   string
	Center orb.Point
	BBox   string
}

var catalog = map[string]City{
	"Bangalore": {Name: "Bangalore", Center: orb.Point{77.5946, 12.9716}, BBox: "77.5930,12.9700,77.5962,12.9732"},
	"New York":  {Name: "New York", Center: orb.Point{-74.0060, 40.7128}, BBox: "-74.0075,40.7115,-74.0045,40.7141"},
	"London":    {Name: "London", Center: orb.Point{-0.1278, 51.5074}, BBox: "-0.1290,51.5060,-0.1260,51.5090"},
}

// fallbackCity is used for names missing from the catalog
var fallbackCity = City{Center: orb.Point{77.59, 12.97}, BBox: "77.59,12.97,77.60,12.98"}

// Cities lists the catalog names in alphabetical order
func Cities() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a city name; unknown names get the fallback location
func Lookup(name string) (City, bool) {
	if c, ok := catalog[name]; ok {
		return c, true
	}
	c := fallbackCity
	c.Name = name
	return c, false
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat"
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: want 4 comma separated values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("bbox %q: min exceeds max", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// Service holds the currently imported scenario
type Service struct {
	mu      sync.RWMutex
	current domain.Scenario
	zoom    int
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(zoom int, logger *slog.Logger) *Service {
	return &Service{
		zoom:   zoom,
		now:    time.Now,
		logger: logger.With("component", "scenario"),
	}
}

// Build generates the scenario for a city. The result is not current
// until it is passed to Commit.
func (s *Service) Build(cityName string) (domain.Scenario, error) {
	cityName = strings.TrimSpace(cityName)
	if cityName == "" {
		return domain.Scenario{}, ErrEmptyCity
	}

	city, known := Lookup(cityName)
	at := s.now()

	sc := domain.Scenario{
		CityName:   cityName,
		Lat:        city.Center.Lat(),
		Lon:        city.Center.Lon(),
		BBox:       city.BBox,
		TileID:     TileID(city.Center, s.zoom),
		Configured: true,
		ImportedAt: at,
		ImportLog: []string{
			"Initializing osmWebWizard process...",
			fmt.Sprintf("Parsing OSM waypoints for %s", cityName),
			"Building directed graph structure...",
			"Validating edge connectivity...",
			fmt.Sprintf("Scenario generated at tools/scenario_%d", at.UnixMilli()),
		},
	}

	if b, err := ParseBBox(city.BBox); err == nil && b.Contains(city.Center) {
		sc.Tiles = TilesInBound(b, s.zoom)
	} else {
		s.logger.Warn("unusable bbox, using tiles around the centre", "city", cityName, "bbox", city.BBox)
		sc.Tiles = AdjacentTiles(city.Center, s.zoom)
	}
	if cov, ok := Coverage(sc.Tiles); ok {
		sc.Coverage = [4]float64{cov.Min.Lon(), cov.Min.Lat(), cov.Max.Lon(), cov.Max.Lat()}
	}

	s.logger.Debug("scenario built", "city", cityName, "known", known, "tile", sc.TileID, "tiles", len(sc.Tiles))
	return sc, nil
}

// Current returns the imported scenario; ok is false before the first import
func (s *Service) Current() (domain.Scenario, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current.Configured
}

// Commit makes a built or mirrored scenario current. It returns false for
// scenarios that were never configured.
func (s *Service) Commit(sc domain.Scenario) bool {
	if !sc.Configured || sc.CityName == "" {
		return false
	}
	s.mu.Lock()
	s.current = sc
	s.mu.Unlock()
	s.logger.Info("scenario committed", "city", sc.CityName, "tile", sc.TileID, "imported_at", sc.ImportedAt)
	return true
}
