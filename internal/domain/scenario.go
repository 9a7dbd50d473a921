package domain

import "time"

// Scenario is the imported city topology the intersection is drawn over
type Scenario struct {
	CityName   string     `json:"cityName"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	BBox       string     `json:"bbox"`
	TileID     string     `json:"tileId"`
	Tiles      []string   `json:"tiles,omitempty"`
	Coverage   [4]float64 `json:"coverage"` // minLon, minLat, maxLon, maxLat of Tiles
	Configured bool       `json:"configured"`
	ImportLog  []string   `json:"importLog,omitempty"`
	ImportedAt time.Time  `json:"importedAt,omitempty"`
}
