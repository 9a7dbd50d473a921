package scenario

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// TileID returns the slippy-map tile holding p (lon, lat) at zoom
func TileID(p orb.Point, zoom int) string {
	x, y := tileXY(p, zoom)
	return fmt.Sprintf("%d/%d/%d", zoom, x, y)
}

func tileXY(p orb.Point, zoom int) (int, int) {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((p.Lon() + 180.0) / 360.0 * n))
	latRad := p.Lat() * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	return min(max(x, 0), maxTile), min(max(y, 0), maxTile)
}

// TileBound returns the lon/lat extent of a tile
func TileBound(zoom, x, y int) orb.Bound {
	n := math.Pow(2, float64(zoom))
	minLon := float64(x)/n*360.0 - 180.0
	maxLon := float64(x+1)/n*360.0 - 180.0
	minLat := math.Atan(math.Sinh(math.Pi*(1-2*float64(y+1)/n))) * 180.0 / math.Pi
	maxLat := math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180.0 / math.Pi
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

// ParseTileID extracts zoom, x, y from a tile id
func ParseTileID(tileID string) (zoom, x, y int, ok bool) {
	n, err := fmt.Sscanf(tileID, "%d/%d/%d", &zoom, &x, &y)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return zoom, x, y, true
}

// AdjacentTiles returns the tile holding p plus its existing neighbours
func AdjacentTiles(p orb.Point, zoom int) []string {
	x, y := tileXY(p, zoom)
	maxTile := int(math.Pow(2, float64(zoom))) - 1
	tiles := make([]string, 0, 9)

	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || nx > maxTile || ny < 0 || ny > maxTile {
				continue
			}
			tiles = append(tiles, fmt.Sprintf("%d/%d/%d", zoom, nx, ny))
		}
	}
	return tiles
}

// TilesInBound returns every tile intersecting b
func TilesInBound(b orb.Bound, zoom int) []string {
	x1, y1 := tileXY(orb.Point{b.Min.Lon(), b.Max.Lat()}, zoom)
	x2, y2 := tileXY(orb.Point{b.Max.Lon(), b.Min.Lat()}, zoom)

	var tiles []string
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			tiles = append(tiles, fmt.Sprintf("%d/%d/%d", zoom, x, y))
		}
	}
	return tiles
}

// Coverage is the union of the tiles' extents
func Coverage(tileIDs []string) (orb.Bound, bool) {
	var (
		out   orb.Bound
		found bool
	)
	for _, id := range tileIDs {
		z, x, y, ok := ParseTileID(id)
		if !ok {
			continue
		}
		tb := TileBound(z, x, y)
		if !found {
			out, found = tb, true
			continue
		}
		out = out.Union(tb)
	}
	return out, found
}
