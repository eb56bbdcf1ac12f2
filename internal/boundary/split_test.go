package boundary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockfinder/flockfinder/internal/model"
)

func TestSplitBBox_SmallBoxUntouched(t *testing.T) {
	box := model.BBox{MinLat: 33.0, MinLon: -96.9, MaxLat: 33.1, MaxLon: -96.8}

	tiles := SplitBBox(box, 1.0)
	require.Len(t, tiles, 1)
	assert.Equal(t, box, tiles[0])
}

func TestSplitBBox_CoveringDecomposition(t *testing.T) {
	box := model.BBox{MinLat: 25.8, MinLon: -106.6, MaxLat: 36.5, MaxLon: -93.5}
	const maxArea = 4.0

	tiles := SplitBBox(box, maxArea)
	require.NotEmpty(t, tiles)

	union := tiles[0]
	for _, tile := range tiles {
		assert.LessOrEqual(t, tile.Area(), maxArea)
		assert.True(t, tile.Valid())
		union = union.Union(tile)
	}
	assert.Equal(t, box, union, "tile union must equal the input box")

	// Every point inside the box lands in at least one tile.
	probes := []struct{ lat, lon float64 }{
		{25.8, -106.6}, {36.5, -93.5}, {30.0, -100.0}, {33.02, -96.70},
	}
	for _, p := range probes {
		covered := false
		for _, tile := range tiles {
			if tile.Contains(p.lat, p.lon) {
				covered = true
				break
			}
		}
		assert.True(t, covered, "point %v,%v not covered", p.lat, p.lon)
	}
}

func TestSplitBBox_ZeroMaxArea(t *testing.T) {
	box := model.BBox{MinLat: 0, MinLon: 0, MaxLat: 10, MaxLon: 10}

	tiles := SplitBBox(box, 0)
	require.Len(t, tiles, 1)
	assert.Equal(t, box, tiles[0])
}
