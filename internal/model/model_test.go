package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBSSID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"08:3a:88:11:22:33", "08:3A:88:11:22:33"},
		{"08-3A-88-11-22-33", "08:3A:88:11:22:33"},
		{"083a88112233", "08:3A:88:11:22:33"},
		{"08:3A:88:11:22:33", "08:3A:88:11:22:33"},
		// Malformed input is uppercased but otherwise left alone.
		{"not-a-mac", "NOT-A-MAC"},
		{"08:3a:88", "08:3A:88"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBSSID(tt.in), "input %q", tt.in)
	}
}

func TestBBox_Quadrants_Cover(t *testing.T) {
	b := BBox{MinLat: 30, MinLon: -100, MaxLat: 34, MaxLon: -94}
	quads := b.Quadrants()

	// Union of all quadrants equals the original box.
	u := quads[0]
	for _, q := range quads[1:] {
		u = u.Union(q)
	}
	assert.Equal(t, b, u)

	// Every quadrant is a quarter of the original area.
	for _, q := range quads {
		assert.InDelta(t, b.Area()/4, q.Area(), 1e-9)
		require.True(t, q.Valid())
	}

	// Any point inside the box falls inside at least one quadrant.
	for _, pt := range [][2]float64{{30.1, -99.9}, {33.9, -94.1}, {32, -97}} {
		covered := false
		for _, q := range quads {
			if q.Contains(pt[0], pt[1]) {
				covered = true
			}
		}
		assert.True(t, covered, "point %v not covered", pt)
	}
}

func TestBBox_Valid(t *testing.T) {
	assert.True(t, BBox{MinLat: 1, MinLon: 1, MaxLat: 2, MaxLon: 2}.Valid())
	assert.False(t, BBox{MinLat: 2, MinLon: 1, MaxLat: 1, MaxLon: 2}.Valid())
	assert.False(t, BBox{MinLat: -91, MinLon: 0, MaxLat: 1, MaxLon: 1}.Valid())
	assert.False(t, BBox{MinLat: 0, MinLon: 0, MaxLat: 1, MaxLon: 181}.Valid())
}

func TestBBox_Key_Stable(t *testing.T) {
	a := BBox{MinLat: 33.0, MinLon: -96.8, MaxLat: 33.1, MaxLon: -96.7}
	b := BBox{MinLat: 33.0, MinLon: -96.8, MaxLat: 33.1, MaxLon: -96.7}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), BBox{MinLat: 33.0, MinLon: -96.8, MaxLat: 33.1, MaxLon: -96.6}.Key())
}
