package boundary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/flockfinder/flockfinder/internal/resilience"
)

func fastOverpassClient(url string) *OverpassClient {
	c := NewOverpassClient(url)
	c.limiter.SetLimit(1000)
	return c
}

func TestOverpassClient_Countries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"elements":[
			{"type":"relation","id":1,"tags":{"ISO3166-1:alpha2":"US","name:en":"United States"}},
			{"type":"relation","id":2,"tags":{"ISO3166-1:alpha2":"CA","name":"Canada"}},
			{"type":"relation","id":3,"tags":{"name":"No Code Land"}}
		]}`))
	}))
	defer srv.Close()

	countries, err := fastOverpassClient(srv.URL).Countries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"US": "United States", "CA": "Canada"}, countries)
}

func TestOverpassClient_AdminDivisions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements":[{
			"type":"relation","id":114690,
			"tags":{"ISO3166-2":"US-TX","name":"Texas"},
			"members":[
				{"type":"way","role":"outer","geometry":[
					{"lat":32.0,"lon":-97.0},{"lat":32.0,"lon":-96.0}
				]},
				{"type":"way","role":"outer","geometry":[
					{"lat":32.0,"lon":-96.0},{"lat":33.0,"lon":-96.0},{"lat":33.0,"lon":-97.0},{"lat":32.0,"lon":-97.0}
				]}
			]
		}]}`))
	}))
	defer srv.Close()

	divisions, err := fastOverpassClient(srv.URL).AdminDivisions(context.Background(), "us", 4)
	require.NoError(t, err)
	require.Len(t, divisions, 1)

	div := divisions[0]
	assert.Equal(t, "TX", div.Code)
	assert.Equal(t, "Texas", div.Name)
	require.NotNil(t, div.Geometry)
	assert.Equal(t, 1, div.Geometry.NumPolygons())

	box := BBoxOf(div.Geometry)
	assert.Equal(t, 32.0, box.MinLat)
	assert.Equal(t, 33.0, box.MaxLat)
	assert.Equal(t, -97.0, box.MinLon)
	assert.Equal(t, -96.0, box.MaxLon)
}

func TestOverpassClient_DivisionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements":[]}`))
	}))
	defer srv.Close()

	_, err := fastOverpassClient(srv.URL).Division(context.Background(), "US", "ZZ", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivisionNotFound)
}

func TestOverpassClient_UnsupportedCountry(t *testing.T) {
	_, err := fastOverpassClient("http://unused.invalid").AdminDivisions(context.Background(), "FR", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestOverpassClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := fastOverpassClient(srv.URL).Countries(context.Background())
	require.Error(t, err)

	hint, ok := resilience.IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, hint)
	assert.True(t, resilience.IsTransient(err))
}

func TestOverpassClient_ServerErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fastOverpassClient(srv.URL).Countries(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestAssembleRings_StitchesReversedSegments(t *testing.T) {
	// Three ways in arbitrary order and direction forming one square ring.
	members := []overpassMember{
		{Type: "way", Geometry: []overpassNode{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}},
		{Type: "way", Geometry: []overpassNode{{Lat: 1, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 1}}},
		{Type: "way", Geometry: []overpassNode{{Lat: 1, Lon: 0}, {Lat: 0, Lon: 0}}},
		{Type: "node"},
	}

	mp := assembleRings(members)
	require.NotNil(t, mp)
	require.Equal(t, 1, mp.NumPolygons())

	ring := mp.Polygon(0).LinearRing(0)
	coords := ring.Coords()
	require.GreaterOrEqual(t, len(coords), 4)
	assert.Equal(t, coords[0], coords[len(coords)-1], "ring must be closed")
}

func TestAssembleRings_DropsOpenChains(t *testing.T) {
	members := []overpassMember{
		{Type: "way", Geometry: []overpassNode{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}}},
	}
	assert.Nil(t, assembleRings(members))
}

func TestBBoxOf_Polygon(t *testing.T) {
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{{
		{-96.9, 33.0}, {-96.5, 33.0}, {-96.5, 33.3}, {-96.9, 33.3}, {-96.9, 33.0},
	}})
	require.NoError(t, err)

	box := BBoxOf(poly)
	assert.Equal(t, 33.0, box.MinLat)
	assert.Equal(t, 33.3, box.MaxLat)
	assert.Equal(t, -96.9, box.MinLon)
	assert.Equal(t, -96.5, box.MaxLon)
}
