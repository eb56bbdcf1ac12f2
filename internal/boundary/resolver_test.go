package boundary

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/flockfinder/flockfinder/internal/model"
	"github.com/flockfinder/flockfinder/internal/registry"
	"github.com/flockfinder/flockfinder/internal/store"
)

const resolverRegistryJSON = `{
  "available_regions": {
    "texas": {
      "state_code": "TX",
      "counties": {
        "collin": {"file": "collin.json", "major_cities": ["Plano"]}
      }
    }
  }
}`

const resolverCollinJSON = `{
  "county": "collin",
  "state_code": "TX",
  "zip_codes": {
    "75024": {"city": "Plano", "latitude": 33.02, "longitude": -96.70},
    "75070": {"city": "McKinney", "latitude": 33.19, "longitude": -96.68}
  }
}`

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry.json"), []byte(resolverRegistryJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collin.json"), []byte(resolverCollinJSON), 0o644))
	reg, err := registry.Load(dir)
	require.NoError(t, err)
	return reg
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "resolver.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeSource serves canned divisions and counts fetches.
type fakeSource struct {
	divisions map[string]*Division
	err       error
	calls     int
}

func (f *fakeSource) Division(_ context.Context, countryCode, code string, adminLevel int) (*Division, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if div, ok := f.divisions[countryCode+"-"+code]; ok {
		return div, nil
	}
	return nil, eris.Wrapf(ErrDivisionNotFound, "division %s-%s", countryCode, code)
}

func texasDivision(t *testing.T) *Division {
	t.Helper()
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{{
		{-97.0, 32.0}, {-96.0, 32.0}, {-96.0, 33.0}, {-97.0, 33.0}, {-97.0, 32.0},
	}})
	require.NoError(t, err)
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(poly))
	return &Division{Code: "TX", Name: "Texas", OSMID: 114690, Geometry: mp}
}

func TestResolver_StaticAreaPerZIPUnits(t *testing.T) {
	r := NewResolver(testRegistry(t), &fakeSource{}, testStore(t), ResolverConfig{ZIPRadius: 0.05})

	units, failures, err := r.Resolve(context.Background(), "tx-collin")
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, units, 2)

	assert.Equal(t, "tx-collin/75024", units[0].ID)
	assert.True(t, units[0].BBox.Contains(33.02, -96.70))
	assert.Nil(t, units[0].Polygon)
	assert.Equal(t, model.KindStaticZIPSet, units[0].Area.Kind)
	assert.Equal(t, "tx-collin/75070", units[1].ID)
}

func TestResolver_UnknownAreaAborts(t *testing.T) {
	r := NewResolver(testRegistry(t), &fakeSource{}, testStore(t), ResolverConfig{})

	_, _, err := r.Resolve(context.Background(), "tx-collin", "atlantis")
	require.Error(t, err)

	var notFound *AreaNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "atlantis", notFound.ID)
}

func TestResolver_UnknownDivisionAborts(t *testing.T) {
	// A well-formed dynamic id the boundary source does not list is an
	// unknown area, not a fetch failure: the whole resolution aborts.
	src := &fakeSource{divisions: map[string]*Division{"US-TX": texasDivision(t)}}
	r := NewResolver(testRegistry(t), src, testStore(t), ResolverConfig{})

	_, failures, err := r.Resolve(context.Background(), "us-zz", "tx-collin")
	require.Error(t, err)
	assert.Empty(t, failures)

	var notFound *AreaNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "us-zz", notFound.ID)
}

func TestResolver_DuplicateIDsCollapse(t *testing.T) {
	r := NewResolver(testRegistry(t), &fakeSource{}, testStore(t), ResolverConfig{})

	units, _, err := r.Resolve(context.Background(), "tx-collin", "TX-Collin", "tx-collin")
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestResolver_DynamicAreaSplitsAndCaches(t *testing.T) {
	src := &fakeSource{divisions: map[string]*Division{"US-TX": texasDivision(t)}}
	st := testStore(t)
	r := NewResolver(testRegistry(t), src, st, ResolverConfig{MaxBoxArea: 0.25})

	units, failures, err := r.Resolve(context.Background(), "us-tx")
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.NotEmpty(t, units)

	for _, u := range units {
		assert.LessOrEqual(t, u.BBox.Area(), 0.25)
		assert.NotNil(t, u.Polygon, "dynamic units carry the boundary polygon")
		assert.Equal(t, model.SourceDynamicOSM, u.Area.Source)
	}
	assert.Equal(t, 1, src.calls)

	entry, err := st.GetBoundary(context.Background(), "us-tx")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Texas", entry.DisplayName)

	// Second resolve is served from cache.
	_, _, err = r.Resolve(context.Background(), "us-tx")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestResolver_FetchFailureIsolatedPerArea(t *testing.T) {
	src := &fakeSource{err: eris.New("overpass down")}
	r := NewResolver(testRegistry(t), src, testStore(t), ResolverConfig{})

	units, failures, err := r.Resolve(context.Background(), "tx-collin", "us-tx")
	require.NoError(t, err, "static area must survive the dynamic area's failure")
	assert.Len(t, units, 2)
	require.Len(t, failures, 1)
	assert.Equal(t, "us-tx", failures[0].AreaID)
}

func TestResolver_AllAreasFailedReturnsError(t *testing.T) {
	src := &fakeSource{err: eris.New("overpass down")}
	r := NewResolver(testRegistry(t), src, testStore(t), ResolverConfig{})

	_, failures, err := r.Resolve(context.Background(), "us-tx")
	require.Error(t, err)
	assert.Len(t, failures, 1)

	var fetchErr *BoundaryFetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestResolver_StaleCacheFallback(t *testing.T) {
	st := testStore(t)
	div := texasDivision(t)
	require.NoError(t, st.PutBoundary(context.Background(), &store.BoundaryEntry{
		AreaID:      "us-tx",
		DisplayName: "Texas",
		Geometry:    div.Geometry,
		FetchedAt:   time.Now().Add(-72 * time.Hour),
	}))

	src := &fakeSource{err: eris.New("overpass down")}
	r := NewResolver(testRegistry(t), src, st, ResolverConfig{BoundaryTTL: 24 * time.Hour})

	units, failures, err := r.Resolve(context.Background(), "us-tx")
	require.NoError(t, err, "stale cache serves as fallback when refresh fails")
	assert.Empty(t, failures)
	assert.NotEmpty(t, units)
	assert.Equal(t, 1, src.calls, "a refresh was attempted")
}

func TestParseDynamicID(t *testing.T) {
	tests := []struct {
		id      string
		country string
		code    string
		level   int
		wantErr bool
	}{
		{id: "us-tx", country: "US", code: "TX", level: 4},
		{id: "us-tx/collin", country: "US", code: "COLLIN", level: 6},
		{id: "tx", wantErr: true},
		{id: "texas", wantErr: true},
		{id: "us-", wantErr: true},
	}
	for _, tt := range tests {
		country, code, level, err := parseDynamicID(tt.id)
		if tt.wantErr {
			assert.Error(t, err, tt.id)
			continue
		}
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.country, country)
		assert.Equal(t, tt.code, code)
		assert.Equal(t, tt.level, level)
	}
}
