package boundary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/flockfinder/flockfinder/internal/model"
	"github.com/flockfinder/flockfinder/internal/registry"
	"github.com/flockfinder/flockfinder/internal/store"
)

// AreaNotFoundError means a requested area identifier resolves to nothing:
// not in the static registry and not a known dynamic area. The search is
// aborted before any API query is spent.
type AreaNotFoundError struct {
	ID string
}

func (e *AreaNotFoundError) Error() string {
	return fmt.Sprintf("area not found: %s", e.ID)
}

// BoundaryFetchError means a dynamic area's boundary could not be obtained:
// the boundary source failed and no cached geometry exists. Only the
// affected area is abandoned; other requested areas proceed.
type BoundaryFetchError struct {
	AreaID string
	Err    error
}

func (e *BoundaryFetchError) Error() string {
	return fmt.Sprintf("boundary fetch failed for %s: %v", e.AreaID, e.Err)
}

func (e *BoundaryFetchError) Unwrap() error { return e.Err }

// AreaFailure records an area that could not be resolved while the rest of
// the request proceeded.
type AreaFailure struct {
	AreaID string `json:"area_id"`
	Error  string `json:"error"`
}

// BoundarySource fetches a named administrative division's geometry.
// *OverpassClient is the production implementation.
type BoundarySource interface {
	Division(ctx context.Context, countryCode, code string, adminLevel int) (*Division, error)
}

// Resolver turns area identifiers into an ordered list of query units.
// Static ZIP-set areas produce one unit per ZIP centroid; dynamic areas are
// fetched from the boundary source (through the cache) and their bounding
// box is split until every unit is under the configured maximum area.
type Resolver struct {
	registry    *registry.Registry
	source      BoundarySource
	store       store.Store
	boundaryTTL time.Duration
	maxBoxArea  float64
	zipRadius   float64
	logger      *zap.Logger
}

// ResolverConfig carries the tuning knobs for a Resolver.
type ResolverConfig struct {
	// BoundaryTTL is the advisory staleness window for cached boundaries.
	BoundaryTTL time.Duration
	// MaxBoxArea is the largest allowed query-unit area in square degrees.
	MaxBoxArea float64
	// ZIPRadius is the half-width in degrees of the box drawn around each
	// ZIP centroid for static areas.
	ZIPRadius float64
}

// NewResolver wires a resolver from its collaborators.
func NewResolver(reg *registry.Registry, source BoundarySource, st store.Store, cfg ResolverConfig) *Resolver {
	if cfg.BoundaryTTL <= 0 {
		cfg.BoundaryTTL = 24 * time.Hour
	}
	if cfg.MaxBoxArea <= 0 {
		cfg.MaxBoxArea = 0.25
	}
	if cfg.ZIPRadius <= 0 {
		cfg.ZIPRadius = 0.05
	}
	return &Resolver{
		registry:    reg,
		source:      source,
		store:       st,
		boundaryTTL: cfg.BoundaryTTL,
		maxBoxArea:  cfg.MaxBoxArea,
		zipRadius:   cfg.ZIPRadius,
		logger:      zap.L().With(zap.String("component", "resolver")),
	}
}

// Resolve maps area identifiers to query units covering all of them, in
// request order with duplicates removed. An unknown identifier returns
// *AreaNotFoundError and aborts the whole resolution; a boundary fetch
// failure abandons only that area and is reported in the failures slice.
// If every area fails, the last failure's error is returned.
func (r *Resolver) Resolve(ctx context.Context, ids ...string) ([]model.QueryUnit, []AreaFailure, error) {
	if len(ids) == 0 {
		return nil, nil, eris.New("resolver: no areas requested")
	}

	// Unknown identifiers abort before any network or quota is spent.
	seen := make(map[string]bool, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := r.registry.Area(key); !ok && !isDynamicID(key) {
			return nil, nil, &AreaNotFoundError{ID: id}
		}
		ordered = append(ordered, key)
	}

	var (
		units    []model.QueryUnit
		failures []AreaFailure
		lastErr  error
	)
	for _, id := range ordered {
		if area, ok := r.registry.Area(id); ok {
			units = append(units, r.staticUnits(area)...)
			continue
		}

		dynUnits, err := r.dynamicUnits(ctx, id)
		if err != nil {
			// A well-formed id the boundary source does not know is the
			// same class of error as an unparseable one: abort the search.
			var notFound *AreaNotFoundError
			if errors.As(err, &notFound) {
				return nil, nil, notFound
			}
			r.logger.Warn("area abandoned",
				zap.String("area", id),
				zap.Error(err))
			failures = append(failures, AreaFailure{AreaID: id, Error: err.Error()})
			lastErr = err
			continue
		}
		units = append(units, dynUnits...)
	}

	if len(units) == 0 && lastErr != nil {
		return nil, failures, lastErr
	}
	return units, failures, nil
}

// staticUnits produces one bounding box per ZIP centroid so every listed
// ZIP is covered without drawing a giant box across the whole county.
func (r *Resolver) staticUnits(area *model.GeoArea) []model.QueryUnit {
	units := make([]model.QueryUnit, 0, len(area.ZIPCodes))
	for _, zip := range area.ZIPCodes {
		info, ok := r.registry.ZIP(zip)
		if !ok {
			continue
		}
		units = append(units, model.QueryUnit{
			ID: fmt.Sprintf("%s/%s", area.ID, zip),
			BBox: model.BBox{
				MinLat: info.Latitude - r.zipRadius,
				MaxLat: info.Latitude + r.zipRadius,
				MinLon: info.Longitude - r.zipRadius,
				MaxLon: info.Longitude + r.zipRadius,
			},
			Area: area,
		})
	}
	return units
}

func (r *Resolver) dynamicUnits(ctx context.Context, id string) ([]model.QueryUnit, error) {
	entry, err := r.boundary(ctx, id)
	if err != nil {
		return nil, err
	}

	area := &model.GeoArea{
		ID:          id,
		DisplayName: entry.DisplayName,
		Kind:        dynamicKind(id),
		Source:      model.SourceDynamicOSM,
		Geometry:    entry.Geometry,
	}

	box := BBoxOf(entry.Geometry)
	if !box.Valid() {
		return nil, &BoundaryFetchError{AreaID: id, Err: eris.New("boundary has no valid bounding box")}
	}

	tiles := SplitBBox(box, r.maxBoxArea)
	units := make([]model.QueryUnit, 0, len(tiles))
	for i, tile := range tiles {
		units = append(units, model.QueryUnit{
			ID:      fmt.Sprintf("%s/%d", id, i),
			BBox:    tile,
			Area:    area,
			Polygon: entry.Geometry,
		})
	}
	return units, nil
}

// boundary returns the cached geometry for a dynamic area, refreshing it
// from the source when stale. A failed refresh falls back to the stale
// entry with a warning; with no cache at all the area fails.
func (r *Resolver) boundary(ctx context.Context, id string) (*store.BoundaryEntry, error) {
	cached, err := r.store.GetBoundary(ctx, id)
	if err != nil {
		r.logger.Warn("boundary cache read failed", zap.String("area", id), zap.Error(err))
	}
	if cached != nil && !store.IsStale(cached, r.boundaryTTL) {
		return cached, nil
	}

	fresh, fetchErr := r.fetchBoundary(ctx, id)
	if fetchErr != nil {
		// The source answering "no such division" is authoritative: the
		// identifier itself is bad, so no stale fallback applies.
		if errors.Is(fetchErr, ErrDivisionNotFound) {
			return nil, &AreaNotFoundError{ID: id}
		}
		if cached != nil {
			r.logger.Warn("boundary refresh failed, serving stale cache",
				zap.String("area", id),
				zap.Time("fetched_at", cached.FetchedAt),
				zap.Error(fetchErr))
			return cached, nil
		}
		return nil, &BoundaryFetchError{AreaID: id, Err: fetchErr}
	}

	if err := r.store.PutBoundary(ctx, fresh); err != nil {
		// Cache write failure is not fatal; the geometry is in hand.
		r.logger.Warn("boundary cache write failed", zap.String("area", id), zap.Error(err))
	}
	return fresh, nil
}

func (r *Resolver) fetchBoundary(ctx context.Context, id string) (*store.BoundaryEntry, error) {
	country, code, level, err := parseDynamicID(id)
	if err != nil {
		return nil, err
	}

	div, err := r.source.Division(ctx, country, code, level)
	if err != nil {
		return nil, err
	}
	return &store.BoundaryEntry{
		AreaID:      id,
		DisplayName: div.Name,
		Geometry:    div.Geometry,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// Dynamic identifiers name an OSM administrative division:
//
//	us-tx        state/province (admin level 4)
//	us-tx/county admin level 6 division inside it
func isDynamicID(id string) bool {
	_, _, _, err := parseDynamicID(id)
	return err == nil
}

func parseDynamicID(id string) (country, code string, adminLevel int, err error) {
	base, _, hasCounty := strings.Cut(id, "/")
	parts := strings.SplitN(base, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || parts[1] == "" {
		return "", "", 0, eris.Errorf("resolver: not a dynamic area id: %s", id)
	}
	level := 4
	code = parts[1]
	if hasCounty {
		level = 6
		_, code, _ = strings.Cut(id, "/")
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(code), level, nil
}

func dynamicKind(id string) model.AreaKind {
	if strings.Contains(id, "/") {
		return model.KindCounty
	}
	return model.KindState
}
