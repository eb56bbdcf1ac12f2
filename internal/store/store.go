// Package store persists the boundary cache, the per-unit result-page cache,
// and search-run bookkeeping. Two backends are provided: SQLite (default)
// and Postgres.
package store

import (
	"context"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/flockfinder/flockfinder/internal/model"
)

// BoundaryEntry is one persisted administrative boundary: the geometry for a
// GeoArea plus the time it was fetched. Entries are content-addressed by
// area identifier.
type BoundaryEntry struct {
	AreaID      string
	DisplayName string
	Geometry    geom.T
	FetchedAt   time.Time
}

// UnitResult is one query unit's cached fetch: the observations it produced
// plus the count of records dropped as malformed while decoding them. The
// count rides along so stats stay honest when a rerun is served from cache.
type UnitResult struct {
	Observations []model.Observation
	Malformed    int
}

// Store is the persistence interface for the search engine.
//
// PutBoundary must be atomic: either the full geometry is written or the
// previous entry is left untouched. Readers never observe a partial entry.
type Store interface {
	// Boundary cache
	GetBoundary(ctx context.Context, areaID string) (*BoundaryEntry, error)
	PutBoundary(ctx context.Context, entry *BoundaryEntry) error
	ClearBoundaries(ctx context.Context) (int, error)
	BoundaryCount(ctx context.Context) (int, error)

	// Unit result-page cache, keyed by (bounding box, time window). A pure
	// performance layer: expired entries are never served. A nil UnitResult
	// with nil error is a cache miss.
	GetUnitResult(ctx context.Context, bboxKey, window string) (*UnitResult, error)
	PutUnitResult(ctx context.Context, bboxKey, window string, res *UnitResult, ttl time.Duration) error
	DeleteExpiredResults(ctx context.Context) (int, error)

	// Search runs
	CreateRun(ctx context.Context, areas []string) (string, error)
	CompleteRun(ctx context.Context, runID string, result *model.SearchResultSet) error
	LatestResult(ctx context.Context) (*model.SearchResultSet, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// IsStale reports whether a boundary entry is older than the given TTL.
// Staleness is advisory: a stale entry is still served as a fallback when a
// refresh fetch fails, since boundaries change rarely.
func IsStale(entry *BoundaryEntry, ttl time.Duration) bool {
	if entry == nil {
		return true
	}
	return time.Since(entry.FetchedAt) > ttl
}
