package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/flockfinder/flockfinder/internal/model"
)

// Pool is the subset of pgxpool.Pool the Postgres store uses. pgxmock
// satisfies it for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS boundaries (
	area_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	geometry     JSONB NOT NULL,
	fetched_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS unit_results (
	id           TEXT PRIMARY KEY,
	bbox_key     TEXT NOT NULL,
	window       TEXT NOT NULL,
	observations JSONB NOT NULL,
	malformed    INTEGER NOT NULL DEFAULT 0,
	fetched_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (bbox_key, window)
);

CREATE TABLE IF NOT EXISTS search_runs (
	id           TEXT PRIMARY KEY,
	areas        JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	result       JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_unit_results_expires_at ON unit_results(expires_at);
CREATE INDEX IF NOT EXISTS idx_search_runs_status ON search_runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetBoundary(ctx context.Context, areaID string) (*BoundaryEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT area_id, display_name, geometry, fetched_at FROM boundaries WHERE area_id = $1`,
		areaID,
	)

	var entry BoundaryEntry
	var geomJSON []byte
	err := row.Scan(&entry.AreaID, &entry.DisplayName, &geomJSON, &entry.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get boundary %s", areaID)
	}
	if err := geojson.Unmarshal(geomJSON, &entry.Geometry); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode boundary geometry %s", areaID)
	}
	return &entry, nil
}

func (s *PostgresStore) PutBoundary(ctx context.Context, entry *BoundaryEntry) error {
	geomJSON, err := geojson.Marshal(entry.Geometry)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode boundary geometry %s", entry.AreaID)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO boundaries (area_id, display_name, geometry, fetched_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (area_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			geometry     = EXCLUDED.geometry,
			fetched_at   = EXCLUDED.fetched_at`,
		entry.AreaID, entry.DisplayName, geomJSON, entry.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put boundary %s", entry.AreaID)
}

func (s *PostgresStore) ClearBoundaries(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM boundaries`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear boundaries")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) BoundaryCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM boundaries`).Scan(&n)
	return n, eris.Wrap(err, "postgres: boundary count")
}

func (s *PostgresStore) GetUnitResult(ctx context.Context, bboxKey, window string) (*UnitResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT observations, malformed FROM unit_results
		 WHERE bbox_key = $1 AND window = $2 AND expires_at > now()
		 ORDER BY fetched_at DESC LIMIT 1`,
		bboxKey, window,
	)

	var obsJSON []byte
	var res UnitResult
	err := row.Scan(&obsJSON, &res.Malformed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get unit result")
	}

	if err := json.Unmarshal(obsJSON, &res.Observations); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached observations")
	}
	return &res, nil
}

func (s *PostgresStore) PutUnitResult(ctx context.Context, bboxKey, window string, res *UnitResult, ttl time.Duration) error {
	obsJSON, err := json.Marshal(res.Observations)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal observations")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO unit_results (id, bbox_key, window, observations, malformed, fetched_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (bbox_key, window) DO UPDATE SET
			observations = EXCLUDED.observations,
			malformed    = EXCLUDED.malformed,
			fetched_at   = EXCLUDED.fetched_at,
			expires_at   = EXCLUDED.expires_at`,
		uuid.New().String(), bboxKey, window, obsJSON, res.Malformed, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: put unit result")
}

func (s *PostgresStore) DeleteExpiredResults(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM unit_results WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired results")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, areas []string) (string, error) {
	id := uuid.New().String()
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal areas")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_runs (id, areas, status, created_at) VALUES ($1, $2, 'running', $3)`,
		id, areasJSON, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.SearchResultSet) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE search_runs SET status = 'complete', result = $1, completed_at = $2 WHERE id = $3`,
		resultJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// LatestResult returns the most recently completed run's result set, or nil
// when no run has completed yet.
func (s *PostgresStore) LatestResult(ctx context.Context) (*model.SearchResultSet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT result FROM search_runs
		 WHERE status = 'complete' AND result IS NOT NULL
		 ORDER BY completed_at DESC LIMIT 1`,
	)

	var resultJSON []byte
	err := row.Scan(&resultJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest result")
	}

	var result model.SearchResultSet
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal latest result")
	}
	return &result, nil
}
