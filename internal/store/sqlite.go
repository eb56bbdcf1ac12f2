package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	_ "modernc.org/sqlite"

	"github.com/flockfinder/flockfinder/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS boundaries (
	area_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	geometry     TEXT NOT NULL,
	fetched_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS unit_results (
	id           TEXT PRIMARY KEY,
	bbox_key     TEXT NOT NULL,
	window       TEXT NOT NULL,
	observations TEXT NOT NULL,
	malformed    INTEGER NOT NULL DEFAULT 0,
	fetched_at   DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL,
	UNIQUE (bbox_key, window)
);

CREATE TABLE IF NOT EXISTS search_runs (
	id           TEXT PRIMARY KEY,
	areas        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	result       TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_unit_results_expires_at ON unit_results(expires_at);
CREATE INDEX IF NOT EXISTS idx_search_runs_status ON search_runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetBoundary(ctx context.Context, areaID string) (*BoundaryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT area_id, display_name, geometry, fetched_at FROM boundaries WHERE area_id = ?`,
		areaID,
	)

	var entry BoundaryEntry
	var geomJSON string
	err := row.Scan(&entry.AreaID, &entry.DisplayName, &geomJSON, &entry.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get boundary %s", areaID)
	}
	if err := geojson.Unmarshal([]byte(geomJSON), &entry.Geometry); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode boundary geometry %s", areaID)
	}
	return &entry, nil
}

// PutBoundary upserts a boundary entry. The geometry is encoded before any
// statement runs, and the upsert is a single statement, so a failure at any
// point leaves the previous entry intact.
func (s *SQLiteStore) PutBoundary(ctx context.Context, entry *BoundaryEntry) error {
	geomJSON, err := geojson.Marshal(entry.Geometry)
	if err != nil {
		return eris.Wrapf(err, "sqlite: encode boundary geometry %s", entry.AreaID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO boundaries (area_id, display_name, geometry, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (area_id) DO UPDATE SET
			display_name = excluded.display_name,
			geometry     = excluded.geometry,
			fetched_at   = excluded.fetched_at`,
		entry.AreaID, entry.DisplayName, string(geomJSON), entry.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put boundary %s", entry.AreaID)
}

func (s *SQLiteStore) ClearBoundaries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boundaries`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear boundaries")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) BoundaryCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boundaries`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: boundary count")
}

func (s *SQLiteStore) GetUnitResult(ctx context.Context, bboxKey, window string) (*UnitResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT observations, malformed FROM unit_results
		 WHERE bbox_key = ? AND window = ? AND expires_at > datetime('now')
		 ORDER BY fetched_at DESC LIMIT 1`,
		bboxKey, window,
	)

	var obsJSON string
	var res UnitResult
	err := row.Scan(&obsJSON, &res.Malformed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get unit result")
	}

	if err := json.Unmarshal([]byte(obsJSON), &res.Observations); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached observations")
	}
	return &res, nil
}

func (s *SQLiteStore) PutUnitResult(ctx context.Context, bboxKey, window string, res *UnitResult, ttl time.Duration) error {
	obsJSON, err := json.Marshal(res.Observations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal observations")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO unit_results (id, bbox_key, window, observations, malformed, fetched_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (bbox_key, window) DO UPDATE SET
			observations = excluded.observations,
			malformed    = excluded.malformed,
			fetched_at   = excluded.fetched_at,
			expires_at   = excluded.expires_at`,
		uuid.New().String(), bboxKey, window, string(obsJSON), res.Malformed, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: put unit result")
}

func (s *SQLiteStore) DeleteExpiredResults(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM unit_results WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired results")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, areas []string) (string, error) {
	id := uuid.New().String()
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal areas")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_runs (id, areas, status, created_at) VALUES (?, ?, 'running', ?)`,
		id, string(areasJSON), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.SearchResultSet) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE search_runs SET status = 'complete', result = ?, completed_at = ? WHERE id = ?`,
		string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// LatestResult returns the most recently completed run's result set, or nil
// when no run has completed yet.
func (s *SQLiteStore) LatestResult(ctx context.Context) (*model.SearchResultSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result FROM search_runs
		 WHERE status = 'complete' AND result IS NOT NULL
		 ORDER BY completed_at DESC LIMIT 1`,
	)

	var resultJSON string
	err := row.Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest result")
	}

	var result model.SearchResultSet
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal latest result")
	}
	return &result, nil
}
