package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockfinder/flockfinder/internal/model"
	"github.com/flockfinder/flockfinder/internal/store"
)

func newMuxTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestServeMux_HealthEndpoint(t *testing.T) {
	mux := newServeMux(context.Background(), &env{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestServeMux_Search_InvalidJSON(t *testing.T) {
	mux := newServeMux(context.Background(), &env{})

	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestServeMux_Search_MissingAreas(t *testing.T) {
	mux := newServeMux(context.Background(), &env{})

	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "areas is required")
}

func TestServeMux_LatestResults_Empty(t *testing.T) {
	st := newMuxTestStore(t)
	mux := newServeMux(context.Background(), &env{Store: st})

	req := httptest.NewRequest(http.MethodGet, "/results/latest", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "no completed search runs")
}

func TestServeMux_LatestResults_GeoJSON(t *testing.T) {
	ctx := context.Background()
	st := newMuxTestStore(t)

	runID, err := st.CreateRun(ctx, []string{"tx-collin"})
	require.NoError(t, err)

	result := &model.SearchResultSet{
		RunID:       runID,
		Areas:       []string{"tx-collin"},
		StartedAt:   time.Now().Add(-time.Minute),
		CompletedAt: time.Now(),
		Devices: []model.CandidateDevice{
			{
				Observation: model.Observation{
					BSSID:     "08:3A:88:11:22:33",
					SSID:      "Flock-ABC123",
					Latitude:  33.02,
					Longitude: -96.7,
					LastSeen:  time.Now(),
				},
				MatchReason:      model.ReasonBSSIDPrefix,
				MatchedSignature: "08:3A:88",
				UnitID:           "tx-collin/75024",
				City:             "Plano",
				MapURL:           "https://wigle.net/search?netid=08%3A3A%3A88%3A11%3A22%3A33",
			},
		},
		Stats: model.SearchStats{Deduplicated: 1, Matched: 1, RawObservations: 2},
	}
	require.NoError(t, st.CompleteRun(ctx, runID, result))

	mux := newServeMux(ctx, &env{Store: st})

	req := httptest.NewRequest(http.MethodGet, "/results/latest", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "geo+json")

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fc))

	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Point", fc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{-96.7, 33.02}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "08:3A:88:11:22:33", fc.Features[0].Properties["bssid"])
	assert.Equal(t, "bssid-prefix", fc.Features[0].Properties["match_reason"])
	assert.Equal(t, runID, fc.Properties["run_id"])
}
