package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flockfinder/flockfinder/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for search requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		mux := newServeMux(ctx, e)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// methodOnly replicates Go 1.22+ "METHOD /path" ServeMux patterns on older
// toolchains: wrong methods get 405 with an Allow header, as the newer mux does.
func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func newServeMux(ctx context.Context, e *env) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", methodOnly(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))

	mux.HandleFunc("/search", methodOnly(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Areas []string `json:"areas"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		if len(req.Areas) == 0 {
			http.Error(w, `{"error":"areas is required"}`, http.StatusBadRequest)
			return
		}

		units, failures, err := e.Resolver.Resolve(ctx, req.Areas...)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusNotFound)
			return
		}

		// Run the search asynchronously; the result lands in the store.
		go func() {
			result, err := e.Orchestrator.Run(ctx, units, req.Areas)
			if err != nil {
				zap.L().Error("search failed",
					zap.Strings("areas", req.Areas),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("search complete",
				zap.Strings("areas", req.Areas),
				zap.Int("devices", result.Stats.Deduplicated),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "accepted",
			"areas":         req.Areas,
			"units":         len(units),
			"area_failures": failures,
		})
	}))

	mux.HandleFunc("/results/latest", methodOnly(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		result, err := e.Store.LatestResult(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to load results"}`, http.StatusInternalServerError)
			return
		}
		if result == nil {
			http.Error(w, `{"error":"no completed search runs"}`, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(featureCollection(result))
	}))

	return mux
}

// featureCollection renders a result set as GeoJSON for mapping tools.
func featureCollection(result *model.SearchResultSet) map[string]any {
	features := make([]map[string]any, 0, len(result.Devices))
	for _, d := range result.Devices {
		features = append(features, map[string]any{
			"type": "Feature",
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []float64{d.Longitude, d.Latitude},
			},
			"properties": map[string]any{
				"bssid":             d.BSSID,
				"ssid":              d.SSID,
				"match_reason":      string(d.MatchReason),
				"matched_signature": d.MatchedSignature,
				"city":              d.City,
				"county":            d.County,
				"last_seen":         d.LastSeen,
				"map_url":           d.MapURL,
			},
		})
	}
	return map[string]any{
		"type":     "FeatureCollection",
		"features": features,
		"properties": map[string]any{
			"run_id":       result.RunID,
			"areas":        result.Areas,
			"completed_at": result.CompletedAt,
			"stats":        result.Stats,
		},
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
