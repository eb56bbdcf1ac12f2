package search

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flockfinder/flockfinder/internal/model"
	"github.com/flockfinder/flockfinder/internal/registry"
	"github.com/flockfinder/flockfinder/internal/resilience"
	"github.com/flockfinder/flockfinder/internal/signature"
	"github.com/flockfinder/flockfinder/internal/store"
	"github.com/flockfinder/flockfinder/internal/wigle"
)

// Searcher is the observation-API surface the orchestrator needs.
// *wigle.Client is the production implementation.
type Searcher interface {
	SearchBBox(ctx context.Context, box model.BBox, ssidPattern string) (*wigle.SearchResult, error)
}

// Config tunes one orchestrator.
type Config struct {
	// Concurrency bounds how many units are queried at once.
	Concurrency int
	// Retry governs per-request retries inside a unit.
	Retry resilience.RetryConfig
	// ResultTTL is how long fetched unit pages stay reusable in the cache.
	ResultTTL time.Duration
	// Window is the cache partition key for the search time window, e.g.
	// the since-date the client queries with.
	Window string
}

// Orchestrator fans a search out across query units, classifies and
// deduplicates the merged observations, and assembles the result set.
type Orchestrator struct {
	client     Searcher
	signatures *signature.Store
	registry   *registry.Registry
	store      store.Store
	cfg        Config
	logger     *zap.Logger
}

// New wires an orchestrator. The registry may be nil when no static-area
// metadata enrichment is wanted.
func New(client Searcher, sigs *signature.Store, reg *registry.Registry, st store.Store, cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Orchestrator{
		client:     client,
		signatures: sigs,
		registry:   reg,
		store:      st,
		cfg:        cfg,
		logger:     zap.L().With(zap.String("component", "orchestrator")),
	}
}

// unitResult is one unit's terminal state. Results live in a slice indexed
// by unit so the merge order is deterministic regardless of which worker
// finished first.
type unitResult struct {
	outcome   model.UnitOutcome
	reason    string
	raw       int
	malformed int
	devices   []model.CandidateDevice
}

// Run queries every unit, bounded by the configured concurrency, and returns
// the assembled result set. A failed unit is recorded and does not disturb
// the others; deduplication runs only after every unit has settled. On
// cancellation, unstarted units are reported skipped.
func (o *Orchestrator) Run(ctx context.Context, units []model.QueryUnit, areaIDs []string) (*model.SearchResultSet, error) {
	if len(units) == 0 {
		return nil, eris.New("search: no query units to run")
	}

	startedAt := time.Now().UTC()
	runID, err := o.store.CreateRun(ctx, areaIDs)
	if err != nil {
		return nil, err
	}
	o.logger.Info("search started",
		zap.String("run_id", runID),
		zap.Strings("areas", areaIDs),
		zap.Int("units", len(units)),
		zap.Int("concurrency", o.cfg.Concurrency))

	results := make([]unitResult, len(units))

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg := &errgroup.Group{}
	eg.SetLimit(o.cfg.Concurrency)

	for i := range units {
		i := i
		eg.Go(func() error {
			if gctx.Err() != nil {
				results[i] = unitResult{outcome: model.UnitSkipped, reason: "cancelled before start"}
				return nil
			}
			results[i] = o.runUnit(gctx, units[i])
			return nil
		})
	}
	_ = eg.Wait()

	result := o.assemble(runID, areaIDs, startedAt, units, results)

	// Bookkeeping failure must not discard a finished search.
	if err := o.store.CompleteRun(context.WithoutCancel(ctx), runID, result); err != nil {
		o.logger.Warn("run bookkeeping failed", zap.String("run_id", runID), zap.Error(err))
	}

	o.logger.Info("search complete",
		zap.String("run_id", runID),
		zap.Int("devices", len(result.Devices)),
		zap.Int("units_failed", result.Stats.UnitsFailed),
		zap.Int("units_skipped", result.Stats.UnitsSkipped))
	return result, nil
}

// runUnit fetches one unit's observations (via the result cache when fresh)
// and classifies them.
func (o *Orchestrator) runUnit(ctx context.Context, unit model.QueryUnit) unitResult {
	logger := o.logger.With(zap.String("unit", unit.ID))

	obs, malformed, err := o.fetchUnit(ctx, unit)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Info("unit skipped by cancellation")
			return unitResult{outcome: model.UnitSkipped, reason: "cancelled"}
		}
		logger.Warn("unit failed", zap.Error(err))
		return unitResult{outcome: model.UnitFailed, reason: err.Error()}
	}

	devices := classifyObservations(o.signatures, unit, obs)
	logger.Debug("unit complete",
		zap.Int("observations", len(obs)),
		zap.Int("matched", len(devices)),
		zap.Int("malformed", malformed))
	return unitResult{
		outcome:   model.UnitCompleted,
		raw:       len(obs),
		malformed: malformed,
		devices:   devices,
	}
}

func (o *Orchestrator) fetchUnit(ctx context.Context, unit model.QueryUnit) ([]model.Observation, int, error) {
	cacheKey := unit.BBox.Key()
	if cached, err := o.store.GetUnitResult(ctx, cacheKey, o.cfg.Window); err == nil && cached != nil {
		return cached.Observations, cached.Malformed, nil
	}

	patterns := o.signatures.SSIDPatterns()
	if len(patterns) == 0 {
		// No SSID signatures: search by location alone and let the BSSID
		// prefixes do all the classification work.
		patterns = []string{""}
	}

	// A network whose SSID satisfies more than one pattern comes back from
	// more than one search; keep its first appearance only.
	seen := make(map[string]bool)
	var merged []model.Observation
	malformed := 0
	for _, pattern := range patterns {
		page, err := resilience.DoVal(ctx, o.cfg.Retry, func(ctx context.Context) (*wigle.SearchResult, error) {
			return o.client.SearchBBox(ctx, unit.BBox, pattern)
		})
		if err != nil {
			return nil, 0, eris.Wrapf(err, "search: unit %s pattern %q", unit.ID, pattern)
		}
		for _, obs := range page.Observations {
			key := model.NormalizeBSSID(obs.BSSID)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, obs)
		}
		malformed += page.Malformed
	}

	res := &store.UnitResult{Observations: merged, Malformed: malformed}
	if err := o.store.PutUnitResult(ctx, cacheKey, o.cfg.Window, res, o.cfg.ResultTTL); err != nil {
		o.logger.Warn("result cache write failed", zap.String("unit", unit.ID), zap.Error(err))
	}
	return merged, malformed, nil
}

// assemble merges unit results in unit order, deduplicates, enriches, and
// totals the stats.
func (o *Orchestrator) assemble(runID string, areaIDs []string, startedAt time.Time, units []model.QueryUnit, results []unitResult) *model.SearchResultSet {
	var (
		all      []model.CandidateDevice
		stats    model.SearchStats
		failures []model.UnitFailure
	)
	stats.UnitsRequested = len(units)

	for i, res := range results {
		switch res.outcome {
		case model.UnitCompleted:
			stats.UnitsCompleted++
			stats.RawObservations += res.raw
			stats.Malformed += res.malformed
			all = append(all, res.devices...)
		case model.UnitFailed:
			stats.UnitsFailed++
			failures = append(failures, unitFailure(units[i], res))
		case model.UnitSkipped:
			stats.UnitsSkipped++
			failures = append(failures, unitFailure(units[i], res))
		}
	}

	stats.Matched = len(all)
	devices := dedupDevices(all)
	stats.Deduplicated = len(devices)
	o.enrich(devices, units)

	return &model.SearchResultSet{
		RunID:       runID,
		Areas:       areaIDs,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		Devices:     devices,
		Stats:       stats,
		FailedUnits: failures,
	}
}

func unitFailure(unit model.QueryUnit, res unitResult) model.UnitFailure {
	areaID := ""
	if unit.Area != nil {
		areaID = unit.Area.ID
	}
	return model.UnitFailure{
		UnitID:  unit.ID,
		AreaID:  areaID,
		BBox:    unit.BBox,
		Outcome: res.outcome,
		Reason:  res.reason,
	}
}

// enrich attaches the observation-service map URL to every device, plus
// city/county registry metadata when the device's coordinates fall inside a
// known ZIP's unit.
func (o *Orchestrator) enrich(devices []model.CandidateDevice, units []model.QueryUnit) {
	unitsByID := make(map[string]model.QueryUnit, len(units))
	for _, u := range units {
		unitsByID[u.ID] = u
	}

	for i := range devices {
		devices[i].MapURL = wigle.MapURL(devices[i].BSSID)

		if o.registry == nil {
			continue
		}
		unit, ok := unitsByID[devices[i].UnitID]
		if !ok || unit.Area == nil || unit.Area.Kind != model.KindStaticZIPSet {
			continue
		}
		// Static unit IDs end in the ZIP they cover.
		if idx := len(unit.ID) - 5; idx > 0 {
			if info, ok := o.registry.ZIP(unit.ID[idx:]); ok {
				devices[i].City = info.City
				devices[i].County = info.County
			}
		}
	}
}
