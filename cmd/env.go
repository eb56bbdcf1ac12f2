package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/flockfinder/flockfinder/internal/boundary"
	"github.com/flockfinder/flockfinder/internal/registry"
	"github.com/flockfinder/flockfinder/internal/resilience"
	"github.com/flockfinder/flockfinder/internal/search"
	"github.com/flockfinder/flockfinder/internal/signature"
	"github.com/flockfinder/flockfinder/internal/store"
	"github.com/flockfinder/flockfinder/internal/wigle"
)

// env holds the wired application components shared by the subcommands.
type env struct {
	Store        store.Store
	Registry     *registry.Registry
	Signatures   *signature.Store
	WiGLE        *wigle.Client
	Resolver     *boundary.Resolver
	Orchestrator *search.Orchestrator
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured cache backend and runs migrations. Used
// alone by commands that never touch the network.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Cache.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Cache.DatabaseURL)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Cache.Path)
	default:
		return nil, eris.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initEnv wires the full search engine from configuration.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load(cfg.Data.RegistryDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	sigs, err := signature.Load(cfg.Data.BSSIDSignature, cfg.Data.SSIDSignature)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := wigle.NewClient(wigle.ClientConfig{
		BaseURL:           cfg.WiGLE.BaseURL,
		Token:             cfg.WiGLE.Token,
		RequestsPerSecond: cfg.WiGLE.RequestsPerSecond,
		SinceDate:         cfg.WiGLE.SinceDate,
	})

	resolver := boundary.NewResolver(reg, boundary.NewOverpassClient(cfg.Overpass.URL), st, boundary.ResolverConfig{
		BoundaryTTL: time.Duration(cfg.Cache.BoundaryTTLHours) * time.Hour,
		MaxBoxArea:  cfg.Search.MaxBoxArea,
		ZIPRadius:   cfg.Search.ZIPRadius,
	})

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Search.MaxAttempts
	retry.OnRetry = resilience.RetryLogger("wigle", "search")

	orchestrator := search.New(client, sigs, reg, st, search.Config{
		Concurrency: cfg.Search.Concurrency,
		Retry:       retry,
		ResultTTL:   time.Duration(cfg.Cache.ResultsTTLHours) * time.Hour,
		Window:      cfg.WiGLE.SinceDate,
	})

	return &env{
		Store:        st,
		Registry:     reg,
		Signatures:   sigs,
		WiGLE:        client,
		Resolver:     resolver,
		Orchestrator: orchestrator,
	}, nil
}
