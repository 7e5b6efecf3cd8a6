package main

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/civicgraph/repsync/internal/engine"
	"github.com/civicgraph/repsync/internal/fetch"
	"github.com/civicgraph/repsync/internal/match"
	"github.com/civicgraph/repsync/internal/merge"
	"github.com/civicgraph/repsync/internal/score"
	"github.com/civicgraph/repsync/internal/source"
	"github.com/civicgraph/repsync/internal/store"
)

const userAgent = "repsync/1.0 (civic data reconciliation)"

// env bundles the wired subsystems a command needs.
type env struct {
	store    store.Store
	engine   *engine.Engine
	resolver *merge.Resolver
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("store close", zap.Error(err))
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv wires the stack: store, source catalog, fetch clients, adapters,
// matcher, scorer, resolver, engine.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	cat, err := source.LoadCatalog(cfg.Sources.CatalogPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	httpClient := fetch.NewHTTPClient(fetch.HTTPOptions{
		UserAgent:   userAgent,
		Timeout:     cfg.Ingest.HTTPTimeout(),
		RatePerHost: catalogRates(cat),
		DefaultRate: 5,
	})
	ftpClient := fetch.NewFTPClient(fetch.FTPOptions{Timeout: cfg.Ingest.HTTPTimeout()})

	adapters, err := source.BuildAdapters(cat, cfg.Sources, httpClient, ftpClient)
	if err != nil {
		st.Close()
		return nil, err
	}

	scorer := score.New(cfg.Scoring)
	resolver := merge.New(scorer, cfg.Merge)
	matcher := match.New(st, cfg.Matcher)

	return &env{
		store:    st,
		engine:   engine.New(st, adapters, matcher, resolver, cfg),
		resolver: resolver,
	}, nil
}

// catalogRates maps each catalog endpoint's host to its declared rate limit.
func catalogRates(cat *source.Catalog) map[string]rate.Limit {
	rates := make(map[string]rate.Limit, len(cat.Sources))
	for _, e := range cat.Sources {
		u, err := url.Parse(e.Endpoint)
		if err != nil || u.Host == "" {
			continue
		}
		rates[u.Host] = rate.Limit(e.RatePerSec)
	}
	return rates
}
