package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/config"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/hansard"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resilience"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

// LoadSpeakers builds the shared speaker resolver from stored entities and
// aliases plus the configured override and curated speaker tables.
func LoadSpeakers(ctx context.Context, cfg *config.Config, st store.Store, escalator resolve.Escalator) (*hansard.SpeakerResolver, error) {
	r := cfg.Batch.Retry
	retry := resilience.FromRetryConfig(cfg.Store.Driver, r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs)

	entities, err := resilience.DoVal(ctx, retry, "load entities", func(ctx context.Context) ([]model.Entity, error) {
		return st.ListEntities(ctx, store.EntityFilter{})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load entities")
	}
	aliases, err := resilience.DoVal(ctx, retry, "load aliases", st.LoadAliases)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load aliases")
	}
	overrides, err := resolve.LoadOverrides(cfg.Resolve.OverridesPath)
	if err != nil {
		return nil, err
	}
	table, err := hansard.LoadSpeakerTable(cfg.Corpus.SpeakersPath)
	if err != nil {
		return nil, err
	}

	pool := resolve.NewPool(entities...)
	cache := hansard.NewAliasCache()
	cache.Seed(entities)
	cache.Load(aliases)

	zap.L().Info("pipeline: speaker resolver ready",
		zap.Int("entities", len(entities)),
		zap.Int("aliases", cache.Len()),
		zap.Int("overrides", overrides.Len()),
	)

	resolver := resolve.NewResolver(pool, overrides, escalator, cfg.Resolve.Config)
	return hansard.NewSpeakerResolver(cache, table, resolver), nil
}
