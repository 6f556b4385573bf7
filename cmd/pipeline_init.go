package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/config"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/fetcher"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/pipeline"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

// pipelineEnv holds the store, document source and pipeline needed by the
// parse and batch commands.
type pipelineEnv struct {
	Store    store.Store
	Source   fetcher.Source
	Pipeline *pipeline.Pipeline
	archive  *fetcher.ZipSource
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.archive != nil {
		_ = pe.archive.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store and corpus, loads the speaker resolver and
// builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	if cfg.Corpus.Archive != "" {
		zs, err := fetcher.OpenZipSource(cfg.Corpus.Archive)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.archive = zs
		env.Source = zs
	} else {
		env.Source = fetcher.DirSource{Dir: cfg.Corpus.Dir}
	}

	speakers, err := pipeline.LoadSpeakers(ctx, cfg, st, newEscalator(st))
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load speakers")
	}
	env.Pipeline = pipeline.New(cfg, st, env.Source, speakers)
	return env, nil
}

func newEscalator(st store.Store) resolve.Escalator {
	if cfg.Escalation.Mode == config.EscalationPrompt {
		return resolve.NewPromptEscalator(os.Stdin, os.Stderr)
	}
	return resolve.NewQueueEscalator(st)
}
