package main

import (
	"fmt"

	"github.com/codelore/codelore/internal/ai"
	"github.com/codelore/codelore/internal/cache"
	"github.com/codelore/codelore/internal/embedding"
	"github.com/codelore/codelore/internal/enricher"
	"github.com/codelore/codelore/internal/ranker"
	"github.com/codelore/codelore/internal/research"
	"github.com/codelore/codelore/internal/scheduler"
	"github.com/codelore/codelore/internal/textsearch"
)

// pipeline wires the components that need a model client. Commands that
// only touch the store (queue, invalidate, cleanup, stats) construct their
// pieces directly instead.
type pipeline struct {
	agent    *research.Agent
	runner   *scheduler.Runner
	enricher *enricher.Enricher
	oracle   *cache.Oracle
	ranker   *ranker.Ranker
}

func buildPipeline() (*pipeline, error) {
	client, err := ai.NewClient(&ai.ClientConfig{
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}

	var searcher textsearch.Searcher
	if cfg.SearchRoot != "" {
		fs, err := textsearch.NewFSSearcher(cfg.SearchRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to create text search: %w", err)
		}
		searcher = fs
	}

	agent := research.New(store, client, embedder, searcher, cfg.Research, logger)
	oracle := cache.New(store, cfg.Cache, logger)

	return &pipeline{
		agent:    agent,
		runner:   scheduler.New(store, agent, embedder, cfg.Scheduler, logger),
		enricher: enricher.New(store, agent, oracle, embedder, cfg.Enricher, logger),
		oracle:   oracle,
		ranker:   ranker.New(store, cfg.Ranker, logger),
	}, nil
}
