// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package main is the entry point for the Feedtuner server.
//
// Feedtuner turns free-form user feedback ("more cooking, less
// politics") into durable preference profiles and an adaptively
// re-ranked content feed.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings via Koanf v2 (env > file > defaults)
//  2. Store: BadgerDB for profile snapshots and the audit archive
//  3. Catalog: the post corpus and its canonical tag vocabulary
//  4. Scoring and retrieval: interest scoring with dislike veto,
//     hybrid candidate retrieval
//  5. Collaborators: HTTP clients for intent analysis, re-ranking,
//     and profile cleanup, each behind a circuit breaker
//  6. Pipeline: the serialized feedback orchestrator
//  7. HTTP API: Chi-routed REST surface plus /healthz and /metrics
//
// The pipeline and the HTTP server run under a suture supervision
// tree; either layer restarts independently on failure.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables with the FEEDTUNER_ prefix, a
// YAML config file (CONFIG_PATH or ./config.yaml), then built-in
// defaults. Collaborator endpoints are configured per client:
//
//	export FEEDTUNER_COLLABORATORS_INTENT_BASE_URL=http://intent:8471
//	export FEEDTUNER_COLLABORATORS_RERANK_BASE_URL=http://rerank:8472
//	export FEEDTUNER_COLLABORATORS_CLEANUP_BASE_URL=http://cleanup:8473
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the pipeline finishes the current
// feedback cycle, and the store is closed last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/feedtuner/internal/api"
	"github.com/tomtom215/feedtuner/internal/audit"
	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/collab"
	"github.com/tomtom215/feedtuner/internal/config"
	"github.com/tomtom215/feedtuner/internal/logging"
	"github.com/tomtom215/feedtuner/internal/pipeline"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/retrieval"
	"github.com/tomtom215/feedtuner/internal/scoring"
	"github.com/tomtom215/feedtuner/internal/store"
	"github.com/tomtom215/feedtuner/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()
	logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Str("catalog", cfg.Catalog.Path).
		Msg("Starting Feedtuner")

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("Store close failed")
		}
	}()

	corpus, err := catalog.LoadFile(cfg.Catalog.Path, logger)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	engine, err := scoring.NewEngine(cfg.Scoring, logger)
	if err != nil {
		return fmt.Errorf("create scoring engine: %w", err)
	}
	retriever, err := retrieval.NewRetriever(cfg.Retrieval, engine, logger)
	if err != nil {
		return fmt.Errorf("create retriever: %w", err)
	}
	manager, err := profile.NewManager(cfg.Profile, logger)
	if err != nil {
		return fmt.Errorf("create profile manager: %w", err)
	}

	// Stored credentials override the configured collaborator API key
	// (and endpoint, when set) for all three clients.
	if creds, credErr := st.LoadCredentials(); credErr == nil {
		applyCredentials(&cfg.Collaborators, creds)
		logger.Info().Msg("Applied stored collaborator credentials")
	} else if !errors.Is(credErr, store.ErrNotFound) {
		logger.Warn().Err(credErr).Msg("Stored credentials unreadable, using configuration")
	}

	intent, err := collab.NewHTTPIntentAnalyzer(cfg.Collaborators.Intent, logger)
	if err != nil {
		return fmt.Errorf("create intent analyzer: %w", err)
	}
	reranker, err := collab.NewHTTPReranker(cfg.Collaborators.Rerank, logger)
	if err != nil {
		return fmt.Errorf("create reranker: %w", err)
	}
	cleaner, err := collab.NewHTTPCleaner(cfg.Collaborators.Cleanup, logger)
	if err != nil {
		return fmt.Errorf("create cleaner: %w", err)
	}

	prof, err := st.LoadProfile()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("restore profile: %w", err)
		}
		prof = profile.New()
		logger.Info().Msg("No stored profile, starting fresh")
	} else {
		logger.Info().
			Int64("version", prof.Version).
			Int("interests", len(prof.Interests)).
			Int("dislikes", len(prof.Dislikes)).
			Msg("Restored profile snapshot")
	}

	recorder := audit.NewRecorder(cfg.Audit.RingSize, st, logger)

	orch, err := pipeline.NewOrchestrator(cfg.Pipeline, pipeline.Deps{
		Engine:     engine,
		Retriever:  retriever,
		Manager:    manager,
		Corpus:     corpus,
		Intent:     intent,
		Reranker:   reranker,
		Cleaner:    cleaner,
		Recorder:   recorder,
		Snapshots:  st,
		Profile:    prof,
		Vocabulary: corpus.TagIndex().Vocabulary(cfg.Pipeline.VocabularyLimit),
	}, logger)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Error().Err(err).Msg("Pipeline close failed")
		}
	}()

	handler := api.NewHandler(orch, recorder, st, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(logger), treeCfg)
	tree.AddPipelineService(orch)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, treeCfg.ShutdownTimeout, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// applyCredentials overlays stored credentials onto the three
// collaborator client configs.
func applyCredentials(c *config.CollaboratorsConfig, creds store.Credentials) {
	for _, cc := range []*collab.ClientConfig{&c.Intent, &c.Rerank, &c.Cleanup} {
		if creds.APIKey != "" {
			cc.APIKey = creds.APIKey
		}
		if creds.Endpoint != "" {
			cc.BaseURL = creds.Endpoint
		}
	}
}
