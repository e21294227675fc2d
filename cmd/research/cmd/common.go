package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/evidence"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/gateway"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/research"
)

// eventBufferSize is the per-subscriber buffer of the process event bus.
const eventBufferSize = 256

// Stores holds the persistence layer shared by every command.
type Stores struct {
	Config      *config.Config
	Logger      *logging.Logger
	Repository  evidence.Repository
	Checkpoints *service.CheckpointManager
	Embedder    core.Embedder

	checkpointStore core.CheckpointStore
}

// OpenStores opens the evidence repository and, when enabled, the
// checkpoint store.
func OpenStores(cfg *config.Config, logger *logging.Logger) (*Stores, error) {
	repo, err := evidence.NewRepository(cfg.Evidence.Backend, cfg.Evidence.Path)
	if err != nil {
		return nil, fmt.Errorf("opening evidence store: %w", err)
	}
	s := &Stores{Config: cfg, Logger: logger, Repository: repo}

	if cfg.Checkpoint.Enabled {
		cs, err := state.NewCheckpointStore(cfg.Checkpoint.Backend, cfg.Checkpoint.Path)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("opening checkpoint store: %w", err)
		}
		s.checkpointStore = cs
		s.Checkpoints = service.NewCheckpointManager(cs, logger)
	}

	if emb := cfg.Gateways.Embedding; emb.BaseURL != "" {
		s.Embedder = gateway.NewOpenAIEmbedder(gateway.EmbeddingConfig{
			BaseURL:    emb.BaseURL,
			APIKey:     emb.APIKey,
			Model:      emb.Model,
			Dimensions: emb.Dimensions,
			Timeout:    config.Duration(emb.Timeout, 0),
		})
	}
	return s, nil
}

// OpenEvidence returns the opener of run-scoped evidence partitions.
func (s *Stores) OpenEvidence() research.EvidenceOpener {
	opts := []evidence.Option{
		evidence.WithLogger(s.Logger),
		evidence.WithRanking(s.Config.Evidence.SimilarityWeight, s.Config.Evidence.QualityWeight,
			s.Config.Evidence.CandidateFactor),
	}
	if s.Embedder != nil {
		opts = append(opts, evidence.WithEmbedder(s.Embedder))
	}
	return func(ctx context.Context, runID string) (research.EvidenceStore, error) {
		return evidence.NewStore(ctx, runID, s.Repository, opts...)
	}
}

// Close closes both stores.
func (s *Stores) Close() error {
	return errors.Join(s.Repository.Close(), state.CloseStore(s.checkpointStore))
}

// Engine is a fully wired orchestrator with its stores and event bus.
type Engine struct {
	*Stores
	Orchestrator *research.Orchestrator
	Bus          *events.EventBus
}

// NewEngine wires the orchestrator from configuration. The search gateway
// is mandatory; the completion client is optional and every role it serves
// falls back to its heuristic when no llm base url is configured.
func NewEngine(cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	search, err := gateway.NewSearchClient(gateway.SearchConfig{
		BaseURL:           cfg.Gateways.Search.BaseURL,
		APIKey:            cfg.Gateways.Search.APIKey,
		Timeout:           config.Duration(cfg.Gateways.Search.Timeout, 0),
		RequestsPerSecond: cfg.Gateways.Search.RequestsPerSecond,
		AcademicDomains:   cfg.Worker.AcademicDomains,
		DenylistDomains:   cfg.Worker.DenylistDomains,
	}, logger)
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(cfg, logger)
	if err != nil {
		return nil, err
	}

	bus := events.New(eventBufferSize)
	deps := research.OrchestratorDeps{
		Options:     research.OptionsFromConfig(cfg),
		Search:      search,
		Evidence:    stores.OpenEvidence(),
		Checkpoints: stores.Checkpoints,
		Bus:         bus,
		Tracer:      service.NewTracer(),
		Logger:      logger,
		Extraction: gateway.NewExtractionClient(gateway.ExtractionConfig{
			Timeout:      config.Duration(cfg.Gateways.Extraction.Timeout, 0),
			UserAgent:    cfg.Gateways.Extraction.UserAgent,
			MaxBodyBytes: cfg.Gateways.Extraction.MaxBodyBytes,
		}),
	}

	if lc := cfg.Gateways.LLM; lc.BaseURL != "" {
		client, err := llm.New(llm.Config{
			BaseURL:     lc.BaseURL,
			APIKey:      lc.APIKey,
			Model:       lc.Model,
			Temperature: lc.Temperature,
			Timeout:     config.Duration(lc.Timeout, 0),
		}, logger)
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		deps.Generator = client
		deps.Extractor = client
		deps.ReportWriter = client
		if lc.Critic {
			deps.Critic = client
		}
	}
	if rc := cfg.Gateways.Review; rc.WebhookURL != "" {
		deps.Reviewer = gateway.NewWebhookReviewer(rc.WebhookURL, config.Duration(rc.Timeout, 0))
	}

	orch, err := research.NewOrchestrator(deps)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	return &Engine{Stores: stores, Orchestrator: orch, Bus: bus}, nil
}

// Close releases the bus and the stores.
func (e *Engine) Close() error {
	e.Bus.Close()
	return e.Stores.Close()
}
