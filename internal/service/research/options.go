// Package research implements the research orchestration engine: the
// planner, the worker and its bounded pool, the quality-gated evaluator,
// the synthesizer and the control loop that drives them through the run
// state machine.
package research

import (
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// Options is the immutable configuration passed down the orchestration
// call chain. Build it with DefaultOptions or OptionsFromConfig.
type Options struct {
	RunTimeout    time.Duration
	RefocusPolicy string
	Planner       PlannerOptions
	Pool          PoolOptions
	Worker        WorkerOptions
	Evaluator     EvaluatorOptions
	Synthesis     SynthesisOptions
}

// PlannerOptions configures subtask planning.
type PlannerOptions struct {
	MinSubtasks         int
	MaxSubtasks         int
	MaxFollowups        int
	SimilarityThreshold float64
	OnFailure           string
	MaxRetries          int
	BaseDelay           time.Duration
}

// PoolOptions configures the worker pool.
type PoolOptions struct {
	MaxConcurrency int
	TaskTimeout    time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         float64
}

// WorkerOptions configures single-subtask execution.
type WorkerOptions struct {
	TopK            int
	MaxResults      int
	QueryVariants   bool
	Verify          bool
	Fetch           bool
	MaxFetchChars   int
	MaxFindingChars int
	AcademicDomains []string
}

// EvaluatorOptions configures scoring and the convergence decision.
type EvaluatorOptions struct {
	QualityThreshold      int
	MaxIterations         int
	MinImprovement        int
	MinFindingsPerSubtask int
	MinAcademicRatio      float64
	CriticWeight          float64
	ReviewMinScore        int
	MaxRetries            int
	BaseDelay             time.Duration
}

// SynthesisOptions configures evidence selection for the report.
type SynthesisOptions struct {
	PerSubtask    int
	RefocusPolicy string
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		RunTimeout:    2 * time.Hour,
		RefocusPolicy: config.RefocusFlag,
		Planner: PlannerOptions{
			MinSubtasks:         3,
			MaxSubtasks:         15,
			MaxFollowups:        5,
			SimilarityThreshold: 0.8,
			OnFailure:           config.PlannerFallback,
			MaxRetries:          3,
			BaseDelay:           5 * time.Second,
		},
		Pool: PoolOptions{
			MaxConcurrency: 5,
			TaskTimeout:    30 * time.Minute,
			MaxRetries:     3,
			BaseDelay:      time.Second,
			MaxDelay:       60 * time.Second,
			Jitter:         0.25,
		},
		Worker: WorkerOptions{
			TopK:            4,
			MaxResults:      10,
			QueryVariants:   true,
			Verify:          true,
			Fetch:           true,
			MaxFetchChars:   15000,
			MaxFindingChars: 1500,
			AcademicDomains: append([]string(nil), core.DefaultAcademicDomains...),
		},
		Evaluator: EvaluatorOptions{
			QualityThreshold:      80,
			MaxIterations:         3,
			MinImprovement:        2,
			MinFindingsPerSubtask: 3,
			MinAcademicRatio:      0.3,
			CriticWeight:          0.5,
			ReviewMinScore:        60,
			MaxRetries:            3,
			BaseDelay:             5 * time.Second,
		},
		Synthesis: SynthesisOptions{
			PerSubtask:    5,
			RefocusPolicy: config.RefocusFlag,
		},
	}
}

// OptionsFromConfig derives Options from a validated configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	d := DefaultOptions()
	if cfg == nil {
		return d
	}
	o := Options{
		RunTimeout:    config.Duration(cfg.Research.RunTimeout, d.RunTimeout),
		RefocusPolicy: orString(cfg.Research.RefocusPolicy, d.RefocusPolicy),
		Planner: PlannerOptions{
			MinSubtasks:         orInt(cfg.Planner.MinSubtasks, d.Planner.MinSubtasks),
			MaxSubtasks:         orInt(cfg.Planner.MaxSubtasks, d.Planner.MaxSubtasks),
			MaxFollowups:        orInt(cfg.Planner.MaxFollowups, d.Planner.MaxFollowups),
			SimilarityThreshold: orFloat(cfg.Planner.SimilarityThreshold, d.Planner.SimilarityThreshold),
			OnFailure:           orString(cfg.Planner.OnFailure, d.Planner.OnFailure),
			MaxRetries:          orInt(cfg.Planner.MaxRetries, d.Planner.MaxRetries),
			BaseDelay:           config.Duration(cfg.Planner.BaseDelay, d.Planner.BaseDelay),
		},
		Pool: PoolOptions{
			MaxConcurrency: orInt(cfg.Pool.MaxConcurrency, d.Pool.MaxConcurrency),
			TaskTimeout:    config.Duration(cfg.Pool.TaskTimeout, d.Pool.TaskTimeout),
			MaxRetries:     orInt(cfg.Pool.MaxRetries, d.Pool.MaxRetries),
			BaseDelay:      config.Duration(cfg.Pool.BaseDelay, d.Pool.BaseDelay),
			MaxDelay:       config.Duration(cfg.Pool.MaxDelay, d.Pool.MaxDelay),
			Jitter:         cfg.Pool.Jitter,
		},
		Worker: WorkerOptions{
			TopK:            orInt(cfg.Worker.TopK, d.Worker.TopK),
			MaxResults:      orInt(cfg.Worker.MaxResults, d.Worker.MaxResults),
			QueryVariants:   cfg.Worker.QueryVariants,
			Verify:          cfg.Worker.Verify,
			Fetch:           cfg.Worker.Fetch,
			MaxFetchChars:   orInt(cfg.Worker.MaxFetchChars, d.Worker.MaxFetchChars),
			MaxFindingChars: orInt(cfg.Worker.MaxFindingChars, d.Worker.MaxFindingChars),
			AcademicDomains: d.Worker.AcademicDomains,
		},
		Evaluator: EvaluatorOptions{
			QualityThreshold:      orInt(cfg.Research.QualityThreshold, d.Evaluator.QualityThreshold),
			MaxIterations:         orInt(cfg.Research.MaxIterations, d.Evaluator.MaxIterations),
			MinImprovement:        cfg.Research.MinImprovement,
			MinFindingsPerSubtask: orInt(cfg.Evaluator.MinFindingsPerSubtask, d.Evaluator.MinFindingsPerSubtask),
			MinAcademicRatio:      cfg.Evaluator.MinAcademicRatio,
			CriticWeight:          cfg.Evaluator.CriticWeight,
			ReviewMinScore:        cfg.Evaluator.ReviewMinScore,
			MaxRetries:            orInt(cfg.Planner.MaxRetries, d.Evaluator.MaxRetries),
			BaseDelay:             config.Duration(cfg.Planner.BaseDelay, d.Evaluator.BaseDelay),
		},
		Synthesis: SynthesisOptions{
			PerSubtask:    d.Synthesis.PerSubtask,
			RefocusPolicy: orString(cfg.Research.RefocusPolicy, d.RefocusPolicy),
		},
	}
	if len(cfg.Worker.AcademicDomains) > 0 {
		o.Worker.AcademicDomains = append([]string(nil), cfg.Worker.AcademicDomains...)
	}
	return o
}

func orInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orFloat(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
