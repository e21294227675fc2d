package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateResearch(&cfg.Research)
	v.validatePlanner(&cfg.Planner)
	v.validatePool(&cfg.Pool)
	v.validateWorker(&cfg.Worker)
	v.validateEvaluator(&cfg.Evaluator)
	v.validateEvidence(&cfg.Evidence)
	v.validateCheckpoint(&cfg.Checkpoint)
	v.validateGateways(&cfg.Gateways)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.addError(field, value, "must be one of: "+strings.Join(allowed, ", "))
}

func (v *Validator) duration(field, value string, required bool) {
	if value == "" {
		if required {
			v.addError(field, value, "duration required")
		}
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration")
		return
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
	}
}

func (v *Validator) between(field string, value, lo, hi float64) {
	if value < lo || value > hi {
		v.addError(field, value, fmt.Sprintf("must be between %v and %v", lo, hi))
	}
}

func (v *Validator) httpURL(field, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError(field, value, "must be an http(s) URL")
	}
}

func (v *Validator) validateLog(cfg *LogConfig) {
	v.oneOf("log.level", cfg.Level, "debug", "info", "warn", "error")
	v.oneOf("log.format", cfg.Format, "auto", "text", "json")
}

func (v *Validator) validateResearch(cfg *ResearchConfig) {
	if cfg.MaxIterations < 1 {
		v.addError("research.max_iterations", cfg.MaxIterations, "must be at least 1")
	}
	v.between("research.quality_threshold", float64(cfg.QualityThreshold), 0, 100)
	if cfg.MinImprovement < 0 {
		v.addError("research.min_improvement", cfg.MinImprovement, "must be non-negative")
	}
	v.duration("research.run_timeout", cfg.RunTimeout, false)
	v.oneOf("research.refocus_policy", cfg.RefocusPolicy, RefocusFlag, RefocusDiscardLowConfidence)
	if cfg.Preset != "" {
		v.oneOf("research.preset", cfg.Preset, PresetNames()...)
	}
}

func (v *Validator) validatePlanner(cfg *PlannerConfig) {
	if cfg.MinSubtasks < 1 || cfg.MinSubtasks > MaxMinSubtasks {
		v.addError("planner.min_subtasks", cfg.MinSubtasks, fmt.Sprintf("must be between 1 and %d", MaxMinSubtasks))
	}
	if cfg.MaxSubtasks < cfg.MinSubtasks {
		v.addError("planner.max_subtasks", cfg.MaxSubtasks, "must be >= planner.min_subtasks")
	}
	if cfg.MaxFollowups < 1 {
		v.addError("planner.max_followups", cfg.MaxFollowups, "must be at least 1")
	}
	v.between("planner.similarity_threshold", cfg.SimilarityThreshold, 0, 1)
	v.oneOf("planner.on_failure", cfg.OnFailure, PlannerFallback, PlannerFail)
	if cfg.MaxRetries < 1 {
		v.addError("planner.max_retries", cfg.MaxRetries, "must be at least 1")
	}
	v.duration("planner.base_delay", cfg.BaseDelay, true)
}

func (v *Validator) validatePool(cfg *PoolConfig) {
	if cfg.MaxConcurrency < 1 {
		v.addError("pool.max_concurrency", cfg.MaxConcurrency, "must be at least 1")
	}
	v.duration("pool.task_timeout", cfg.TaskTimeout, true)
	if cfg.MaxRetries < 0 {
		v.addError("pool.max_retries", cfg.MaxRetries, "must be non-negative")
	}
	v.duration("pool.base_delay", cfg.BaseDelay, true)
	v.duration("pool.max_delay", cfg.MaxDelay, true)
	v.between("pool.jitter", cfg.Jitter, 0, 1)
}

func (v *Validator) validateWorker(cfg *WorkerConfig) {
	if cfg.TopK < 1 {
		v.addError("worker.top_k", cfg.TopK, "must be at least 1")
	}
	if cfg.MaxResults < cfg.TopK {
		v.addError("worker.max_results", cfg.MaxResults, "must be >= worker.top_k")
	}
	if cfg.MaxFetchChars < 1 {
		v.addError("worker.max_fetch_chars", cfg.MaxFetchChars, "must be positive")
	}
	if cfg.MaxFindingChars < 1 {
		v.addError("worker.max_finding_chars", cfg.MaxFindingChars, "must be positive")
	}
}

func (v *Validator) validateEvaluator(cfg *EvaluatorConfig) {
	if cfg.MinFindingsPerSubtask < 1 {
		v.addError("evaluator.min_findings_per_subtask", cfg.MinFindingsPerSubtask, "must be at least 1")
	}
	v.between("evaluator.min_academic_ratio", cfg.MinAcademicRatio, 0, 0.5)
	v.between("evaluator.critic_weight", cfg.CriticWeight, 0, 1)
	v.between("evaluator.review_min_score", float64(cfg.ReviewMinScore), 0, 100)
}

func (v *Validator) validateEvidence(cfg *EvidenceConfig) {
	v.oneOf("evidence.backend", cfg.Backend, BackendSQLite, BackendMemory)
	if cfg.Backend == BackendSQLite && cfg.Path == "" {
		v.addError("evidence.path", cfg.Path, "path required for sqlite backend")
	}
	v.between("evidence.similarity_weight", cfg.SimilarityWeight, 0, 1)
	v.between("evidence.quality_weight", cfg.QualityWeight, 0, 1)
	if total := cfg.SimilarityWeight + cfg.QualityWeight; total < 0.99 || total > 1.01 {
		v.addError("evidence.weights", total, "similarity and quality weights must sum to 1.0")
	}
	if cfg.CandidateFactor < 1 {
		v.addError("evidence.candidate_factor", cfg.CandidateFactor, "must be at least 1")
	}
}

func (v *Validator) validateCheckpoint(cfg *CheckpointConfig) {
	if !cfg.Enabled {
		return
	}
	v.oneOf("checkpoint.backend", cfg.Backend, BackendSQLite, BackendJSON, BackendMemory)
	if cfg.Backend != BackendMemory && cfg.Path == "" {
		v.addError("checkpoint.path", cfg.Path, "path required")
	}
}

func (v *Validator) validateGateways(cfg *GatewaysConfig) {
	v.httpURL("gateways.search.base_url", cfg.Search.BaseURL)
	v.duration("gateways.search.timeout", cfg.Search.Timeout, true)
	if cfg.Search.RequestsPerSecond < 0 {
		v.addError("gateways.search.requests_per_second", cfg.Search.RequestsPerSecond, "must be non-negative")
	}
	v.duration("gateways.extraction.timeout", cfg.Extraction.Timeout, true)
	if cfg.Extraction.MaxBodyBytes < 1 {
		v.addError("gateways.extraction.max_body_bytes", cfg.Extraction.MaxBodyBytes, "must be positive")
	}
	v.httpURL("gateways.embedding.base_url", cfg.Embedding.BaseURL)
	if cfg.Embedding.BaseURL != "" && cfg.Embedding.Dimensions < 1 {
		v.addError("gateways.embedding.dimensions", cfg.Embedding.Dimensions, "must be positive")
	}
	v.duration("gateways.embedding.timeout", cfg.Embedding.Timeout, false)
	v.httpURL("gateways.llm.base_url", cfg.LLM.BaseURL)
	v.between("gateways.llm.temperature", cfg.LLM.Temperature, 0, 2)
	v.duration("gateways.llm.timeout", cfg.LLM.Timeout, false)
	v.httpURL("gateways.review.webhook_url", cfg.Review.WebhookURL)
	v.duration("gateways.review.timeout", cfg.Review.Timeout, false)
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
