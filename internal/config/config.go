// Package config loads and validates the research engine configuration.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Research   ResearchConfig   `mapstructure:"research" yaml:"research"`
	Planner    PlannerConfig    `mapstructure:"planner" yaml:"planner"`
	Pool       PoolConfig       `mapstructure:"pool" yaml:"pool"`
	Worker     WorkerConfig     `mapstructure:"worker" yaml:"worker"`
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator" yaml:"evaluator"`
	Evidence   EvidenceConfig   `mapstructure:"evidence" yaml:"evidence"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Gateways   GatewaysConfig   `mapstructure:"gateways" yaml:"gateways"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ResearchConfig configures the convergence loop.
type ResearchConfig struct {
	MaxIterations    int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	QualityThreshold int    `mapstructure:"quality_threshold" yaml:"quality_threshold"`
	MinImprovement   int    `mapstructure:"min_improvement" yaml:"min_improvement"`
	RunTimeout       string `mapstructure:"run_timeout" yaml:"run_timeout"`
	RefocusPolicy    string `mapstructure:"refocus_policy" yaml:"refocus_policy"`
	// ReportsDir receives one archive directory per finished run. Empty
	// disables archiving.
	ReportsDir string `mapstructure:"reports_dir" yaml:"reports_dir"`
	// Preset names a bundle of sizing defaults; see PresetNames.
	Preset string `mapstructure:"preset" yaml:"preset,omitempty"`
}

// PlannerConfig configures subtask planning.
type PlannerConfig struct {
	MinSubtasks         int     `mapstructure:"min_subtasks" yaml:"min_subtasks"`
	MaxSubtasks         int     `mapstructure:"max_subtasks" yaml:"max_subtasks"`
	MaxFollowups        int     `mapstructure:"max_followups" yaml:"max_followups"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	OnFailure           string  `mapstructure:"on_failure" yaml:"on_failure"`
	MaxRetries          int     `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay           string  `mapstructure:"base_delay" yaml:"base_delay"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	MaxConcurrency int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	TaskTimeout    string  `mapstructure:"task_timeout" yaml:"task_timeout"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay      string  `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay       string  `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter         float64 `mapstructure:"jitter" yaml:"jitter"`
}

// WorkerConfig configures single-subtask execution.
type WorkerConfig struct {
	TopK            int      `mapstructure:"top_k" yaml:"top_k"`
	MaxResults      int      `mapstructure:"max_results" yaml:"max_results"`
	QueryVariants   bool     `mapstructure:"query_variants" yaml:"query_variants"`
	Verify          bool     `mapstructure:"verify" yaml:"verify"`
	Fetch           bool     `mapstructure:"fetch" yaml:"fetch"`
	MaxFetchChars   int      `mapstructure:"max_fetch_chars" yaml:"max_fetch_chars"`
	MaxFindingChars int      `mapstructure:"max_finding_chars" yaml:"max_finding_chars"`
	AcademicDomains []string `mapstructure:"academic_domains" yaml:"academic_domains"`
	DenylistDomains []string `mapstructure:"denylist_domains" yaml:"denylist_domains"`
}

// EvaluatorConfig configures evidence scoring.
type EvaluatorConfig struct {
	MinFindingsPerSubtask int     `mapstructure:"min_findings_per_subtask" yaml:"min_findings_per_subtask"`
	MinAcademicRatio      float64 `mapstructure:"min_academic_ratio" yaml:"min_academic_ratio"`
	CriticWeight          float64 `mapstructure:"critic_weight" yaml:"critic_weight"`
	ReviewMinScore        int     `mapstructure:"review_min_score" yaml:"review_min_score"`
}

// EvidenceConfig configures the evidence store.
type EvidenceConfig struct {
	Backend          string  `mapstructure:"backend" yaml:"backend"`
	Path             string  `mapstructure:"path" yaml:"path"`
	SimilarityWeight float64 `mapstructure:"similarity_weight" yaml:"similarity_weight"`
	QualityWeight    float64 `mapstructure:"quality_weight" yaml:"quality_weight"`
	CandidateFactor  int     `mapstructure:"candidate_factor" yaml:"candidate_factor"`
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// GatewaysConfig groups the external service clients.
type GatewaysConfig struct {
	Search     SearchGatewayConfig     `mapstructure:"search" yaml:"search"`
	Extraction ExtractionGatewayConfig `mapstructure:"extraction" yaml:"extraction"`
	Embedding  EmbeddingGatewayConfig  `mapstructure:"embedding" yaml:"embedding"`
	LLM        LLMGatewayConfig        `mapstructure:"llm" yaml:"llm"`
	Review     ReviewGatewayConfig     `mapstructure:"review" yaml:"review"`
}

// SearchGatewayConfig configures the search provider client.
type SearchGatewayConfig struct {
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Timeout           string  `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// ExtractionGatewayConfig configures page verification and fetching.
type ExtractionGatewayConfig struct {
	Timeout      string `mapstructure:"timeout" yaml:"timeout"`
	UserAgent    string `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// EmbeddingGatewayConfig configures the embedding client. An empty
// base URL disables embeddings; search then falls back to lexical ranking.
type EmbeddingGatewayConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model      string `mapstructure:"model" yaml:"model"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
}

// LLMGatewayConfig configures the completion client used for planning,
// critique and report writing. An empty base URL selects the heuristic
// planner and the fallback report.
type LLMGatewayConfig struct {
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	Timeout     string  `mapstructure:"timeout" yaml:"timeout"`
	Critic      bool    `mapstructure:"critic" yaml:"critic"`
}

// ReviewGatewayConfig configures the optional human review webhook.
type ReviewGatewayConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string   `mapstructure:"host" yaml:"host"`
	Port        int      `mapstructure:"port" yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Duration parses a configured duration, returning fallback when empty or invalid.
// Invalid values are reported by the Validator.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
