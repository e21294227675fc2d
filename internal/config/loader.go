package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix is the prefix for environment overrides (RESEARCH_POOL_MAX_CONCURRENCY, ...).
const DefaultEnvPrefix = "RESEARCH"

// DefaultConfigDir is the project-local directory holding config and data files.
const DefaultConfigDir = ".research"

// providerEnvAliases binds the conventional provider variables in addition
// to the prefixed ones.
var providerEnvAliases = map[string][]string{
	"gateways.search.api_key":     {"PERPLEXITY_API_KEY"},
	"gateways.embedding.api_key":  {"OPENAI_API_KEY", "LITELLM_API_KEY"},
	"gateways.embedding.base_url": {"LITELLM_API_BASE"},
	"gateways.llm.api_key":        {"OPENAI_API_KEY", "LITELLM_API_KEY"},
	"gateways.llm.base_url":       {"LITELLM_API_BASE"},
	"gateways.review.webhook_url": {"RESEARCH_REVIEW_WEBHOOK"},
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	preset     string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: DefaultEnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithPreset selects a preset, overriding research.preset from files and
// the environment.
func (l *Loader) WithPreset(name string) *Loader {
	l.preset = name
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (RESEARCH_*, then provider aliases)
// 3. Project config (.research/config.yaml)
// 4. User config (~/.config/research/config.yaml)
// 5. Preset values (research.preset)
// 6. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	for key, aliases := range providerEnvAliases {
		prefixed := l.envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(append([]string{key, prefixed}, aliases...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(DefaultConfigDir)
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "research"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	name := l.preset
	if name == "" {
		name = l.v.GetString("research.preset")
	}
	// Unknown names are left to the validator.
	if p, ok := LookupPreset(name); ok {
		p.Apply(l.v)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Research.Preset = name
	return &cfg, nil
}

// Defaults returns the configuration made only of default values.
func Defaults() (*Config, error) {
	l := NewLoader()
	l.setDefaults()
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling defaults: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Convergence loop
	l.v.SetDefault("research.max_iterations", 3)
	l.v.SetDefault("research.quality_threshold", 80)
	l.v.SetDefault("research.min_improvement", 2)
	l.v.SetDefault("research.run_timeout", "2h")
	l.v.SetDefault("research.refocus_policy", RefocusFlag)
	l.v.SetDefault("research.reports_dir", filepath.Join(DefaultConfigDir, "reports"))
	l.v.SetDefault("research.preset", "")

	// Planner
	l.v.SetDefault("planner.min_subtasks", 3)
	l.v.SetDefault("planner.max_subtasks", 15)
	l.v.SetDefault("planner.max_followups", 5)
	l.v.SetDefault("planner.similarity_threshold", 0.8)
	l.v.SetDefault("planner.on_failure", PlannerFallback)
	l.v.SetDefault("planner.max_retries", 3)
	l.v.SetDefault("planner.base_delay", "5s")

	// Worker pool
	l.v.SetDefault("pool.max_concurrency", 5)
	l.v.SetDefault("pool.task_timeout", "30m")
	l.v.SetDefault("pool.max_retries", 3)
	l.v.SetDefault("pool.base_delay", "1s")
	l.v.SetDefault("pool.max_delay", "60s")
	l.v.SetDefault("pool.jitter", 0.25)

	// Worker
	l.v.SetDefault("worker.top_k", 4)
	l.v.SetDefault("worker.max_results", 10)
	l.v.SetDefault("worker.query_variants", true)
	l.v.SetDefault("worker.verify", true)
	l.v.SetDefault("worker.fetch", true)
	l.v.SetDefault("worker.max_fetch_chars", 15000)
	l.v.SetDefault("worker.max_finding_chars", 1500)
	l.v.SetDefault("worker.academic_domains", defaultAcademicDomains())
	l.v.SetDefault("worker.denylist_domains", defaultDenylistDomains())

	// Evaluator
	l.v.SetDefault("evaluator.min_findings_per_subtask", 3)
	l.v.SetDefault("evaluator.min_academic_ratio", 0.3)
	l.v.SetDefault("evaluator.critic_weight", 0.5)
	l.v.SetDefault("evaluator.review_min_score", 60)

	// Evidence store
	l.v.SetDefault("evidence.backend", BackendSQLite)
	l.v.SetDefault("evidence.path", filepath.Join(DefaultConfigDir, "evidence.db"))
	l.v.SetDefault("evidence.similarity_weight", 0.6)
	l.v.SetDefault("evidence.quality_weight", 0.4)
	l.v.SetDefault("evidence.candidate_factor", 3)

	// Checkpoints
	l.v.SetDefault("checkpoint.enabled", true)
	l.v.SetDefault("checkpoint.backend", BackendSQLite)
	l.v.SetDefault("checkpoint.path", filepath.Join(DefaultConfigDir, "checkpoints.db"))

	// Gateways
	l.v.SetDefault("gateways.search.base_url", "https://api.perplexity.ai")
	l.v.SetDefault("gateways.search.timeout", "60s")
	l.v.SetDefault("gateways.search.requests_per_second", 2.0)
	l.v.SetDefault("gateways.extraction.timeout", "60s")
	l.v.SetDefault("gateways.extraction.user_agent", "research-bot/1.0")
	l.v.SetDefault("gateways.extraction.max_body_bytes", 2<<20)
	l.v.SetDefault("gateways.embedding.base_url", "")
	l.v.SetDefault("gateways.embedding.model", "text-embedding-3-large")
	l.v.SetDefault("gateways.embedding.dimensions", 3072)
	l.v.SetDefault("gateways.embedding.timeout", "30s")
	l.v.SetDefault("gateways.llm.base_url", "")
	l.v.SetDefault("gateways.llm.model", "gpt-4o")
	l.v.SetDefault("gateways.llm.temperature", 0.2)
	l.v.SetDefault("gateways.llm.timeout", "5m")
	l.v.SetDefault("gateways.llm.critic", false)
	l.v.SetDefault("gateways.review.webhook_url", "")
	l.v.SetDefault("gateways.review.timeout", "10m")

	// Server
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
