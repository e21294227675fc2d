package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// Backends for the evidence and checkpoint stores.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendJSON   = "json"
)

// MaxMinSubtasks is the largest planner.min_subtasks accepted; the heuristic
// generator has at least this many perspectives.
const MaxMinSubtasks = 15

// Planner failure policies.
const (
	// PlannerFallback replaces a failed initial plan with one generic subtask.
	PlannerFallback = "fallback"
	// PlannerFail surfaces the planning error and fails the run.
	PlannerFail = "fail"
)

// Refocus policies applied to evidence before synthesis.
const (
	// RefocusFlag keeps all findings and marks the report as reduced confidence.
	RefocusFlag = "flag"
	// RefocusDiscardLowConfidence drops unverified low-quality findings from synthesis.
	RefocusDiscardLowConfidence = "discard_low_confidence"
)

const defaultConfigHeader = `# Research engine configuration
#
# Values not specified here use built-in defaults. Every key can be
# overridden with an environment variable: research.max_iterations is
# RESEARCH_RESEARCH_MAX_ITERATIONS. Provider keys are also read from
# PERPLEXITY_API_KEY, OPENAI_API_KEY, LITELLM_API_BASE and LITELLM_API_KEY.

`

// DefaultConfigYAML renders the default configuration as YAML.
func DefaultConfigYAML() ([]byte, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(defaultConfigHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func defaultAcademicDomains() []string {
	return append([]string(nil), core.DefaultAcademicDomains...)
}

func defaultDenylistDomains() []string {
	return append([]string(nil), core.DefaultDenylistDomains...)
}
