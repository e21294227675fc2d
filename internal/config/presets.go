package config

import (
	"sort"

	"github.com/spf13/viper"
)

// PresetExpress is the preset selected by the run command's --express flag.
const PresetExpress = "express_deep"

// Preset is a named bundle of run sizing values. A preset replaces the
// built-in defaults of the keys it sets; config files, environment
// variables and flags still override it.
type Preset struct {
	Name             string
	Description      string
	MaxConcurrency   int
	MaxSubtasks      int
	MaxResults       int
	MaxIterations    int
	QualityThreshold int
}

var presets = map[string]Preset{
	"quick": {
		Name: "quick", Description: "fast research with minimal depth",
		MaxConcurrency: 3, MaxSubtasks: 3, MaxResults: 5, MaxIterations: 1, QualityThreshold: 70,
	},
	"balanced": {
		Name: "balanced", Description: "balance between speed and depth",
		MaxConcurrency: 5, MaxSubtasks: 5, MaxResults: 10, MaxIterations: 1, QualityThreshold: 70,
	},
	"deep": {
		Name: "deep", Description: "thorough single pass for complex topics",
		MaxConcurrency: 7, MaxSubtasks: 10, MaxResults: 15, MaxIterations: 1, QualityThreshold: 70,
	},
	"academic": {
		Name: "academic", Description: "scholarly sources for research papers",
		MaxConcurrency: 5, MaxSubtasks: 7, MaxResults: 10, MaxIterations: 1, QualityThreshold: 70,
	},
	"technical": {
		Name: "technical", Description: "code and documentation focus",
		MaxConcurrency: 5, MaxSubtasks: 5, MaxResults: 10, MaxIterations: 1, QualityThreshold: 70,
	},
	"deep_research": {
		Name: "deep_research", Description: "multi-iteration research with quality control",
		MaxConcurrency: 7, MaxSubtasks: 15, MaxResults: 15, MaxIterations: 3, QualityThreshold: 80,
	},
	PresetExpress: {
		Name: PresetExpress, Description: "one iteration of deep research",
		MaxConcurrency: 5, MaxSubtasks: 7, MaxResults: 10, MaxIterations: 1, QualityThreshold: 70,
	},
}

// LookupPreset returns the preset with the given name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames returns the known preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply overlays the preset on the defaults of v.
func (p Preset) Apply(v *viper.Viper) {
	v.SetDefault("pool.max_concurrency", p.MaxConcurrency)
	v.SetDefault("planner.max_subtasks", p.MaxSubtasks)
	v.SetDefault("worker.max_results", p.MaxResults)
	v.SetDefault("research.max_iterations", p.MaxIterations)
	v.SetDefault("research.quality_threshold", p.QualityThreshold)
}
