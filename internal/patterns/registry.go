// Package patterns implements the Pattern Registry (spec.md §4.4): a
// config-driven, pre-compiled regex library consumed by the reducer,
// entity extractor, and tool detector. The registry is immutable after
// construction; Store.Reload builds a new one and swaps it into an
// atomic.Pointer so in-flight work keeps its old snapshot.
package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/errs"
)

// Normalization is one compiled {pattern, replacement} rule.
type Normalization struct {
	Name        string
	Re          *regexp.Regexp
	Replacement string
}

// Technical is one compiled, weighted technical pattern (Tier 2).
type Technical struct {
	Name   string
	Re     *regexp.Regexp
	Weight float64
}

// EntityPattern is one compiled entity matcher.
type EntityPattern struct {
	TypeName      string
	Re            *regexp.Regexp
	Confidence    float64
	ContextWindow int
	Redact        bool
}

// Tool is one compiled tool detector: command-line matchers plus
// output-section matchers.
type Tool struct {
	Name           string
	CommandRes     []*regexp.Regexp
	OutputRes      []*regexp.Regexp
}

// Tier2Weights is the weighted-sum configuration for the statistical
// scoring stage.
type Tier2Weights struct {
	Entropy    float64
	Uniqueness float64
	Technical  float64
	Change     float64
}

// Registry is the immutable, loaded pattern library.
type Registry struct {
	tier1Norms []Normalization
	tier3Norms []Normalization
	technical  []Technical
	maxTechnicalScore float64
	entities   []EntityPattern
	tools      []Tool

	tier1MaxOccurrences int
	tier2Weights        Tier2Weights
	tier2Percentile     float64
	tier3MinClusterSize int
	tier3MaxClusterSize int
	tier3RepStrategy    string
}

// Tier1Normalizations returns the Tier 1 normalization rules in
// priority (declaration) order.
func (r *Registry) Tier1Normalizations() []Normalization { return r.tier1Norms }

// Tier3Normalizations returns the (more aggressive) Tier 3 rules.
func (r *Registry) Tier3Normalizations() []Normalization { return r.tier3Norms }

// Technical returns the named technical patterns used by Tier 2 scoring.
func (r *Registry) Technical() []Technical { return r.technical }

// MaxTechnicalScore is the configured denominator for the technical
// scoring component.
func (r *Registry) MaxTechnicalScore() float64 { return r.maxTechnicalScore }

// Entities returns all configured entity patterns.
func (r *Registry) Entities() []EntityPattern { return r.entities }

// Tools returns all configured tool detectors.
func (r *Registry) Tools() []Tool { return r.tools }

// Tier1MaxOccurrences is the per-session cap on repeated normalized
// lines before Tier 1 drops them.
func (r *Registry) Tier1MaxOccurrences() int { return r.tier1MaxOccurrences }

// Tier2Weights returns the configured weighted-sum coefficients.
func (r *Registry) Tier2Weights() Tier2Weights { return r.tier2Weights }

// Tier2Percentile is the score-threshold percentile (e.g. 0.8 keeps
// the top 20% of lines by score).
func (r *Registry) Tier2Percentile() float64 { return r.tier2Percentile }

// Tier3MinClusterSize is the minimum member count for a cluster to
// survive into the output; 0 or 1 means no filtering.
func (r *Registry) Tier3MinClusterSize() int { return r.tier3MinClusterSize }

// Tier3MaxClusterSize caps how many members a single cluster may
// accumulate before subsequent matches start a new cluster; 0 means
// unbounded.
func (r *Registry) Tier3MaxClusterSize() int { return r.tier3MaxClusterSize }

// Tier3RepresentativeStrategy names the strategy used to pick one
// member of a cluster as its representative (First, Longest,
// HighestEntropy).
func (r *Registry) Tier3RepresentativeStrategy() string { return r.tier3RepStrategy }

// EntityByName looks up a single entity pattern by its type name.
func (r *Registry) EntityByName(name string) (EntityPattern, bool) {
	for _, e := range r.entities {
		if e.TypeName == name {
			return e, true
		}
	}
	return EntityPattern{}, false
}

// DetectTool runs cmd against every tool's command matchers and returns
// the first match, or "" if none matches. Order follows config order.
func (r *Registry) DetectTool(cmd string) string {
	for _, t := range r.tools {
		for _, re := range t.CommandRes {
			if re.MatchString(cmd) {
				return t.Name
			}
		}
	}
	return ""
}

// Build compiles a Registry from cfg, aggregating every regex compile
// failure into one ConfigInvalid error rather than stopping at the
// first (spec.md §4.4: "each pattern is validated at load time").
func Build(cfg *config.Config) (*Registry, error) {
	var failures []string
	compile := func(label, expr string) *regexp.Regexp {
		re, err := regexp.Compile(expr)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s (%q): %v", label, expr, err))
			return nil
		}
		return re
	}

	reg := &Registry{
		maxTechnicalScore:   cfg.Filtering.Tier2.MaxTechnicalScore,
		tier1MaxOccurrences: cfg.Filtering.Tier1.MaxOccurrences,
		tier2Weights: Tier2Weights{
			Entropy:    cfg.Filtering.Tier2.EntropyWeight,
			Uniqueness: cfg.Filtering.Tier2.UniquenessWeight,
			Technical:  cfg.Filtering.Tier2.TechnicalWeight,
			Change:     cfg.Filtering.Tier2.ChangeWeight,
		},
		tier2Percentile:     cfg.Filtering.Tier2.ScoreThresholdPercentile,
		tier3MinClusterSize: cfg.Filtering.Tier3.ClusterMinSize,
		tier3MaxClusterSize: cfg.Filtering.Tier3.MaxClusterSize,
		tier3RepStrategy:    cfg.Filtering.Tier3.RepresentativeStrategy,
	}

	for i, p := range cfg.Filtering.Tier1.NormalizationPatterns {
		re := compile(fmt.Sprintf("tier1.normalization_patterns[%d]", i), p.Pattern)
		if re != nil {
			reg.tier1Norms = append(reg.tier1Norms, Normalization{Name: p.Replacement, Re: re, Replacement: p.Replacement})
		}
	}
	for i, p := range cfg.Filtering.Tier3.NormalizationPatterns {
		re := compile(fmt.Sprintf("tier3.normalization_patterns[%d]", i), p.Pattern)
		if re != nil {
			reg.tier3Norms = append(reg.tier3Norms, Normalization{Name: p.Replacement, Re: re, Replacement: p.Replacement})
		}
	}
	for i, p := range cfg.Filtering.Tier2.TechnicalPatterns {
		re := compile(fmt.Sprintf("tier2.technical_patterns[%d] (%s)", i, p.Name), p.Pattern)
		if re != nil {
			reg.technical = append(reg.technical, Technical{Name: p.Name, Re: re, Weight: p.Weight})
		}
	}
	for i, e := range cfg.Entities {
		re := compile(fmt.Sprintf("entities[%d] (%s)", i, e.TypeName), e.Pattern)
		if re != nil {
			reg.entities = append(reg.entities, EntityPattern{
				TypeName:      e.TypeName,
				Re:            re,
				Confidence:    e.Confidence,
				ContextWindow: e.ContextWindow,
				Redact:        e.Redact,
			})
		}
	}
	for i, t := range cfg.Tools {
		tool := Tool{Name: t.Name}
		for j, p := range t.Patterns {
			re := compile(fmt.Sprintf("tools[%d].patterns[%d] (%s)", i, j, t.Name), p)
			if re != nil {
				tool.CommandRes = append(tool.CommandRes, re)
			}
		}
		for j, p := range t.OutputPatterns {
			re := compile(fmt.Sprintf("tools[%d].output_patterns[%d] (%s)", i, j, t.Name), p)
			if re != nil {
				tool.OutputRes = append(tool.OutputRes, re)
			}
		}
		reg.tools = append(reg.tools, tool)
	}

	if len(failures) > 0 {
		return nil, errs.ConfigInvalidf("patterns.Build", "invalid patterns:\n  %s", strings.Join(failures, "\n  "))
	}
	return reg, nil
}
