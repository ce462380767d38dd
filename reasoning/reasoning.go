// Package reasoning decides how "thinking" models are invoked.
//
// A model identifier is reasoning-capable when it contains one of a fixed set
// of capability patterns. The reasoning variant is only used when the caller
// asks for it explicitly by appending Suffix to the identifier:
//
//	d := reasoning.Classify("deepseek/deepseek-r1:reasoning", 4000)
//	// d.BaseModel == "deepseek/deepseek-r1", d.Mode == reasoning.ModeBudget
//	// d.BudgetTokens == 4000, d.MaxTokens(4000) == 8000
package reasoning

import (
	"math"
	"strings"
)

// Suffix marks a model identifier as the reasoning variant of its base model.
const Suffix = ":reasoning"

// Budget bounds. The budget scales with the requested output length so the
// hidden reasoning never starves the visible answer.
const (
	BudgetRatio     = 1.0
	MinBudgetTokens = 1024
	MaxBudgetTokens = 32000
)

// Mode is how reasoning is configured on the wire.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeEffort Mode = "effort"
	ModeBudget Mode = "budget"
)

// Effort is a qualitative reasoning level.
type Effort string

const (
	EffortHigh   Effort = "high"
	EffortMedium Effort = "medium"
	EffortLow    Effort = "low"
)

// DefaultEffort is used for every effort-based model.
const DefaultEffort = EffortHigh

// capabilityPatterns identify models that can emit hidden reasoning tokens.
var capabilityPatterns = []string{
	"o1",
	"o3",
	"o4-mini",
	"gpt-5",
	"deepseek-r1",
	"deepseek-reasoner",
	"claude-3-7-sonnet",
	"claude-3.7-sonnet",
	"claude-sonnet-4",
	"claude-opus-4",
	"gemini-2.5",
	"qwq",
	"qwen3",
	"grok-3-mini",
	"grok-4",
	"magistral",
	"thinking",
}

// effortPatterns identify reasoning models configured by effort level
// rather than by a token budget.
var effortPatterns = []string{
	"o1",
	"o3",
	"o4-mini",
	"gpt-5",
	"grok",
}

// Decision describes how a single request should be decorated.
type Decision struct {
	// BaseModel is the identifier sent to the backend, without Suffix.
	BaseModel    string
	IsReasoning  bool
	Mode         Mode
	Effort       Effort
	BudgetTokens int
}

// Classify derives the reasoning decision for modelID. outputTokens is the
// visible answer length requested by the caller and only matters for
// budget-based models.
func Classify(modelID string, outputTokens int) Decision {
	base := StripSuffix(modelID)
	d := Decision{BaseModel: base, Mode: ModeNone}

	if !HasSuffix(modelID) || !IsCapable(base) {
		return d
	}

	d.IsReasoning = true
	if IsEffortBased(base) {
		d.Mode = ModeEffort
		d.Effort = DefaultEffort
		return d
	}

	d.Mode = ModeBudget
	d.BudgetTokens = Budget(outputTokens)
	return d
}

// MaxTokens returns the total token ceiling to send for a request asking for
// outputTokens of visible text. Reasoning budget is additive.
func (d Decision) MaxTokens(outputTokens int) int {
	if d.Mode == ModeBudget {
		return d.BudgetTokens + outputTokens
	}
	return outputTokens
}

// Budget computes the reasoning token budget for outputTokens of visible
// output, clamped to [MinBudgetTokens, MaxBudgetTokens].
func Budget(outputTokens int) int {
	if outputTokens < 0 {
		outputTokens = 0
	}
	b := int(math.Ceil(float64(outputTokens) * BudgetRatio))
	return min(max(b, MinBudgetTokens), MaxBudgetTokens)
}

// IsCapable reports whether modelID contains a reasoning capability pattern.
func IsCapable(modelID string) bool {
	return containsAny(modelID, capabilityPatterns)
}

// IsEffortBased reports whether modelID is configured by effort level.
func IsEffortBased(modelID string) bool {
	return containsAny(modelID, effortPatterns)
}

// HasSuffix reports whether modelID requests the reasoning variant.
func HasSuffix(modelID string) bool {
	return strings.HasSuffix(modelID, Suffix)
}

// StripSuffix removes a trailing Suffix, if any.
func StripSuffix(modelID string) string {
	return strings.TrimSuffix(modelID, Suffix)
}

// Variant returns the reasoning variant identifier of modelID.
func Variant(modelID string) string {
	if HasSuffix(modelID) {
		return modelID
	}
	return modelID + Suffix
}

func containsAny(s string, patterns []string) bool {
	s = strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
