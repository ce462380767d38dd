package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		modelID      string
		outputTokens int
		want         Decision
	}{
		{
			name:         "effort model with suffix",
			modelID:      "openai/o3:reasoning",
			outputTokens: 500,
			want: Decision{
				BaseModel:   "openai/o3",
				IsReasoning: true,
				Mode:        ModeEffort,
				Effort:      EffortHigh,
			},
		},
		{
			name:         "budget model with suffix",
			modelID:      "deepseek/deepseek-r1:reasoning",
			outputTokens: 4000,
			want: Decision{
				BaseModel:    "deepseek/deepseek-r1",
				IsReasoning:  true,
				Mode:         ModeBudget,
				BudgetTokens: 4000,
			},
		},
		{
			name:         "capable model without suffix",
			modelID:      "deepseek/deepseek-r1",
			outputTokens: 4000,
			want:         Decision{BaseModel: "deepseek/deepseek-r1", Mode: ModeNone},
		},
		{
			name:         "suffix on non-reasoning model is stripped",
			modelID:      "openai/gpt-4o:reasoning",
			outputTokens: 1000,
			want:         Decision{BaseModel: "openai/gpt-4o", Mode: ModeNone},
		},
		{
			name:         "case-insensitive match",
			modelID:      "Anthropic/Claude-Sonnet-4:reasoning",
			outputTokens: 100,
			want: Decision{
				BaseModel:    "Anthropic/Claude-Sonnet-4",
				IsReasoning:  true,
				Mode:         ModeBudget,
				BudgetTokens: MinBudgetTokens,
			},
		},
		{
			name:         "pattern is not prefix anchored",
			modelID:      "google/gemini-2.5-flash-preview:reasoning",
			outputTokens: 64000,
			want: Decision{
				BaseModel:    "google/gemini-2.5-flash-preview",
				IsReasoning:  true,
				Mode:         ModeBudget,
				BudgetTokens: MaxBudgetTokens,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.modelID, tt.outputTokens))
		})
	}
}

func TestDecision_MaxTokens(t *testing.T) {
	budget := Classify("deepseek/deepseek-r1:reasoning", 4000)
	assert.Equal(t, 8000, budget.MaxTokens(4000))

	effort := Classify("openai/o3:reasoning", 500)
	assert.Equal(t, 500, effort.MaxTokens(500))
	assert.Zero(t, effort.BudgetTokens)

	none := Classify("openai/gpt-4o", 700)
	assert.Equal(t, 700, none.MaxTokens(700))
}

func TestBudget_Bounds(t *testing.T) {
	prev := 0
	for n := -10; n <= 40000; n += 37 {
		b := Budget(n)
		assert.GreaterOrEqual(t, b, MinBudgetTokens, "n=%d", n)
		assert.LessOrEqual(t, b, MaxBudgetTokens, "n=%d", n)
		assert.GreaterOrEqual(t, b, prev, "budget must not decrease (n=%d)", n)
		prev = b
	}
}

func TestBudget_Values(t *testing.T) {
	assert.Equal(t, MinBudgetTokens, Budget(0))
	assert.Equal(t, MinBudgetTokens, Budget(1023))
	assert.Equal(t, 1025, Budget(1025))
	assert.Equal(t, 32000, Budget(32000))
	assert.Equal(t, MaxBudgetTokens, Budget(1_000_000))
}

func TestClassify_EffortPatternsAlwaysEffort(t *testing.T) {
	for _, id := range []string{"openai/o1-preview", "o3-mini", "openai/gpt-5", "x-ai/grok-4", "o4-mini-high"} {
		d := Classify(Variant(id), 2000)
		assert.Equal(t, ModeEffort, d.Mode, id)
	}
}

func TestClassify_OtherCapableModelsUseBudget(t *testing.T) {
	for _, id := range []string{"deepseek/deepseek-r1", "qwen/qwq-32b", "anthropic/claude-opus-4", "mistralai/magistral-medium"} {
		d := Classify(Variant(id), 2000)
		assert.Equal(t, ModeBudget, d.Mode, id)
		assert.Equal(t, 2000, d.BudgetTokens, id)
	}
}

func TestStripSuffix_RoundTrip(t *testing.T) {
	for _, id := range []string{"openai/o3", "deepseek/deepseek-r1", "llama3:8b", ""} {
		assert.Equal(t, id, StripSuffix(id+Suffix))
		assert.Equal(t, id+Suffix, Variant(id))
		assert.Equal(t, id+Suffix, Variant(Variant(id)))
	}
}
