package llm

import "unicode/utf8"

// charsPerToken is the heuristic used to estimate token counts from text length.
const charsPerToken = 4

// Pricing holds per-token prices used for cost estimates.
type Pricing struct {
	InputPerToken  float64 `yaml:"input_per_token" json:"input_per_token"`
	OutputPerToken float64 `yaml:"output_per_token" json:"output_per_token"`
}

// Telemetry summarizes one generation run across all of its attempts.
type Telemetry struct {
	Attempts         int     `json:"attempts"`
	Corrections      int     `json:"corrections"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
	Model            string  `json:"model,omitempty"`
	DurationMs       int64   `json:"durationMs"`
}

// EstimateTokens approximates the token count of s as characters / 4.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / charsPerToken
}

// Cost returns the estimated price of the given token counts.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*p.InputPerToken + float64(completionTokens)*p.OutputPerToken
}

// add accounts for one model call.
func (t *Telemetry) add(prompt Prompt, completion string, p Pricing) {
	pt := EstimateTokens(prompt.System) + EstimateTokens(prompt.User)
	ct := EstimateTokens(completion)
	t.PromptTokens += pt
	t.CompletionTokens += ct
	t.EstimatedCost += p.Cost(pt, ct)
}
