package provider

import (
	"encoding/json"
	"strings"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

// fallbackSummary is used when the completion text contains no parseable
// JSON. The result is degraded but valid; parse failure is never a hard error.
const fallbackSummary = "AI response received (unstructured)"

const defaultConfidence = 0.5

// recommendationPayload is the structured object models are asked to emit.
type recommendationPayload struct {
	Recommendation string    `json:"recommendation"`
	Confidence     *float64  `json:"confidence"`
	KnownService   string    `json:"known_service"`
	Summary        string    `json:"summary"`
	Details        string    `json:"details"`
	Risks          []string  `json:"risks"`
}

// parseAnalysis extracts a recommendation object from free-form completion
// text. It takes the span from the first '{' to the last '}' and parses it as
// JSON; when no such span exists or the span fails to parse, it falls back to
// a placeholder summary with the full raw text as details.
func parseAnalysis(raw string) *domain.AIAnalysis {
	fallback := &domain.AIAnalysis{
		Recommendation: domain.RecommendUnknown,
		Confidence:     defaultConfidence,
		Summary:        fallbackSummary,
		Details:        raw,
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fallback
	}

	var payload recommendationPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return fallback
	}

	confidence := defaultConfidence
	if payload.Confidence != nil {
		confidence = clamp01(*payload.Confidence)
	}

	out := &domain.AIAnalysis{
		Recommendation: domain.ParseRecommendation(payload.Recommendation),
		Confidence:     confidence,
		Summary:        payload.Summary,
		Details:        payload.Details,
		Risks:          payload.Risks,
		KnownService:   payload.KnownService,
	}
	if out.Summary == "" {
		out.Summary = fallbackSummary
		if out.Details == "" {
			out.Details = raw
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
