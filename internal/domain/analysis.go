package domain

import (
	"strings"
	"time"
)

// Recommendation is the advisory verdict for one connection alert. It is a
// closed set; Unknown is the safe default whenever parsing fails or no data
// is available.
type Recommendation string

const (
	RecommendAllow   Recommendation = "allow"
	RecommendBlock   Recommendation = "block"
	RecommendCaution Recommendation = "caution"
	RecommendUnknown Recommendation = "unknown"
)

// ParseRecommendation maps free-form model output to a Recommendation,
// case-insensitively. Anything unrecognized is Unknown.
func ParseRecommendation(s string) Recommendation {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return RecommendAllow
	case "block":
		return RecommendBlock
	case "caution":
		return RecommendCaution
	default:
		return RecommendUnknown
	}
}

// AIAnalysis is the result of one analysis attempt. Summary is never empty in
// a value handed to a consumer: when the model's prose contains no parseable
// JSON the client substitutes a placeholder summary and carries the raw text
// in Details.
type AIAnalysis struct {
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"` // 0.0–1.0
	Summary        string         `json:"summary"`
	Details        string         `json:"details"`
	Risks          []string       `json:"risks,omitempty"`
	KnownService   string         `json:"knownService,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`

	// SourceAlert is a non-owning back-reference to the alert analyzed.
	SourceAlert *ConnectionAlert `json:"-"`
}

// HistoryEntry is an immutable snapshot of one (alert, analysis) pair.
type HistoryEntry struct {
	ID        int64           `json:"id"`
	Alert     ConnectionAlert `json:"alert"`
	Analysis  AIAnalysis      `json:"analysis"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"createdAt"`
}
