package alert

import (
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

// defaultMinRawTexts is the low-information threshold: a capture with no IP
// and fewer raw strings than this is treated as a half-rendered window.
const defaultMinRawTexts = 5

// Extractor builds ConnectionAlerts from raw window text and tracks the last
// emitted alert for change detection.
type Extractor struct {
	minRawTexts int
	logger      *slog.Logger
	last        *domain.ConnectionAlert
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	MinRawTexts int
	Logger      *slog.Logger
}

func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.MinRawTexts <= 0 {
		cfg.MinRawTexts = defaultMinRawTexts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{minRawTexts: cfg.MinRawTexts, logger: cfg.Logger}
}

// Extract classifies every raw string and assembles a structured alert.
// First match wins per field; every string is retained verbatim in RawTexts
// with exact-match dedup, first-seen order. Extract never fails: unparseable
// strings are simply untyped.
func Extract(raw []string) *domain.ConnectionAlert {
	a := &domain.ConnectionAlert{
		ID:         uuid.NewString(),
		DetectedAt: time.Now(),
	}

	seen := make(map[string]struct{}, len(raw))
	for _, text := range raw {
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		a.RawTexts = append(a.RawTexts, text)

		switch Classify(text) {
		case FieldIPv4:
			if a.IPAddress == "" {
				a.IPAddress = strings.TrimSpace(text)
			}
		case FieldPortProtocol:
			if a.Port == "" {
				a.Port, a.Protocol = splitPortProtocol(text)
			}
		case FieldPID:
			if a.ProcessID == "" {
				a.ProcessID = strings.TrimSpace(text)
			}
		case FieldFilesystemPath:
			if a.ProcessPath == "" {
				a.ProcessPath = strings.TrimSpace(text)
				a.ProcessName = path.Base(a.ProcessPath)
			}
		case FieldURL:
			if a.ProcessArgs == "" {
				a.ProcessArgs = strings.TrimSpace(text)
			}
		case FieldReverseDNS:
			if a.ReverseDNS == "" {
				a.ReverseDNS = strings.TrimSuffix(strings.TrimSpace(text), ".")
			}
		}
	}
	return a
}

// IsDistinct reports whether candidate materially differs from previous.
// Only ipAddress, port, processName and processID participate; RawTexts is
// deliberately excluded so cosmetic UI changes inside the same alert (a
// dropdown flipping, say) do not re-trigger a notification. A nil previous is
// always distinct.
//
// Known false negative: a genuinely new alert that shares all four fields
// with its predecessor (same process reconnecting to the same destination)
// is not re-emitted.
func IsDistinct(candidate, previous *domain.ConnectionAlert) bool {
	if candidate == nil {
		return false
	}
	if previous == nil {
		return true
	}
	return candidate.IPAddress != previous.IPAddress ||
		candidate.Port != previous.Port ||
		candidate.ProcessName != previous.ProcessName ||
		candidate.ProcessID != previous.ProcessID
}

// Eligible reports whether a capture carries enough information to emit:
// an IP address, or more raw strings than the low-information threshold.
func (e *Extractor) Eligible(a *domain.ConnectionAlert) bool {
	if a == nil {
		return false
	}
	return a.IPAddress != "" || len(a.RawTexts) > e.minRawTexts
}

// Observe runs one capture through extraction and change detection. It
// returns the new alert when the capture is both eligible and distinct from
// the last emitted alert, replacing the comparison reference; otherwise nil.
func (e *Extractor) Observe(raw []string) *domain.ConnectionAlert {
	if len(raw) == 0 {
		return nil
	}
	candidate := Extract(raw)
	if !e.Eligible(candidate) {
		return nil
	}
	if !IsDistinct(candidate, e.last) {
		return nil
	}
	e.last = candidate
	e.logger.Debug("new alert extracted",
		"process", candidate.ProcessName,
		"ip", candidate.IPAddress,
		"port", candidate.Port,
	)
	return candidate
}

// Last returns the most recently emitted alert, or nil.
func (e *Extractor) Last() *domain.ConnectionAlert { return e.last }
