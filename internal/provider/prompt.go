package provider

import (
	"strings"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

// buildPrompt renders the advisory prompt for one alert. The same prompt is
// reused verbatim for every credential attempted during one Analyze call so
// retries are prompt-stable.
func buildPrompt(alert *domain.ConnectionAlert, hints []KnownService) string {
	var b strings.Builder

	b.WriteString("You are a network security advisor. A desktop firewall intercepted an outbound connection and is asking the user whether to allow it.\n\n")
	b.WriteString("Connection details:\n")
	b.WriteString(alert.Describe())
	b.WriteString("\n\n")

	if block := hintBlock(hints); block != "" {
		b.WriteString(block)
		b.WriteString("\n")
	}

	b.WriteString("Assess the risk of allowing this connection. Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"recommendation": "allow" | "block" | "caution", "confidence": 0.0-1.0, "known_service": "name or empty", "summary": "one sentence", "details": "short paragraph", "risks": ["specific risk", ...]}` + "\n")

	return b.String()
}
