package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion   = "2023-06-01"
	anthropicOAuthBeta    = "oauth-2025-04-20"
	anthropicDefaultModel = "claude-3-5-haiku-20241022"

	defaultRelayAPIBase = "https://relay.lulu-companion.dev"
	relayDefaultModel   = "claude-3-5-haiku-20241022"

	// OAuth-shaped tokens are only honored for requests that identify as the
	// first-party CLI and lead with its system prompt block.
	claudeCLIUserAgent    = "claude-cli/1.0.44 (external, cli)"
	claudeCLISystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."
)

type anthropicRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    []anthropicSystem `json:"system,omitempty"`
	Messages  []anthropicMsg    `json:"messages"`
}

type anthropicSystem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func anthropicHeaders(h http.Header, credential string) {
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", anthropicAPIVersion)
	if strings.HasPrefix(credential, anthropicOAuthPrefix) {
		h.Set("Authorization", "Bearer "+credential)
		h.Set("anthropic-beta", anthropicOAuthBeta)
		h.Set("User-Agent", claudeCLIUserAgent)
		return
	}
	h.Set("x-api-key", credential)
}

// anthropicBody builds the messages payload. OAuth-shaped credentials must
// lead with the first-party CLI system block; the advisory prompt itself is
// unchanged either way.
func anthropicBody(credential, model, prompt string, maxTokens int) any {
	req := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMsg{{Role: "user", Content: prompt}},
	}
	if strings.HasPrefix(credential, anthropicOAuthPrefix) {
		req.System = []anthropicSystem{{Type: "text", Text: claudeCLISystemPrompt}}
	}
	return req
}

func anthropicExtract(data []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic response carried no text content")
	}
	return strings.Join(parts, ""), nil
}

var anthropicSpec = spec{
	endpoint: func(_ Options, _, _ string) string {
		return anthropicAPIURL
	},
	defaultModel: anthropicDefaultModel,
	headers:      anthropicHeaders,
	body:         anthropicBody,
	extract:      anthropicExtract,
}

// The relay speaks the Anthropic wire format at its own base URL and always
// authenticates with the named API-key header.
var relaySpec = spec{
	endpoint: func(o Options, _, _ string) string {
		base := o.RelayAPIBase
		if base == "" {
			base = defaultRelayAPIBase
		}
		return strings.TrimSuffix(base, "/") + "/v1/messages"
	},
	defaultModel: relayDefaultModel,
	headers: func(h http.Header, credential string) {
		h.Set("Content-Type", "application/json")
		h.Set("anthropic-version", anthropicAPIVersion)
		h.Set("x-api-key", credential)
	},
	body: func(credential, model, prompt string, maxTokens int) any {
		return anthropicRequest{
			Model:     model,
			MaxTokens: maxTokens,
			Messages:  []anthropicMsg{{Role: "user", Content: prompt}},
		}
	},
	extract: anthropicExtract,
}
