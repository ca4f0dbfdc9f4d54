// Package provider classifies API credentials into provider identities and
// drives the multi-provider analysis client with ordered credential failover.
package provider

import (
	"net/http"
	"strings"
)

// Provider identifies one of the supported AI completion backends. It is a
// closed set: every credential maps to exactly one member, and each member
// carries a strategy record (endpoint, model, header/body shaping, response
// extraction) dispatched through a single lookup.
type Provider string

const (
	// ProviderRelay is the white-labeled Anthropic-compatible relay. It is
	// first in detection order and the fallback for unrecognized keys.
	ProviderRelay     Provider = "relay"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
)

const (
	relayKeyPrefix     = "sk-lulu-"
	anthropicKeyPrefix = "sk-ant-"
	// Anthropic OAuth access tokens get first-party CLI treatment, see
	// anthropic.go.
	anthropicOAuthPrefix = "sk-ant-oat"
	geminiKeyPrefix      = "AIza"
	openAIKeyPrefix      = "sk-"
	// Short generic-looking "sk-" strings are rejected to avoid false
	// positives; real OpenAI keys are much longer than this.
	openAIMinKeyLen = 20
)

// Detect classifies a credential by prefix, most specific first. It is a pure
// function: the same string always maps to the same provider. Unrecognized
// keys fall back to the relay, the first provider in detection order.
func Detect(credential string) Provider {
	switch {
	case strings.HasPrefix(credential, relayKeyPrefix):
		return ProviderRelay
	case strings.HasPrefix(credential, anthropicKeyPrefix):
		return ProviderAnthropic
	case strings.HasPrefix(credential, geminiKeyPrefix):
		return ProviderGemini
	case strings.HasPrefix(credential, openAIKeyPrefix) && len(credential) > openAIMinKeyLen:
		return ProviderOpenAI
	default:
		return ProviderRelay
	}
}

// IsValidKey accepts or rejects a CLI-supplied credential before it is
// persisted, using the same prefix set plus the length floor.
func IsValidKey(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	switch {
	case strings.HasPrefix(candidate, relayKeyPrefix),
		strings.HasPrefix(candidate, anthropicKeyPrefix),
		strings.HasPrefix(candidate, geminiKeyPrefix):
		return true
	case strings.HasPrefix(candidate, openAIKeyPrefix):
		return len(candidate) > openAIMinKeyLen
	default:
		return false
	}
}

// spec is one provider's wire strategy.
type spec struct {
	// endpoint builds the request URL from the registry options, wire model
	// and credential (Gemini encodes the model in the path).
	endpoint func(o Options, model, credential string) string
	// defaultModel is the wire model identifier used when the config does
	// not override it.
	defaultModel string
	// headers sets provider-specific auth and content headers.
	headers func(h http.Header, credential string)
	// body builds the provider-specific JSON request payload. The credential
	// participates because OAuth-shaped Anthropic tokens change the payload.
	body func(credential, model, prompt string, maxTokens int) any
	// extract pulls the completion text out of a 200 response body.
	extract func(data []byte) (string, error)
}

// Options tunes endpoints and models per provider without opening the enum.
type Options struct {
	// RelayAPIBase overrides the relay endpoint base URL.
	RelayAPIBase string
	// Models maps provider name → wire model identifier.
	Models map[string]string
}

// Spec returns the strategy record for p.
func Spec(p Provider) spec {
	return specs[p]
}

// Model resolves the wire model for p given the configured overrides.
func (o Options) Model(p Provider) string {
	if m, ok := o.Models[string(p)]; ok && m != "" {
		return m
	}
	return specs[p].defaultModel
}

var specs = map[Provider]spec{
	ProviderRelay:     relaySpec,
	ProviderAnthropic: anthropicSpec,
	ProviderGemini:    geminiSpec,
	ProviderOpenAI:    openAISpec,
}
