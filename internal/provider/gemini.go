package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	geminiAPIBase      = "https://generativelanguage.googleapis.com/v1beta/models"
	geminiDefaultModel = "gemini-2.0-flash"
)

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
	Config   *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenCfg struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Gemini encodes the model in the URL path rather than the body.
var geminiSpec = spec{
	endpoint: func(_ Options, model, _ string) string {
		return geminiAPIBase + "/" + model + ":generateContent"
	},
	defaultModel: geminiDefaultModel,
	headers: func(h http.Header, credential string) {
		h.Set("Content-Type", "application/json")
		h.Set("x-goog-api-key", credential)
	},
	body: func(_, _, prompt string, maxTokens int) any {
		return geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
			Config:   &geminiGenCfg{MaxOutputTokens: maxTokens},
		}
	},
	extract: func(data []byte) (string, error) {
		var resp geminiResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", fmt.Errorf("decode gemini response: %w", err)
		}
		if len(resp.Candidates) == 0 {
			return "", fmt.Errorf("gemini response carried no candidates")
		}
		var parts []string
		for _, p := range resp.Candidates[0].Content.Parts {
			parts = append(parts, p.Text)
		}
		return strings.Join(parts, ""), nil
	},
}
