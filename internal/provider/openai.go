package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	openAIAPIURL       = "https://api.openai.com/v1/chat/completions"
	openAIDefaultModel = "gpt-4o-mini"
)

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

var openAISpec = spec{
	endpoint: func(_ Options, _, _ string) string {
		return openAIAPIURL
	},
	defaultModel: openAIDefaultModel,
	headers: func(h http.Header, credential string) {
		h.Set("Content-Type", "application/json")
		h.Set("Authorization", "Bearer "+credential)
	},
	body: func(_, model, prompt string, maxTokens int) any {
		return openAIRequest{
			Model:     model,
			MaxTokens: maxTokens,
			Messages:  []openAIMessage{{Role: "user", Content: prompt}},
		}
	},
	extract: func(data []byte) (string, error) {
		var resp openAIResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", fmt.Errorf("decode openai response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai response carried no choices")
		}
		return resp.Choices[0].Message.Content, nil
	},
}
