package enhancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vhisper/internal/config"
)

// ollamaEnhancer corrects transcripts with a local Ollama server's chat
// endpoint, grounded on the teacher's internal/llm/ollama.go Client, moved
// from /api/generate's single-prompt shape to /api/chat's system+user
// messages so refinePrompt can be sent as a system message instead of being
// concatenated into the prompt string.
type ollamaEnhancer struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

func newOllamaEnhancer(cfg config.OllamaLLMConfig) *ollamaEnhancer {
	return &ollamaEnhancer{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: Timeout},
	}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message *ollamaChatMessage `json:"message"`
	Error   string             `json:"error,omitempty"`
}

func (e *ollamaEnhancer) Refine(ctx context.Context, text string) (string, error) {
	req := ollamaChatRequest{
		Model: e.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: refinePrompt},
			{Role: "user", Content: text},
		},
		Stream: false,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrRefused, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama http %d: %s", ErrRefused, resp.StatusCode, raw)
	}

	var result ollamaChatResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRefused, err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrRefused, result.Error)
	}
	if result.Message == nil {
		return "", fmt.Errorf("%w: empty message in response", ErrRefused)
	}

	return strings.TrimSpace(result.Message.Content), nil
}

// IsAvailable reports whether the configured Ollama server is reachable,
// mirroring the teacher's Client.IsAvailable health check.
func (e *ollamaEnhancer) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
