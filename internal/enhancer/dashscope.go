package enhancer

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"vhisper/internal/config"
)

const (
	defaultDashScopeModel   = "qwen-plus"
	dashScopeCompatibleBase = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// dashScopeEnhancer corrects transcripts via DashScope's OpenAI-compatible
// chat endpoint (the same base URL golangllm-asr-llm-tts's LLMStream posts
// to directly), reusing the go-openai client by pointing its BaseURL there
// instead of hand-rolling the SSE parsing that repo's LLMStream does.
type dashScopeEnhancer struct {
	client *openai.Client
	model  string
}

func newDashScopeEnhancer(cfg config.DashScopeLLMConfig) *dashScopeEnhancer {
	model := cfg.Model
	if model == "" {
		model = defaultDashScopeModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = dashScopeCompatibleBase
	return &dashScopeEnhancer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (e *dashScopeEnhancer) Refine(ctx context.Context, text string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: refinePrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrRefused)
	}
	return resp.Choices[0].Message.Content, nil
}
