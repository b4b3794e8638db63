package enhancer

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"vhisper/internal/config"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openaiEnhancer corrects transcripts via OpenAI's chat completions API,
// grounded on golangllm-asr-llm-tts's ai/provider/llm/openai_compatible.go
// use of github.com/sashabaranov/go-openai as the client library.
type openaiEnhancer struct {
	client *openai.Client
	model  string
}

func newOpenAIEnhancer(cfg config.OpenAILLMConfig) *openaiEnhancer {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openaiEnhancer{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}
}

func (e *openaiEnhancer) Refine(ctx context.Context, text string) (string, error) {
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
