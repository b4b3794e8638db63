// Package enhancer implements the optional single-shot text-correction step
// described in spec §4.3: a Final transcript is handed to one LLM provider
// with a fixed correction prompt, and the corrected text is substituted for
// the transcript if and only if the call succeeds within its deadline.
package enhancer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"vhisper/internal/config"
)

// refinePrompt is the system prompt sent ahead of every transcript, shared
// across providers the way original_source's traits::REFINE_PROMPT was
// shared across its LLM backends.
const refinePrompt = `You clean up speech-to-text transcripts. Fix obvious ` +
	`recognition errors, punctuation, and casing. Preserve the speaker's ` +
	`words and meaning exactly — do not summarize, answer, or add anything. ` +
	`Reply with only the corrected text, nothing else.`

// Timeout bounds every enhancement call (spec §4.3: enhancement must never
// stall the pipeline indefinitely).
const Timeout = 10 * time.Second

var (
	// ErrUnavailable means the configured provider could not be reached.
	ErrUnavailable = errors.New("enhancer: provider unavailable")
	// ErrRefused means the provider responded but refused or errored.
	ErrRefused = errors.New("enhancer: provider refused request")
)

// Enhancer corrects a single transcript. Implementations must respect ctx's
// deadline and must not mutate their input on error.
type Enhancer interface {
	Refine(ctx context.Context, text string) (string, error)
}

// New resolves cfg to a concrete Enhancer, or reports that the Pipeline
// should skip enhancement entirely (cfg == nil or cfg.Enabled == false).
func New(cfg *config.LLMConfig) (Enhancer, bool, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, false, nil
	}
	switch cfg.Provider {
	case config.LLMProviderDashScope:
		if cfg.DashScope == nil {
			return nil, false, fmt.Errorf("enhancer: llm.dashscope config missing")
		}
		return newDashScopeEnhancer(*cfg.DashScope), true, nil
	case config.LLMProviderOpenAI:
		if cfg.OpenAI == nil {
			return nil, false, fmt.Errorf("enhancer: llm.openai config missing")
		}
		return newOpenAIEnhancer(*cfg.OpenAI), true, nil
	case config.LLMProviderOllama:
		if cfg.Ollama == nil {
			return nil, false, fmt.Errorf("enhancer: llm.ollama config missing")
		}
		return newOllamaEnhancer(*cfg.Ollama), true, nil
	default:
		return nil, false, fmt.Errorf("enhancer: unknown provider %q", cfg.Provider)
	}
}

// RefineWithFallback runs e.Refine with Timeout and returns the original
// text unchanged if the enhancer errors or times out, matching spec §4.3's
// "enhancement failure never blocks delivery of the unrefined Final".
func RefineWithFallback(ctx context.Context, e Enhancer, text string) string {
	if e == nil || text == "" {
		return text
	}
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	refined, err := e.Refine(ctx, text)
	if err != nil {
		log.Printf("enhancer: refine failed, delivering unrefined transcript: %v", err)
		return text
	}
	if refined == "" {
		return text
	}
	return refined
}
