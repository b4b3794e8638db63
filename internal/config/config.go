// Package config parses and holds the configuration tree the host passes to
// the core: which ASR provider to stream to, the optional LLM enhancer, and
// presentation hints the core never inspects.
package config

import (
	"encoding/json"
	"fmt"
)

// ASR provider identifiers, matched case-sensitively against the JSON
// "provider" field.
const (
	ProviderQwen          = "Qwen"
	ProviderDashScope     = "DashScope"
	ProviderOpenAIWhisper = "OpenAIWhisper"
	ProviderFunAsr        = "FunAsr"
)

// LLM provider identifiers.
const (
	LLMProviderDashScope = "DashScope"
	LLMProviderOpenAI    = "OpenAI"
	LLMProviderOllama    = "Ollama"
)

// Config is the immutable configuration tree for one Pipeline. A Config is
// only ever replaced wholesale (see Pipeline.UpdateConfig); nothing mutates
// a Config in place once constructed.
type Config struct {
	ASR    ASRConfig       `json:"asr"`
	LLM    *LLMConfig      `json:"llm,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// ASRConfig selects exactly one streaming or one-shot recognizer provider.
// Only the variant block named by Provider needs to be populated.
type ASRConfig struct {
	Provider  string              `json:"provider"`
	Qwen      *QwenASRConfig      `json:"qwen,omitempty"`
	DashScope *DashScopeASRConfig `json:"dashscope,omitempty"`
	OpenAI    *WhisperASRConfig   `json:"openai,omitempty"`
	FunAsr    *FunASRConfig       `json:"funasr,omitempty"`
}

// QwenASRConfig configures the DashScope-hosted Qwen realtime endpoint.
type QwenASRConfig struct {
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// DashScopeASRConfig configures the DashScope Paraformer realtime endpoint.
type DashScopeASRConfig struct {
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// WhisperASRConfig configures OpenAI's one-shot Whisper transcription API.
type WhisperASRConfig struct {
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// FunASRConfig configures a self-hosted FunASR WebSocket endpoint.
type FunASRConfig struct {
	Endpoint string `json:"endpoint"`
	Language string `json:"language,omitempty"`
}

// LLMConfig selects the optional single-shot text enhancer.
type LLMConfig struct {
	Enabled   bool                `json:"enabled"`
	Provider  string              `json:"provider"`
	DashScope *DashScopeLLMConfig `json:"dashscope,omitempty"`
	OpenAI    *OpenAILLMConfig    `json:"openai,omitempty"`
	Ollama    *OllamaLLMConfig    `json:"ollama,omitempty"`
}

// DashScopeLLMConfig configures DashScope's OpenAI-compatible chat endpoint.
type DashScopeLLMConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// OpenAILLMConfig configures OpenAI's chat completions endpoint.
type OpenAILLMConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// OllamaLLMConfig configures a local Ollama server.
type OllamaLLMConfig struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

// OutputConfig carries presentation hints that are opaque to the core but
// typed here so a host can read back what it wrote.
type OutputConfig struct {
	RestoreClipboard bool `json:"restore_clipboard"`
	PasteDelayMs     int  `json:"paste_delay_ms"`
}

// defaultPasteDelayMs mirrors the default from the original source.
const defaultPasteDelayMs = 50

// Parse decodes a configuration JSON document as described in §6 of the
// spec and validates that the selected provider variant is present.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected provider variants carry the minimum
// required fields. It never mutates c.
func (c Config) Validate() error {
	switch c.ASR.Provider {
	case ProviderQwen:
		if c.ASR.Qwen == nil || c.ASR.Qwen.APIKey == "" {
			return fmt.Errorf("config: asr.qwen requires api_key")
		}
	case ProviderDashScope:
		if c.ASR.DashScope == nil || c.ASR.DashScope.APIKey == "" {
			return fmt.Errorf("config: asr.dashscope requires api_key")
		}
	case ProviderOpenAIWhisper:
		if c.ASR.OpenAI == nil || c.ASR.OpenAI.APIKey == "" {
			return fmt.Errorf("config: asr.openai requires api_key")
		}
	case ProviderFunAsr:
		if c.ASR.FunAsr == nil || c.ASR.FunAsr.Endpoint == "" {
			return fmt.Errorf("config: asr.funasr requires endpoint")
		}
	default:
		return fmt.Errorf("config: unknown asr.provider %q", c.ASR.Provider)
	}

	if c.LLM != nil && c.LLM.Enabled {
		switch c.LLM.Provider {
		case LLMProviderDashScope:
			if c.LLM.DashScope == nil || c.LLM.DashScope.APIKey == "" {
				return fmt.Errorf("config: llm.dashscope requires api_key")
			}
		case LLMProviderOpenAI:
			if c.LLM.OpenAI == nil || c.LLM.OpenAI.APIKey == "" {
				return fmt.Errorf("config: llm.openai requires api_key")
			}
		case LLMProviderOllama:
			if c.LLM.Ollama == nil || c.LLM.Ollama.Endpoint == "" {
				return fmt.Errorf("config: llm.ollama requires endpoint")
			}
		default:
			return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
		}
	}
	return nil
}

// OutputHints decodes the opaque "output" block into typed fields, applying
// the original source's defaults when the block is absent or partial.
func (c Config) OutputHints() OutputConfig {
	out := OutputConfig{RestoreClipboard: true, PasteDelayMs: defaultPasteDelayMs}
	if len(c.Output) == 0 {
		return out
	}
	_ = json.Unmarshal(c.Output, &out)
	return out
}

// LLMEnabled reports whether an Enhancer should run for this Config.
func (c Config) LLMEnabled() bool {
	return c.LLM != nil && c.LLM.Enabled
}
