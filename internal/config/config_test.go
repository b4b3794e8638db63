package config

import "testing"

func TestParseQwenMinimal(t *testing.T) {
	data := []byte(`{"asr":{"provider":"Qwen","qwen":{"api_key":"k","model":"qwen3-asr-flash-realtime"}}}`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ASR.Provider != ProviderQwen {
		t.Fatalf("provider = %q, want %q", cfg.ASR.Provider, ProviderQwen)
	}
	if cfg.ASR.Qwen == nil || cfg.ASR.Qwen.APIKey != "k" {
		t.Fatalf("qwen config not decoded: %+v", cfg.ASR.Qwen)
	}
	if cfg.LLMEnabled() {
		t.Fatalf("LLMEnabled() = true, want false (no llm block)")
	}
}

func TestParseMissingAPIKeyRejected(t *testing.T) {
	data := []byte(`{"asr":{"provider":"Qwen","qwen":{"model":"x"}}}`)
	if _, err := Parse(data); err == nil {
		t.Fatalf("Parse: expected error for missing api_key")
	}
}

func TestParseUnknownProviderRejected(t *testing.T) {
	data := []byte(`{"asr":{"provider":"Bogus"}}`)
	if _, err := Parse(data); err == nil {
		t.Fatalf("Parse: expected error for unknown provider")
	}
}

func TestParseLLMEnabledRequiresVariant(t *testing.T) {
	data := []byte(`{
		"asr":{"provider":"Qwen","qwen":{"api_key":"k"}},
		"llm":{"enabled":true,"provider":"Ollama"}
	}`)
	if _, err := Parse(data); err == nil {
		t.Fatalf("Parse: expected error for llm.ollama missing endpoint")
	}
}

func TestParseLLMDisabledIgnoresMissingVariant(t *testing.T) {
	data := []byte(`{
		"asr":{"provider":"Qwen","qwen":{"api_key":"k"}},
		"llm":{"enabled":false,"provider":"Ollama"}
	}`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LLMEnabled() {
		t.Fatalf("LLMEnabled() = true, want false")
	}
}

func TestOutputHintsDefaults(t *testing.T) {
	cfg := Config{}
	hints := cfg.OutputHints()
	if !hints.RestoreClipboard || hints.PasteDelayMs != defaultPasteDelayMs {
		t.Fatalf("OutputHints() = %+v, want defaults", hints)
	}
}

func TestOutputHintsOverride(t *testing.T) {
	cfg := Config{Output: []byte(`{"restore_clipboard":false,"paste_delay_ms":10}`)}
	hints := cfg.OutputHints()
	if hints.RestoreClipboard || hints.PasteDelayMs != 10 {
		t.Fatalf("OutputHints() = %+v, want overridden values", hints)
	}
}

func TestUnknownOutputKeysIgnored(t *testing.T) {
	data := []byte(`{
		"asr":{"provider":"Qwen","qwen":{"api_key":"k"}},
		"output":{"restore_clipboard":true,"paste_delay_ms":50,"theme":"dark"}
	}`)
	if _, err := Parse(data); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}
