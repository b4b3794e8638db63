package enhancer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"vhisper/internal/config"
)

func TestNewDisabledReturnsNoEnhancer(t *testing.T) {
	e, enabled, err := New(nil)
	if err != nil || enabled || e != nil {
		t.Fatalf("New(nil) = %v, %v, %v; want nil, false, nil", e, enabled, err)
	}

	e, enabled, err = New(&config.LLMConfig{Enabled: false})
	if err != nil || enabled || e != nil {
		t.Fatalf("New(disabled) = %v, %v, %v; want nil, false, nil", e, enabled, err)
	}
}

func TestNewMissingVariantErrors(t *testing.T) {
	_, _, err := New(&config.LLMConfig{Enabled: true, Provider: config.LLMProviderOllama})
	if err == nil {
		t.Fatalf("expected error when llm.ollama is nil")
	}
}

func TestNewUnknownProviderErrors(t *testing.T) {
	_, _, err := New(&config.LLMConfig{Enabled: true, Provider: "NotAThing"})
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestOllamaEnhancerRefineSendsSystemAndUserMessages(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: &ollamaChatMessage{Role: "assistant", Content: "  corrected text  "},
		})
	}))
	defer srv.Close()

	e := newOllamaEnhancer(config.OllamaLLMConfig{Endpoint: srv.URL, Model: "qwen2.5:0.5b"})
	got, err := e.Refine(context.Background(), "raw text")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if got != "corrected text" {
		t.Fatalf("Refine = %q, want %q", got, "corrected text")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages sent: %+v", gotReq.Messages)
	}
	if gotReq.Messages[1].Content != "raw text" {
		t.Fatalf("user message = %q, want %q", gotReq.Messages[1].Content, "raw text")
	}
}

func TestOllamaEnhancerRefineSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	e := newOllamaEnhancer(config.OllamaLLMConfig{Endpoint: srv.URL, Model: "m"})
	_, err := e.Refine(context.Background(), "text")
	if !errors.Is(err, ErrRefused) {
		t.Fatalf("err = %v, want wrapping ErrRefused", err)
	}
}

type stubEnhancer struct {
	out string
	err error
}

func (s stubEnhancer) Refine(ctx context.Context, text string) (string, error) {
	return s.out, s.err
}

func TestRefineWithFallbackReturnsOriginalOnError(t *testing.T) {
	got := RefineWithFallback(context.Background(), stubEnhancer{err: errors.New("down")}, "hello")
	if got != "hello" {
		t.Fatalf("got %q, want original text preserved on failure", got)
	}
}

func TestRefineWithFallbackReturnsRefinedOnSuccess(t *testing.T) {
	got := RefineWithFallback(context.Background(), stubEnhancer{out: "Hello."}, "hello")
	if got != "Hello." {
		t.Fatalf("got %q, want %q", got, "Hello.")
	}
}

func TestRefineWithFallbackPassesThroughNilEnhancer(t *testing.T) {
	got := RefineWithFallback(context.Background(), nil, "hello")
	if got != "hello" {
		t.Fatalf("got %q, want %q unchanged", got, "hello")
	}
}

func TestRefineWithFallbackEmptyTextSkipsCall(t *testing.T) {
	got := RefineWithFallback(context.Background(), stubEnhancer{out: "should not be used"}, "")
	if got != "" {
		t.Fatalf("got %q, want empty string short-circuited", got)
	}
}
