// Package recognizer implements the provider-polymorphic streaming ASR
// client described in spec §4.2: one live duplex Session per connection,
// translating each provider's wire protocol into a common Partial/Final
// event shape.
package recognizer

import (
	"context"
	"errors"
	"fmt"

	"vhisper/internal/audiosource"
	"vhisper/internal/config"
)

// Sentinel errors classifying Connect/session failures, matching spec §7's
// AuthError / NetworkError / ProtocolError kinds.
var (
	ErrAuth     = errors.New("recognizer: authentication failed")
	ErrNetwork  = errors.New("recognizer: network error")
	ErrProtocol = errors.New("recognizer: protocol error")
)

// EventKind tags an Event as a running hypothesis update or a terminal one.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
)

// Event is the common shape every provider's wire protocol is normalized
// into. For EventPartial, Confirmed is the grown confirmed prefix and Stash
// is the remaining unconfirmed tail. For EventFinal, Text is the terminal
// hypothesis for the session (client EOS or server-side VAD final).
type Event struct {
	Kind      EventKind
	Confirmed string
	Stash     string
	Text      string
}

// Session is one connected recognizer instance (spec §3, Session). Its
// Events() sequence is lazy, finite, and non-restartable: it ends after at
// most one EventFinal.
type Session interface {
	// SendAudio writes chunk to the connection and returns once the write
	// completes, so it can block on the network. The providers in this
	// package keep no internal send queue; a failed write returns
	// ErrNetwork.
	SendAudio(chunk audiosource.Chunk) error

	// SendEOS signals end-of-utterance; the server is expected to answer
	// with exactly one terminal event.
	SendEOS() error

	// Events returns the session's event channel. It is closed once the
	// session has delivered its terminal event or failed.
	Events() <-chan Event

	// Close tears down the session immediately, discarding unsent audio
	// and unread events. Idempotent.
	Close() error
}

// Streamer is satisfied by providers capable of a live duplex session:
// Qwen, DashScope-Paraformer, and FunASR.
type Streamer interface {
	Connect(ctx context.Context) (Session, error)
}

// OneShot is satisfied by providers that only support buffer-then-transcribe
// semantics — in this system, OpenAI-Whisper (spec §4.2: "Whisper is invoked
// post-hoc with a buffered utterance").
type OneShot interface {
	Recognize(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

// Provider is the result of resolving an ASRConfig to an implementation.
// Exactly one of Streamer or OneShot is non-nil.
type Provider struct {
	Name     string
	Streamer Streamer
	OneShot  OneShot
}

// New resolves cfg.Provider to a concrete recognizer implementation.
func New(cfg config.ASRConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderQwen:
		if cfg.Qwen == nil {
			return Provider{}, fmt.Errorf("recognizer: asr.qwen config missing")
		}
		return Provider{Name: "qwen", Streamer: newQwenRecognizer(*cfg.Qwen)}, nil
	case config.ProviderDashScope:
		if cfg.DashScope == nil {
			return Provider{}, fmt.Errorf("recognizer: asr.dashscope config missing")
		}
		return Provider{Name: "dashscope-paraformer", Streamer: newParaformerRecognizer(*cfg.DashScope)}, nil
	case config.ProviderFunAsr:
		if cfg.FunAsr == nil {
			return Provider{}, fmt.Errorf("recognizer: asr.funasr config missing")
		}
		return Provider{Name: "funasr", Streamer: newFunASRRecognizer(*cfg.FunAsr)}, nil
	case config.ProviderOpenAIWhisper:
		if cfg.OpenAI == nil {
			return Provider{}, fmt.Errorf("recognizer: asr.openai config missing")
		}
		return Provider{Name: "whisper", OneShot: newWhisperRecognizer(*cfg.OpenAI)}, nil
	default:
		return Provider{}, fmt.Errorf("recognizer: unknown provider %q", cfg.Provider)
	}
}
