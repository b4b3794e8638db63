package recognizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"vhisper/internal/audiosource"
	"vhisper/internal/config"
)

func TestNewSelectsProviderByConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.ASRConfig
		want string
	}{
		{"qwen", config.ASRConfig{Provider: config.ProviderQwen, Qwen: &config.QwenASRConfig{APIKey: "k", Model: "m"}}, "qwen"},
		{"dashscope", config.ASRConfig{Provider: config.ProviderDashScope, DashScope: &config.DashScopeASRConfig{APIKey: "k", Model: "m"}}, "dashscope-paraformer"},
		{"funasr", config.ASRConfig{Provider: config.ProviderFunAsr, FunAsr: &config.FunASRConfig{Endpoint: "ws://x"}}, "funasr"},
		{"whisper", config.ASRConfig{Provider: config.ProviderOpenAIWhisper, OpenAI: &config.WhisperASRConfig{APIKey: "k"}}, "whisper"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.cfg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Name != tc.want {
				t.Fatalf("Name = %q, want %q", p.Name, tc.want)
			}
		})
	}
}

func TestNewUnknownProviderErrors(t *testing.T) {
	_, err := New(config.ASRConfig{Provider: "NotAThing"})
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestNewMissingVariantErrors(t *testing.T) {
	_, err := New(config.ASRConfig{Provider: config.ProviderQwen})
	if err == nil {
		t.Fatalf("expected error when asr.qwen is nil")
	}
}

func TestMockRecognizerConnectSucceedsThenFails(t *testing.T) {
	r := NewMockRecognizer(nil, errors.New("boom"), nil)

	if _, err := r.Connect(context.Background()); err != nil {
		t.Fatalf("connect 1: %v", err)
	}
	if _, err := r.Connect(context.Background()); err == nil {
		t.Fatalf("connect 2: expected scripted error")
	}
	if _, err := r.Connect(context.Background()); err != nil {
		t.Fatalf("connect 3: %v", err)
	}
	if got := len(r.Sessions()); got != 2 {
		t.Fatalf("sessions created = %d, want 2", got)
	}
}

func TestMockSessionRecordsAudioAndEOS(t *testing.T) {
	r := NewMockRecognizer()
	sessAny, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sess := sessAny.(*MockSession)

	if err := sess.SendAudio(audiosource.Chunk{Samples: []int16{1, 2, 3}}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := sess.SendEOS(); err != nil {
		t.Fatalf("SendEOS: %v", err)
	}
	if !sess.EOSSent() {
		t.Fatalf("expected EOSSent")
	}
	if got := len(sess.Chunks()); got != 1 {
		t.Fatalf("chunks recorded = %d, want 1", got)
	}

	sess.Emit(Event{Kind: EventFinal, Text: "hello"})
	select {
	case e := <-sess.Events():
		if e.Text != "hello" {
			t.Fatalf("event text = %q", e.Text)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for emitted event")
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sess.Closed() {
		t.Fatalf("expected Closed")
	}
	// Close is idempotent.
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestInt16ToPCMBytesLittleEndian(t *testing.T) {
	got := int16ToPCMBytes([]int16{1, -1})
	want := []byte{0x01, 0x00, 0xff, 0xff}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}
