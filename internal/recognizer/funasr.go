package recognizer

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"vhisper/internal/audiosource"
	"vhisper/internal/config"
)

// funASRRecognizer speaks the local FunASR WebSocket protocol, grounded on
// original_source/src-tauri/src/asr/funasr.rs. The endpoint is a ws:// or
// wss:// URL pointed at a self-hosted FunASR server; unlike the
// original's forced wss upgrade with a self-signed-cert TLS override, this
// client dials whatever scheme the operator configured (self-hosted FunASR
// is run on a trusted LAN, not the public internet).
type funASRRecognizer struct {
	cfg config.FunASRConfig
}

func newFunASRRecognizer(cfg config.FunASRConfig) *funASRRecognizer {
	return &funASRRecognizer{cfg: cfg}
}

type funASRStartMessage struct {
	ChunkSize     [3]int `json:"chunk_size"`
	ChunkInterval int    `json:"chunk_interval"`
	WavName       string `json:"wav_name"`
	WavFormat     string `json:"wav_format"`
	AudioFs       int    `json:"audio_fs"`
	ITN           bool   `json:"itn"`
	IsSpeaking    bool   `json:"is_speaking"`
}

type funASREndMessage struct {
	IsSpeaking bool `json:"is_speaking"`
}

type funASRResponse struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Mode    string `json:"mode"`
}

func (r *funASRRecognizer) Connect(ctx context.Context) (Session, error) {
	conn, _, err := dial(ctx, r.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	start := funASRStartMessage{
		ChunkSize:     [3]int{5, 10, 5},
		ChunkInterval: 10,
		WavName:       "audio",
		WavFormat:     "pcm",
		AudioFs:       audiosource.SampleRate,
		ITN:           true,
		IsSpeaking:    true,
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	s := &funASRSession{conn: conn, events: make(chan Event, 8)}
	go s.readLoop()
	return s, nil
}

type funASRSession struct {
	conn   *websocket.Conn
	events chan Event
}

func (s *funASRSession) SendAudio(chunk audiosource.Chunk) error {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, int16ToPCMBytes(chunk.Samples)); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (s *funASRSession) SendEOS() error {
	if err := s.conn.WriteJSON(funASREndMessage{IsSpeaking: false}); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (s *funASRSession) Events() <-chan Event { return s.events }

func (s *funASRSession) Close() error { return s.conn.Close() }

func (s *funASRSession) readLoop() {
	defer close(s.events)
	for {
		var resp funASRResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			return
		}
		if resp.IsFinal || resp.Mode == "offline" {
			s.events <- Event{Kind: EventFinal, Text: resp.Text}
			return
		}
		s.events <- Event{Kind: EventPartial, Stash: resp.Text}
	}
}
