package recognizer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"vhisper/internal/audiosource"
	"vhisper/internal/config"
)

// qwenRecognizer connects to DashScope's OpenAI-Realtime-compatible endpoint
// for Qwen models, grounded on original_source/src-tauri/src/asr/qwen.rs.
// The session requests server_vad turn detection so the server itself emits
// an unsolicited transcription.completed event once it detects the speaker
// has stopped, which is what lets auto-reconnect ever trigger for this
// provider. An explicit input_audio_buffer.commit is still sent from
// SendEOS for a host-initiated stop, to flush a trailing fragment the
// server's own VAD hasn't yet decided is an utterance boundary; DashScope's
// endpoint accepts a manual commit alongside server_vad rather than
// rejecting it the way OpenAI's own realtime API does.
type qwenRecognizer struct {
	cfg config.QwenASRConfig
}

func newQwenRecognizer(cfg config.QwenASRConfig) *qwenRecognizer {
	return &qwenRecognizer{cfg: cfg}
}

type qwenSessionUpdateEvent struct {
	EventID string           `json:"event_id"`
	Type    string           `json:"type"`
	Session qwenSessionShape `json:"session"`
}

type qwenSessionShape struct {
	Modalities              []string                `json:"modalities"`
	InputAudioFormat        string                  `json:"input_audio_format"`
	SampleRate              int                     `json:"sample_rate"`
	InputAudioTranscription qwenTranscriptionShape  `json:"input_audio_transcription"`
	TurnDetection           *qwenTurnDetectionShape `json:"turn_detection"`
}

type qwenTranscriptionShape struct {
	Language string `json:"language"`
}

// qwenTurnDetectionShape requests server-side VAD so the server decides
// utterance boundaries on its own, independent of the client's commit.
type qwenTurnDetectionShape struct {
	Type string `json:"type"`
}

type qwenAudioAppendEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

type qwenAudioCommitEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

type qwenResponseEvent struct {
	Type       string           `json:"type"`
	Transcript string           `json:"transcript"`
	Error      *qwenErrorDetail `json:"error"`
}

type qwenErrorDetail struct {
	Message string `json:"message"`
}

func (r *qwenRecognizer) Connect(ctx context.Context) (Session, error) {
	url := fmt.Sprintf("wss://dashscope.aliyuncs.com/api-ws/v1/realtime?model=%s", r.cfg.Model)
	header := http.Header{
		"Authorization": {"Bearer " + r.cfg.APIKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}
	conn, _, err := dial(ctx, url, header)
	if err != nil {
		return nil, err
	}

	lang := r.cfg.Language
	if lang == "" {
		lang = "zh"
	}
	update := qwenSessionUpdateEvent{
		EventID: "event_0",
		Type:    "session.update",
		Session: qwenSessionShape{
			Modalities:       []string{"text"},
			InputAudioFormat: "pcm",
			SampleRate:       audiosource.SampleRate,
			InputAudioTranscription: qwenTranscriptionShape{
				Language: lang,
			},
			TurnDetection: &qwenTurnDetectionShape{Type: "server_vad"},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if err := waitQwenSessionReady(conn); err != nil {
		conn.Close()
		return nil, err
	}

	s := &qwenSession{
		conn:   conn,
		events: make(chan Event, 8),
		seq:    1,
	}
	go s.readLoop()
	return s, nil
}

func waitQwenSessionReady(conn *websocket.Conn) error {
	for {
		var resp qwenResponseEvent
		if err := conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		if resp.Error != nil {
			return fmt.Errorf("%w: %s", ErrProtocol, resp.Error.Message)
		}
		if resp.Type == "session.created" || resp.Type == "session.updated" {
			return nil
		}
	}
}

type qwenSession struct {
	conn   *websocket.Conn
	events chan Event
	seq    int
}

func (s *qwenSession) SendAudio(chunk audiosource.Chunk) error {
	audio := base64.StdEncoding.EncodeToString(int16ToPCMBytes(chunk.Samples))
	s.seq++
	evt := qwenAudioAppendEvent{
		EventID: eventID(&s.seq),
		Type:    "input_audio_buffer.append",
		Audio:   audio,
	}
	if err := s.conn.WriteJSON(evt); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (s *qwenSession) SendEOS() error {
	commit := qwenAudioCommitEvent{
		EventID: eventID(&s.seq),
		Type:    "input_audio_buffer.commit",
	}
	if err := s.conn.WriteJSON(commit); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (s *qwenSession) Events() <-chan Event { return s.events }

func (s *qwenSession) Close() error {
	return s.conn.Close()
}

func (s *qwenSession) readLoop() {
	defer close(s.events)
	for {
		var resp qwenResponseEvent
		if err := s.conn.ReadJSON(&resp); err != nil {
			return
		}
		if resp.Error != nil {
			return
		}
		switch resp.Type {
		case "conversation.item.input_audio_transcription.text":
			s.events <- Event{Kind: EventPartial, Confirmed: resp.Transcript}
		case "conversation.item.input_audio_transcription.completed":
			s.events <- Event{Kind: EventFinal, Text: resp.Transcript}
			return
		}
	}
}

// int16ToPCMBytes converts little-endian int16 samples to their raw byte
// form for base64/binary transmission.
func int16ToPCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
