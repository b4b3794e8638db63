package recognizer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vhisper/internal/audiosource"
	"vhisper/internal/config"
)

// paraformerRecognizer speaks DashScope's header/payload run-task protocol
// for the Paraformer realtime model, grounded on
// original_source/src-tauri/src/asr/dashscope.rs. Audio after run-task is
// sent as raw binary frames, not JSON-wrapped, matching the original.
type paraformerRecognizer struct {
	cfg config.DashScopeASRConfig
}

func newParaformerRecognizer(cfg config.DashScopeASRConfig) *paraformerRecognizer {
	return &paraformerRecognizer{cfg: cfg}
}

type paraformerRequest struct {
	Header  paraformerHeader `json:"header"`
	Payload paraformerPayload `json:"payload"`
}

type paraformerHeader struct {
	Action    string `json:"action"`
	TaskID    string `json:"task_id"`
	Streaming string `json:"streaming"`
}

type paraformerPayload struct {
	TaskGroup  string                 `json:"task_group,omitempty"`
	Task       string                 `json:"task,omitempty"`
	Function   string                 `json:"function,omitempty"`
	Model      string                 `json:"model,omitempty"`
	Parameters *paraformerParameters  `json:"parameters,omitempty"`
	Input      map[string]interface{} `json:"input"`
}

type paraformerParameters struct {
	Format        string   `json:"format"`
	SampleRate    int      `json:"sample_rate"`
	LanguageHints []string `json:"language_hints,omitempty"`
}

type paraformerResponse struct {
	Header  paraformerRespHeader  `json:"header"`
	Payload *paraformerRespPayload `json:"payload"`
}

type paraformerRespHeader struct {
	Event        string `json:"event"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type paraformerRespPayload struct {
	Output *paraformerOutput `json:"output"`
}

type paraformerOutput struct {
	Sentence *paraformerSentence `json:"sentence"`
}

type paraformerSentence struct {
	Text        string `json:"text"`
	SentenceEnd bool   `json:"sentence_end"`
}

func (r *paraformerRecognizer) Connect(ctx context.Context) (Session, error) {
	header := http.Header{
		"Authorization": {"Bearer " + r.cfg.APIKey},
	}
	conn, _, err := dial(ctx, "wss://dashscope.aliyuncs.com/api-ws/v1/inference", header)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	langHints := []string{"zh", "en"}
	if r.cfg.Language != "" {
		langHints = []string{r.cfg.Language}
	}
	runTask := paraformerRequest{
		Header: paraformerHeader{Action: "run-task", TaskID: taskID, Streaming: "duplex"},
		Payload: paraformerPayload{
			TaskGroup: "audio",
			Task:      "asr",
			Function:  "recognition",
			Model:     r.cfg.Model,
			Parameters: &paraformerParameters{
				Format:        "pcm",
				SampleRate:    audiosource.SampleRate,
				LanguageHints: langHints,
			},
			Input: map[string]interface{}{},
		},
	}
	if err := conn.WriteJSON(runTask); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if err := waitParaformerTaskStarted(conn); err != nil {
		conn.Close()
		return nil, err
	}

	s := &paraformerSession{conn: conn, taskID: taskID, events: make(chan Event, 8)}
	go s.readLoop()
	return s, nil
}

func waitParaformerTaskStarted(conn *websocket.Conn) error {
	for {
		var resp paraformerResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		if resp.Header.ErrorCode != "" {
			return fmt.Errorf("%w: %s: %s", ErrProtocol, resp.Header.ErrorCode, resp.Header.ErrorMessage)
		}
		if resp.Header.Event == "task-started" {
			return nil
		}
	}
}

type paraformerSession struct {
	conn   *websocket.Conn
	taskID string
	events chan Event
}

func (s *paraformerSession) SendAudio(chunk audiosource.Chunk) error {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, int16ToPCMBytes(chunk.Samples)); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (s *paraformerSession) SendEOS() error {
	finish := paraformerRequest{
		Header:  paraformerHeader{Action: "finish-task", TaskID: s.taskID, Streaming: "duplex"},
		Payload: paraformerPayload{Input: map[string]interface{}{}},
	}
	if err := s.conn.WriteJSON(finish); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (s *paraformerSession) Events() <-chan Event { return s.events }

func (s *paraformerSession) Close() error { return s.conn.Close() }

func (s *paraformerSession) readLoop() {
	defer close(s.events)
	for {
		var resp paraformerResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			return
		}
		if resp.Header.ErrorCode != "" {
			return
		}
		switch resp.Header.Event {
		case "result-generated":
			if resp.Payload == nil || resp.Payload.Output == nil || resp.Payload.Output.Sentence == nil {
				continue
			}
			sentence := resp.Payload.Output.Sentence
			if sentence.SentenceEnd {
				s.events <- Event{Kind: EventFinal, Text: sentence.Text}
				return
			}
			s.events <- Event{Kind: EventPartial, Stash: sentence.Text}
		case "task-finished":
			return
		}
	}
}
