package recognizer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"vhisper/internal/config"
)

// whisperRecognizer is the system's only OneShot provider: OpenAI's
// /v1/audio/transcriptions REST endpoint has no streaming mode, so it is
// invoked once with a complete buffered utterance rather than through a
// live Session (spec §4.2). HTTP/multipart client style grounded on the
// teacher's internal/llm/ollama.go Client.
type whisperRecognizer struct {
	cfg        config.WhisperASRConfig
	httpClient *http.Client
}

const whisperTimeout = 30 * time.Second

func newWhisperRecognizer(cfg config.WhisperASRConfig) *whisperRecognizer {
	return &whisperRecognizer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: whisperTimeout},
	}
}

type whisperTranscriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *whisperRecognizer) Recognize(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := writeWAV(part, pcm, sampleRate); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	model := r.cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	if err := writer.WriteField("model", model); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if r.cfg.Language != "" {
		if err := writer.WriteField("language", r.cfg.Language); err != nil {
			return "", fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: whisper http %d: %s", ErrAuth, resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: whisper http %d: %s", ErrProtocol, resp.StatusCode, raw)
	}

	var result whisperTranscriptionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrProtocol, result.Error.Message)
	}

	log.Printf("recognizer: whisper transcribed %d samples in %v", len(pcm), time.Since(start).Round(time.Millisecond))
	return result.Text, nil
}

// writeWAV encodes pcm as a minimal mono 16-bit PCM WAV container. OpenAI's
// endpoint also accepts raw PCM, but WAV carries the sample rate so no
// out-of-band metadata is needed (original_source chose WAV for the same
// reason when targeting this endpoint).
func writeWAV(w io.Writer, pcm []int16, sampleRate int) error {
	dataSize := len(pcm) * 2
	byteRate := sampleRate * 2

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], 2) // block align
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(int16ToPCMBytes(pcm))
	return err
}
