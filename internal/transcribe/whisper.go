package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// WhisperConfig configures the HTTP whisper backend
type WhisperConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// whisperBackend talks to a whisper-compatible transcription server
// (OpenAI audio/transcriptions, faster-whisper-server, whisper.cpp server)
type whisperBackend struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewWhisperBackend creates a backend that posts audio to a whisper HTTP server
func NewWhisperBackend(cfg WhisperConfig) Backend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &whisperBackend{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type verboseJSON struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (w *whisperBackend) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Transcript{}, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if w.model != "" {
		if err := mw.WriteField("model", w.model); err != nil {
			return Transcript{}, err
		}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return Transcript{}, err
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcript{}, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return Transcript{}, err
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, &body)
	if err != nil {
		return Transcript{}, err
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return Transcript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Transcript{}, fmt.Errorf("whisper http %d: %s", resp.StatusCode, string(b))
	}

	var vr verboseJSON
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return Transcript{}, fmt.Errorf("failed to decode whisper response: %w", err)
	}

	t := Transcript{
		Language: vr.Language,
		Duration: vr.Duration,
		Segments: make([]models.Segment, 0, len(vr.Segments)),
	}
	for _, s := range vr.Segments {
		t.Segments = append(t.Segments, models.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return t, nil
}
