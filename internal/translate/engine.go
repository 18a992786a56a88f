package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Engine is the neural translation capability. TranslateBatch must return
// exactly one translation per input text, in input order.
type Engine interface {
	TranslateBatch(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, error)
}

// EngineFunc adapts a function to Engine
type EngineFunc func(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, error)

// TranslateBatch calls f
func (f EngineFunc) TranslateBatch(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, error) {
	return f(ctx, texts, srcLocale, dstLocale)
}

// HTTPConfig configures the HTTP translation engine
type HTTPConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

type httpEngine struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewHTTPEngine creates an engine backed by a JSON translation server
func NewHTTPEngine(cfg HTTPConfig) Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &httpEngine{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Texts   []string `json:"texts"`
	SrcLang string   `json:"src_lang"`
	TgtLang string   `json:"tgt_lang"`
	Model   string   `json:"model,omitempty"`
}

type translateResponse struct {
	Translations []string `json:"translations"`
	Error        string   `json:"error,omitempty"`
}

func (e *httpEngine) TranslateBatch(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, error) {
	payload, err := json.Marshal(translateRequest{
		Texts:   texts,
		SrcLang: srcLocale,
		TgtLang: dstLocale,
		Model:   e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("translation http %d: %s", resp.StatusCode, string(b))
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if tr.Error != "" {
		return nil, fmt.Errorf("translation engine error: %s", tr.Error)
	}

	return tr.Translations, nil
}
