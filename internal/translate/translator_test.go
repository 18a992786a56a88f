package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// recordingEngine upper-cases every text and records each call
type recordingEngine struct {
	mu        sync.Mutex
	calls     [][]string
	locales   [][2]string
	failBatch bool
	failOn    string
	wrongLen  bool
}

func (e *recordingEngine) TranslateBatch(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, append([]string(nil), texts...))
	e.locales = append(e.locales, [2]string{srcLocale, dstLocale})

	if e.failBatch && len(texts) > 1 {
		return nil, errors.New("CUDA out of memory")
	}
	if e.wrongLen && len(texts) > 1 {
		return texts[:1], nil
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		if e.failOn != "" && strings.Contains(text, e.failOn) {
			return nil, errors.New("sequence too long")
		}
		out[i] = " [es] " + text + " "
	}
	return out, nil
}

func (e *recordingEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

var sample = []models.Segment{
	{Start: 0, End: 1.5, Text: "Install PyTorch first"},
	{Start: 1.5, End: 3.25, Text: "then train the GAN"},
	{Start: 3.25, End: 4.001, Text: "PyTorch runs on CUDA"},
}

func TestTranslatePreservesTerms(t *testing.T) {
	engine := &recordingEngine{}
	translator := NewTranslator(engine, nil)

	out, err := translator.Translate(context.Background(), sample, "en", "es", true)
	require.NoError(t, err)

	require.Equal(t, 1, engine.callCount())
	assert.Equal(t, [2]string{"en_XX", "es_XX"}, engine.locales[0])
	assert.Equal(t, []string{
		"Install __TERM0__ first",
		"then train the __TERM0__",
		"__TERM0__ runs on __TERM1__",
	}, engine.calls[0])

	assert.Equal(t, "[es] Install PyTorch first", out.Segments[0].Text)
	assert.Equal(t, "[es] then train the GAN", out.Segments[1].Text)
	assert.Equal(t, "[es] PyTorch runs on CUDA", out.Segments[2].Text)
	assert.Empty(t, out.Untranslated)
	assert.NoError(t, out.BatchErr)
}

func TestTranslateWithoutMasking(t *testing.T) {
	engine := &recordingEngine{}
	out, err := NewTranslator(engine, nil).Translate(context.Background(), sample, "en", "fr", false)
	require.NoError(t, err)

	assert.Equal(t, "Install PyTorch first", engine.calls[0][0])
	assert.Equal(t, [2]string{"en_XX", "fr_XX"}, engine.locales[0])
	assert.Equal(t, "[es] Install PyTorch first", out.Segments[0].Text)
}

func TestTranslatePreservesTiming(t *testing.T) {
	out, err := NewTranslator(&recordingEngine{}, nil).Translate(context.Background(), sample, "en", "de", true)
	require.NoError(t, err)

	require.Len(t, out.Segments, len(sample))
	for i := range sample {
		assert.Equal(t, sample[i].Start, out.Segments[i].Start)
		assert.Equal(t, sample[i].End, out.Segments[i].End)
	}
	// input is not modified
	assert.Equal(t, "Install PyTorch first", sample[0].Text)
}

func TestTranslateEmptyInput(t *testing.T) {
	engine := &recordingEngine{}
	out, err := NewTranslator(engine, nil).Translate(context.Background(), nil, "en", "es", true)
	require.NoError(t, err)

	assert.Empty(t, out.Segments)
	assert.Zero(t, engine.callCount())
}

func TestTranslateUnsupportedLanguage(t *testing.T) {
	tests := []struct {
		name     string
		src, dst models.LanguageCode
	}{
		{"unknown target", "en", "xx"},
		{"unknown source", "xx", "es"},
		{"empty target", "en", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &recordingEngine{}
			_, err := NewTranslator(engine, nil).Translate(context.Background(), sample, tt.src, tt.dst, true)

			assert.ErrorIs(t, err, ErrUnsupportedLanguage)
			assert.Zero(t, engine.callCount())
		})
	}
}

func TestTranslateBatchFallback(t *testing.T) {
	engine := &recordingEngine{failBatch: true}
	out, err := NewTranslator(engine, nil).Translate(context.Background(), sample, "en", "es", true)
	require.NoError(t, err)

	// one failed batch then one call per segment
	assert.Equal(t, 1+len(sample), engine.callCount())
	assert.ErrorIs(t, out.BatchErr, ErrTranslationBatch)
	assert.Equal(t, "[es] PyTorch runs on CUDA", out.Segments[2].Text)
	assert.Empty(t, out.Untranslated)
}

func TestTranslateFallbackKeepsOriginalOnSegmentFailure(t *testing.T) {
	engine := &recordingEngine{failBatch: true, failOn: "train"}
	out, err := NewTranslator(engine, nil).Translate(context.Background(), sample, "en", "es", true)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, out.Untranslated)
	assert.Equal(t, "then train the GAN", out.Segments[1].Text)
	assert.Equal(t, "[es] Install PyTorch first", out.Segments[0].Text)
	assert.Equal(t, "[es] PyTorch runs on CUDA", out.Segments[2].Text)
}

func TestTranslateLengthMismatchFallsBack(t *testing.T) {
	engine := &recordingEngine{wrongLen: true}
	out, err := NewTranslator(engine, nil).Translate(context.Background(), sample, "en", "es", false)
	require.NoError(t, err)

	assert.ErrorIs(t, out.BatchErr, ErrTranslationBatch)
	assert.Len(t, out.Segments, len(sample))
	assert.Equal(t, "[es] then train the GAN", out.Segments[1].Text)
}

func TestTranslateVanishedPlaceholder(t *testing.T) {
	engine := EngineFunc(func(ctx context.Context, texts []string, src, dst string) ([]string, error) {
		return []string{"  el modelo fue reescrito  "}, nil
	})

	out, err := NewTranslator(engine, nil).Translate(context.Background(), sample[:1], "en", "es", true)
	require.NoError(t, err)
	assert.Equal(t, "el modelo fue reescrito", out.Segments[0].Text)
}

func TestTranslateNoCrossSegmentLeakage(t *testing.T) {
	segments := []models.Segment{
		{Start: 0, End: 1, Text: "GPU memory"},
		{Start: 1, End: 2, Text: "CPU and GPU"},
	}
	// the engine swaps outputs between segments' placeholders verbatim
	engine := EngineFunc(func(ctx context.Context, texts []string, src, dst string) ([]string, error) {
		return []string{"__TERM0__ __TERM1__", "__TERM0__ __TERM1__"}, nil
	})

	out, err := NewTranslator(engine, nil).Translate(context.Background(), segments, "en", "ja", true)
	require.NoError(t, err)

	assert.Equal(t, "GPU __TERM1__", out.Segments[0].Text)
	assert.Equal(t, "CPU GPU", out.Segments[1].Text)
}

func TestTranslateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := EngineFunc(func(ctx context.Context, texts []string, src, dst string) ([]string, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := NewTranslator(engine, nil).Translate(ctx, sample, "en", "es", true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPEngine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en_XX", req.SrcLang)
		assert.Equal(t, "es_XX", req.TgtLang)

		out := make([]string, len(req.Texts))
		for i, text := range req.Texts {
			out[i] = "es:" + text
		}
		_ = json.NewEncoder(w).Encode(translateResponse{Translations: out})
	}))
	defer server.Close()

	engine := NewHTTPEngine(HTTPConfig{Endpoint: server.URL})
	out, err := engine.TranslateBatch(context.Background(), []string{"a", "b"}, "en_XX", "es_XX")
	require.NoError(t, err)
	assert.Equal(t, []string{"es:a", "es:b"}, out)
}

func TestHTTPEngineErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
		}))
		defer server.Close()

		_, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL}).TranslateBatch(context.Background(), []string{"a"}, "en_XX", "es_XX")
		assert.ErrorContains(t, err, "413")
	})

	t.Run("error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(translateResponse{Error: "unknown locale"})
		}))
		defer server.Close()

		_, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL}).TranslateBatch(context.Background(), []string{"a"}, "en_XX", "es_XX")
		assert.ErrorContains(t, err, "unknown locale")
	})
}

func TestLocale(t *testing.T) {
	locale, err := Locale(" ES ")
	require.NoError(t, err)
	assert.Equal(t, "es_XX", locale)

	locale, err = Locale("zh")
	require.NoError(t, err)
	assert.Equal(t, "zh_CN", locale)

	_, err = Locale("xx")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	assert.True(t, Supported("vi"))
	assert.False(t, Supported("xx"))
	assert.Len(t, Languages(), 14)
	assert.Equal(t, models.LanguageCode("ar"), Languages()[0].Code)
}
