package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/audio"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/media"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/transcribe"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/translate"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

type fakeAudio struct {
	mu      sync.Mutex
	err     error
	calls   int
	limit   time.Duration
	workDir string
}

func (f *fakeAudio) PrepareIn(ctx context.Context, workDir, videoPath string, denoise bool, durationLimit time.Duration) (*audio.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = durationLimit
	f.workDir = workDir
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(workDir, "prepared.wav")
	if err := os.WriteFile(path, []byte("RIFF0000WAVE"), 0644); err != nil {
		return nil, err
	}
	return &audio.Artifact{Path: path, Duration: 12.5, SampleRate: audio.TargetSampleRate, Denoised: denoise}, nil
}

type fakeTranscriber struct {
	mu       sync.Mutex
	language models.LanguageCode
	segments []models.Segment
	err      error
	calls    int

	// audioExisted records whether the artifact was on disk when transcribed
	audioExisted bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (*transcribe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	_, statErr := os.Stat(audioPath)
	f.audioExisted = statErr == nil
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Result{Language: f.language, Segments: models.CloneSegments(f.segments)}, nil
}

// fakeEngine prefixes each text with its target locale
type fakeEngine struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	// failOn rejects any call whose texts contain it
	failOn string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeEngine) TranslateBatch(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[dstLocale]++
	if f.fail[dstLocale] {
		return nil, errors.New("model unavailable")
	}
	for _, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("model rejected input")
		}
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = fmt.Sprintf("[%s] %s", dstLocale, text)
	}
	return out, nil
}

func (f *fakeEngine) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func englishTalk() []models.Segment {
	return []models.Segment{
		{Start: 0, End: 2.5, Text: "Welcome to the talk."},
		{Start: 2.5, End: 5, Text: "Today we deploy to AWS."},
		{Start: 5, End: 7, Text: "Thanks for watching."},
	}
}

type harness struct {
	orch       *Orchestrator
	audio      *fakeAudio
	transcribe *fakeTranscriber
	engine     *fakeEngine
	workDir    string
	outDir     string
	removed    map[string]int
	removedMu  sync.Mutex
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		audio:      &fakeAudio{},
		transcribe: &fakeTranscriber{language: "en", segments: englishTalk()},
		engine:     newFakeEngine(),
		workDir:    t.TempDir(),
		outDir:     t.TempDir(),
		removed:    map[string]int{},
	}
	opts.WorkDir = h.workDir
	opts.OutputDir = h.outDir
	caps := Capabilities{
		Audio:       h.audio,
		Transcriber: h.transcribe,
		Translator:  translate.NewTranslator(h.engine, nil),
	}
	h.orch = NewOrchestrator(caps, opts, nil)
	h.orch.removeAll = func(path string) error {
		h.removedMu.Lock()
		h.removed[path]++
		h.removedMu.Unlock()
		return os.RemoveAll(path)
	}
	return h
}

func (h *harness) request(langs ...models.LanguageCode) models.Request {
	return models.Request{VideoPath: "talk.mp4", TargetLanguages: langs}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readEntries(t *testing.T, path string) []subtitle.Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	entries, err := subtitle.Parse(f)
	require.NoError(t, err)
	return entries
}

func TestRunProducesSourceAndTargets(t *testing.T) {
	h := newHarness(t, Options{})

	summary, err := h.orch.Run(context.Background(), h.request("es", "fr"), WithRequestID("req-1"))
	require.NoError(t, err)

	assert.Equal(t, models.LanguageCode("en"), summary.SourceLanguage)
	assert.Equal(t, []models.LanguageCode{"es", "fr"}, summary.Succeeded)
	assert.Empty(t, summary.Failed)
	require.Len(t, summary.Artifacts, 3)

	outDir := filepath.Join(h.outDir, "req-1")
	assert.ElementsMatch(t, []string{"subtitles_en.srt", "subtitles_es.srt", "subtitles_fr.srt"}, listDir(t, outDir))

	es, ok := summary.Artifact("es")
	require.True(t, ok)
	entries := readEntries(t, es.Path)
	require.Len(t, entries, 3)
	assert.Equal(t, "[es_XX] Welcome to the talk.", entries[0].Text)
	assert.Equal(t, 2.5, entries[1].Start)
	assert.Equal(t, 5.0, entries[1].End)

	assert.Equal(t, []string{"Welcome to the talk.", "Today we deploy to AWS.", "Thanks for watching."}, summary.Preview)
	assert.Equal(t, 3, summary.SegmentCount)
	assert.InDelta(t, 12.5, summary.AudioSeconds, 1e-9)
}

func TestRunPartialFailure(t *testing.T) {
	h := newHarness(t, Options{FailurePolicy: FailurePolicyPartial})

	summary, err := h.orch.Run(context.Background(), h.request("es", "xx"))
	require.NoError(t, err)

	assert.Equal(t, []models.LanguageCode{"es"}, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, models.LanguageCode("xx"), summary.Failed[0].Language)
	assert.Equal(t, string(StateTranslating), summary.Failed[0].Stage)
	assert.Contains(t, summary.Failed[0].Error, "unsupported language")

	_, ok := summary.Artifact("xx")
	assert.False(t, ok)
	_, ok = summary.Artifact("es")
	assert.True(t, ok)
	assert.Equal(t, 1, h.engine.total())
}

func TestRunAbortPolicy(t *testing.T) {
	h := newHarness(t, Options{FailurePolicy: FailurePolicyAbort})

	summary, err := h.orch.Run(context.Background(), h.request("es", "xx"), WithRequestID("req-abort"))
	require.Error(t, err)
	assert.Nil(t, summary)

	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StateTranslating, stageErr.Stage)
	assert.Equal(t, models.LanguageCode("xx"), stageErr.Language)

	_, statErr := os.Stat(filepath.Join(h.outDir, "req-abort"))
	assert.True(t, os.IsNotExist(statErr), "no partial subtitle output")
}

func TestRunSkipsTargetMatchingSource(t *testing.T) {
	h := newHarness(t, Options{})

	summary, err := h.orch.Run(context.Background(), h.request("en", "fr"))
	require.NoError(t, err)

	assert.Equal(t, []models.LanguageCode{"en"}, summary.Skipped)
	assert.Equal(t, []models.LanguageCode{"fr"}, summary.Succeeded)
	assert.Equal(t, 1, h.engine.calls["fr_XX"])
	assert.Zero(t, h.engine.calls["en_XX"])

	en, ok := summary.Artifact("en")
	require.True(t, ok)
	assert.Equal(t, "subtitles_en.srt", filepath.Base(en.Path))
	assert.Equal(t, "Welcome to the talk.", readEntries(t, en.Path)[0].Text)
}

func TestRunWithoutTargets(t *testing.T) {
	h := newHarness(t, Options{})

	summary, err := h.orch.Run(context.Background(), h.request())
	require.NoError(t, err)

	assert.Empty(t, summary.Succeeded)
	require.Len(t, summary.Artifacts, 1)
	assert.Equal(t, models.LanguageCode("en"), summary.Artifacts[0].Language)
	assert.Zero(t, h.engine.total())
}

func TestRunFiltersEmptySegments(t *testing.T) {
	h := newHarness(t, Options{})
	h.transcribe.segments = []models.Segment{
		{Start: 0, End: 1, Text: "Hello"},
		{Start: 1, End: 2, Text: "   "},
		{Start: 2, End: 3, Text: "world"},
	}

	summary, err := h.orch.Run(context.Background(), h.request("es"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SegmentCount)
	assert.Equal(t, 1, summary.DroppedSegments)

	src, _ := summary.Artifact("en")
	entries := readEntries(t, src.Path)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Index)
	assert.Equal(t, 2, entries[1].Index)
	assert.Equal(t, "world", entries[1].Text)
}

func TestRunRecordsUntranslatedSegments(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.failOn = "deploy"

	summary, err := h.orch.Run(context.Background(), h.request("de"))
	require.NoError(t, err)

	assert.Equal(t, []models.LanguageCode{"de"}, summary.Succeeded)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, []int{1}, summary.Untranslated["de"])

	de, _ := summary.Artifact("de")
	entries := readEntries(t, de.Path)
	require.Len(t, entries, 3)
	assert.Equal(t, "[de_DE] Welcome to the talk.", entries[0].Text)
	assert.Equal(t, "Today we deploy to AWS.", entries[1].Text)
}

func TestRunFailsLanguageWhenNoSegmentTranslates(t *testing.T) {
	h := newHarness(t, Options{FailurePolicy: FailurePolicyPartial})
	h.engine.fail["de_DE"] = true

	summary, err := h.orch.Run(context.Background(), h.request("de", "es"))
	require.NoError(t, err)

	assert.Equal(t, []models.LanguageCode{"es"}, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, models.LanguageCode("de"), summary.Failed[0].Language)
	assert.Equal(t, string(StateTranslating), summary.Failed[0].Stage)
	assert.Contains(t, summary.Failed[0].Error, "no segment translated")
	assert.NotContains(t, summary.Untranslated, models.LanguageCode("de"))

	_, ok := summary.Artifact("de")
	assert.False(t, ok)
}

func TestRunPreservesTechnicalTerms(t *testing.T) {
	h := newHarness(t, Options{})
	var seen []string
	caps := h.orch.caps
	caps.Translator = translate.NewTranslator(translate.EngineFunc(func(ctx context.Context, texts []string, src, dst string) ([]string, error) {
		seen = append(seen, texts...)
		return texts, nil
	}), nil)
	h.orch.caps = caps

	req := h.request("es")
	req.PreserveTechnical = true
	summary, err := h.orch.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.NotContains(t, seen[1], "AWS")
	es, _ := summary.Artifact("es")
	assert.Equal(t, "Today we deploy to AWS.", readEntries(t, es.Path)[1].Text)
}

func TestRunDurationLimit(t *testing.T) {
	h := newHarness(t, Options{DefaultDurationLimit: 60 * time.Second})

	_, err := h.orch.Run(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, h.audio.limit)

	req := h.request()
	req.DurationLimit = 15 * time.Second
	_, err = h.orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, h.audio.limit)
}

func TestRunStageFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*harness)
		wantErr   error
		wantStage State
	}{
		{
			name:      "no audio track",
			setup:     func(h *harness) { h.audio.err = fmt.Errorf("%w: empty extraction", audio.ErrNoAudioTrack) },
			wantErr:   ErrNoAudioTrack,
			wantStage: StatePreparing,
		},
		{
			name:      "decode failure",
			setup:     func(h *harness) { h.audio.err = fmt.Errorf("%w: moov atom not found", audio.ErrVideoDecode) },
			wantErr:   ErrVideoDecode,
			wantStage: StatePreparing,
		},
		{
			name:      "transcription failure",
			setup:     func(h *harness) { h.transcribe.err = fmt.Errorf("%w: model crashed", transcribe.ErrTranscription) },
			wantErr:   ErrTranscription,
			wantStage: StateTranscribing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			tt.setup(h)

			summary, err := h.orch.Run(context.Background(), h.request("es"), WithRequestID("req-fail"))
			assert.Nil(t, summary)
			assert.ErrorIs(t, err, tt.wantErr)

			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.wantStage, stageErr.Stage)

			assert.Empty(t, listDir(t, h.workDir))
			assert.Empty(t, listDir(t, filepath.Join(h.outDir, "req-fail")))
			assert.Zero(t, h.engine.total())
		})
	}
}

func TestRunNoAudioStopsBeforeTranscription(t *testing.T) {
	// ffmpeg "succeeds" but writes nothing
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "ffprobe" {
			return []byte(`{"format":{"duration":"30"},"streams":[{"codec_type":"audio","codec_name":"aac"}]}`), nil
		}
		out := args[len(args)-1]
		if out == "-y" {
			out = args[len(args)-2]
		}
		return nil, os.WriteFile(out, nil, 0644)
	}
	ff := media.NewFFmpeg("ffmpeg", "ffprobe").WithCommandRunner(runner)

	h := newHarness(t, Options{})
	caps := h.orch.caps
	caps.Audio = audio.NewPreparer(ff, audio.Options{}, nil)
	h.orch.caps = caps

	_, err := h.orch.Run(context.Background(), h.request("es"))
	require.ErrorIs(t, err, ErrNoAudioTrack)
	assert.Zero(t, h.transcribe.calls)
	assert.Empty(t, listDir(t, h.workDir))
}

func TestRunCleansUpExactlyOnce(t *testing.T) {
	paths := func(t *testing.T, h *harness) []string {
		h.removedMu.Lock()
		defer h.removedMu.Unlock()
		var out []string
		for p, n := range h.removed {
			assert.Equal(t, 1, n, "removed %s %d times", p, n)
			out = append(out, p)
		}
		return out
	}

	t.Run("success", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.orch.Run(context.Background(), h.request("es"))
		require.NoError(t, err)

		assert.True(t, h.transcribe.audioExisted)
		assert.Len(t, paths(t, h), 2)
		assert.Empty(t, listDir(t, h.workDir))
	})

	t.Run("translation abort", func(t *testing.T) {
		h := newHarness(t, Options{FailurePolicy: FailurePolicyAbort})
		_, err := h.orch.Run(context.Background(), h.request("xx"))
		require.Error(t, err)

		assert.Len(t, paths(t, h), 2)
		assert.Empty(t, listDir(t, h.workDir))
	})

	t.Run("preparation failure", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.audio.err = audio.ErrAudioProcessing
		_, err := h.orch.Run(context.Background(), h.request("es"))
		require.Error(t, err)

		assert.Len(t, paths(t, h), 1)
		assert.Empty(t, listDir(t, h.workDir))
	})
}

func TestRunCancellation(t *testing.T) {
	t.Run("cancel flag after transcription", func(t *testing.T) {
		h := newHarness(t, Options{})
		var states []State
		checker := func(ctx context.Context) (bool, error) {
			return h.transcribe.calls > 0, nil
		}

		summary, err := h.orch.Run(context.Background(), h.request("es", "fr"),
			WithRequestID("req-cancel"),
			WithCancelChecker(checker),
			WithProgress(func(s State, _ models.LanguageCode, _ float64) { states = append(states, s) }),
		)
		assert.Nil(t, summary)
		assert.ErrorIs(t, err, ErrCancelled)

		assert.Equal(t, StateCancelled, states[len(states)-1])
		assert.Zero(t, h.engine.total())
		assert.Empty(t, listDir(t, h.workDir))
		assert.Empty(t, listDir(t, filepath.Join(h.outDir, "req-cancel")))
	})

	t.Run("context cancelled before start", func(t *testing.T) {
		h := newHarness(t, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.orch.Run(ctx, h.request("es"))
		assert.ErrorIs(t, err, ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, h.audio.calls)
		assert.Empty(t, listDir(t, h.workDir))
	})

	t.Run("checker error is ignored", func(t *testing.T) {
		h := newHarness(t, Options{})
		checker := func(ctx context.Context) (bool, error) {
			return false, errors.New("redis down")
		}

		_, err := h.orch.Run(context.Background(), h.request("es"), WithCancelChecker(checker))
		assert.NoError(t, err)
	})
}

func TestRunProgressTransitions(t *testing.T) {
	h := newHarness(t, Options{})
	var states []string
	var last float64

	_, err := h.orch.Run(context.Background(), h.request("es"), WithProgress(func(s State, lang models.LanguageCode, p float64) {
		states = append(states, strings.TrimSuffix(fmt.Sprintf("%s:%s", s, lang), ":"))
		assert.GreaterOrEqual(t, p, last)
		last = p
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"preparing",
		"transcribing",
		"emitting:en",
		"translating:es",
		"emitting:es",
		"done",
	}, states)
	assert.Equal(t, 1.0, last)
}

func TestRunRejectsEmptyPath(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.orch.Run(context.Background(), models.Request{})
	assert.ErrorIs(t, err, ErrVideoDecode)
	assert.Zero(t, h.audio.calls)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "no_audio_track", ErrorKind(&StageError{Stage: StatePreparing, Err: ErrNoAudioTrack}))
	assert.Equal(t, "cancelled", ErrorKind(fmt.Errorf("%w: %w", ErrCancelled, context.Canceled)))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: StateTranslating, Language: "xx", Err: ErrUnsupportedLanguage}
	assert.Equal(t, "translating (xx): unsupported language", err.Error())
	assert.Equal(t, "preparing: no audio track", (&StageError{Stage: StatePreparing, Err: ErrNoAudioTrack}).Error())
}
