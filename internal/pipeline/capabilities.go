package pipeline

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/audio"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/media"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/transcribe"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/translate"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// AudioPreparer extracts transcription-ready audio into workDir
type AudioPreparer interface {
	PrepareIn(ctx context.Context, workDir, videoPath string, denoise bool, durationLimit time.Duration) (*audio.Artifact, error)
}

// Transcriber turns audio into ordered segments and a source language
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*transcribe.Result, error)
}

// Translator translates segment texts between two languages
type Translator interface {
	Translate(ctx context.Context, segments []models.Segment, src, dst models.LanguageCode, preserve bool) (*translate.Output, error)
}

// Capabilities bundles the model and tool handles shared by every request.
// It is built once at startup and never mutated.
type Capabilities struct {
	Audio       AudioPreparer
	Transcriber Transcriber
	Translator  Translator
}

// NewCapabilities wires the ffmpeg, whisper and translation clients from cfg
func NewCapabilities(cfg *config.Config, logger *logging.Logger) Capabilities {
	ff := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)

	preparer := audio.NewPreparer(ff, audio.Options{
		WorkDir:        cfg.Media.TempDir,
		NoiseFloor:     cfg.Media.NoiseFloor,
		NoiseReduction: cfg.Media.NoiseReduction,
		DenoiseFailure: cfg.Pipeline.DenoiseFailure,
	}, logger)

	backend := transcribe.NewWhisperBackend(transcribe.WhisperConfig{
		Endpoint: cfg.Transcriber.Endpoint,
		Model:    cfg.Transcriber.Model,
		APIKey:   cfg.Transcriber.APIKey,
		Timeout:  cfg.Transcriber.Timeout,
	})

	engine := translate.NewHTTPEngine(translate.HTTPConfig{
		Endpoint: cfg.Translator.Endpoint,
		Model:    cfg.Translator.Model,
		APIKey:   cfg.Translator.APIKey,
		Timeout:  cfg.Translator.Timeout,
	})

	return Capabilities{
		Audio:       preparer,
		Transcriber: transcribe.NewService(backend, logger),
		Translator:  translate.NewTranslator(engine, logger),
	}
}
