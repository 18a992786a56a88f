package pipeline

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/audio"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/transcribe"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/translate"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// Stage errors, re-exported so callers only import pipeline
var (
	ErrVideoDecode         = audio.ErrVideoDecode
	ErrNoAudioTrack        = audio.ErrNoAudioTrack
	ErrAudioProcessing     = audio.ErrAudioProcessing
	ErrTranscription       = transcribe.ErrTranscription
	ErrUnsupportedLanguage = translate.ErrUnsupportedLanguage
	ErrTranslationBatch    = translate.ErrTranslationBatch
	ErrSubtitleWrite       = subtitle.ErrSubtitleWrite

	// ErrCancelled is returned when a request is cancelled between stages
	ErrCancelled = errors.New("request cancelled")
)

// StageError names the stage (and language, for per-language stages) in
// which a request failed
type StageError struct {
	Stage    State
	Language models.LanguageCode
	Err      error
}

func (e *StageError) Error() string {
	if e.Language != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Language, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error for metrics and API responses
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrVideoDecode):
		return "video_decode"
	case errors.Is(err, ErrNoAudioTrack):
		return "no_audio_track"
	case errors.Is(err, ErrAudioProcessing):
		return "audio_processing"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrUnsupportedLanguage):
		return "unsupported_language"
	case errors.Is(err, ErrTranslationBatch):
		return "translation"
	case errors.Is(err, ErrSubtitleWrite):
		return "subtitle_write"
	}
	return "internal"
}
