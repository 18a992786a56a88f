package transcribe

import (
	"context"
	"errors"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// ErrTranscription is returned when the speech-to-text capability fails
var ErrTranscription = errors.New("transcription failed")

// Transcript is what a backend hands back for one audio file
type Transcript struct {
	Language string
	Segments []models.Segment
	Duration float64
}

// Backend is a pluggable speech-to-text capability
type Backend interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// BackendFunc adapts a function to Backend
type BackendFunc func(ctx context.Context, audioPath string) (Transcript, error)

// Transcribe calls f
func (f BackendFunc) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	return f(ctx, audioPath)
}
