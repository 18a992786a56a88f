package transcribe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// Result is the outcome of transcribing one audio artifact
type Result struct {
	Language models.LanguageCode
	Segments []models.Segment
	Duration float64
}

// Service wraps a Backend with ordering and error guarantees
type Service struct {
	backend Backend
	logger  *logging.Logger
}

// NewService creates a transcription service
func NewService(backend Backend, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{backend: backend, logger: logger}
}

// Transcribe runs the backend on audioPath. Segments come back ordered by
// start time with source order kept for ties. Any backend failure yields
// ErrTranscription and no segments.
func (s *Service) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	started := time.Now()

	t, err := s.backend.Transcribe(ctx, audioPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	lang := models.LanguageCode(t.Language).Normalize()
	if lang == "" {
		return nil, fmt.Errorf("%w: backend did not report a language", ErrTranscription)
	}

	segments := models.CloneSegments(t.Segments)
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	s.logger.WithStage("transcribing").WithFields(map[string]interface{}{
		"language":    string(lang),
		"segments":    len(segments),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("Transcription finished")

	return &Result{
		Language: lang,
		Segments: segments,
		Duration: t.Duration,
	}, nil
}
