package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/audio"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/tracing"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// Failure policies for per-language errors
const (
	FailurePolicyPartial = config.FailurePolicyPartial
	FailurePolicyAbort   = config.FailurePolicyAbort
)

// SubtitlePrefix is prepended to the language code to name output files
const SubtitlePrefix = "subtitles_"

// DefaultPreviewSegments is the preview length when none is configured
const DefaultPreviewSegments = 5

// Options configures an Orchestrator
type Options struct {
	// OutputDir is the parent of per-request output directories
	OutputDir string
	// WorkDir is the parent of per-request scratch directories; empty means os.TempDir()
	WorkDir              string
	FailurePolicy        string
	PreviewSegments      int
	DefaultDurationLimit time.Duration
}

// OptionsFromConfig maps the pipeline and media configuration to Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutputDir:            cfg.Pipeline.OutputDir,
		WorkDir:              cfg.Media.TempDir,
		FailurePolicy:        cfg.Pipeline.FailurePolicy,
		PreviewSegments:      cfg.Pipeline.PreviewSegments,
		DefaultDurationLimit: cfg.Pipeline.DefaultDurationLimit,
	}
}

// Orchestrator runs localization requests against shared capabilities.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	caps      Capabilities
	opts      Options
	logger    *logging.Logger
	removeAll func(string) error
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(caps Capabilities, opts Options, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = FailurePolicyPartial
	}
	if opts.PreviewSegments <= 0 {
		opts.PreviewSegments = DefaultPreviewSegments
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	return &Orchestrator{
		caps:      caps,
		opts:      opts,
		logger:    logger,
		removeAll: os.RemoveAll,
	}
}

// run is the state of one request
type run struct {
	o        *Orchestrator
	cfg      RunConfig
	logger   *logging.Logger
	state    State
	cleanup  *cleanup
	outputs  []string
	ownedDir string // output directory created for this request
}

// Run processes one request: prepare audio, transcribe, emit the source
// subtitles, then translate and emit each target language in order.
//
// It returns either a complete summary or a single error; on error no
// subtitle file written by this call is left behind. Temporary audio is
// removed on every path.
func (o *Orchestrator) Run(ctx context.Context, req models.Request, opts ...RunOption) (summary *models.Summary, err error) {
	cfg := ApplyRunOptions(opts...)
	if cfg.RequestID == "" {
		cfg.RequestID = uuid.New().String()
	}

	r := &run{
		o:       o,
		cfg:     cfg,
		logger:  o.logger.WithRequestID(cfg.RequestID),
		state:   StateIdle,
		cleanup: newCleanup(o.removeAll, o.logger),
	}
	defer r.cleanup.Run()
	defer func() {
		if err == nil {
			return
		}
		r.discardOutputs()
		if errors.Is(err, ErrCancelled) {
			r.transition(StateCancelled, "", 1)
		} else {
			r.transition(StateFailed, "", 1)
		}
		metrics.RecordError("pipeline", ErrorKind(err))
		r.logger.WithError(err).Error("Localization request failed")
	}()

	span, ctx := tracing.StartSpan(ctx, "pipeline.run")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "request.id", cfg.RequestID)
	defer func() { tracing.LogError(span, err) }()

	if strings.TrimSpace(req.VideoPath) == "" {
		return nil, &StageError{Stage: StatePreparing, Err: fmt.Errorf("%w: empty video path", ErrVideoDecode)}
	}

	limit := req.DurationLimit
	if limit <= 0 {
		limit = o.opts.DefaultDurationLimit
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(o.opts.OutputDir, cfg.RequestID)
		r.ownedDir = outputDir
	}

	if o.opts.WorkDir != "" {
		if err := os.MkdirAll(o.opts.WorkDir, 0755); err != nil {
			return nil, &StageError{Stage: StatePreparing, Err: fmt.Errorf("%w: %w", ErrAudioProcessing, err)}
		}
	}
	workDir, err := os.MkdirTemp(o.opts.WorkDir, "globalsound-"+cfg.RequestID+"-")
	if err != nil {
		return nil, &StageError{Stage: StatePreparing, Err: fmt.Errorf("%w: %w", ErrAudioProcessing, err)}
	}
	r.cleanup.Track(workDir)

	// Audio
	if err := r.checkCancel(ctx); err != nil {
		return nil, err
	}
	r.transition(StatePreparing, "", 0.05)
	var artifact *audio.Artifact
	err = r.timed(ctx, "", func(ctx context.Context) error {
		var err error
		artifact, err = o.caps.Audio.PrepareIn(ctx, workDir, req.VideoPath, req.Denoise, limit)
		return err
	})
	if err != nil {
		return nil, r.fail(ctx, "", err)
	}
	r.cleanup.Track(artifact.Path)
	metrics.RecordAudioSeconds(artifact.Duration)

	// Transcription
	if err := r.checkCancel(ctx); err != nil {
		return nil, err
	}
	r.transition(StateTranscribing, "", 0.2)
	var segments []models.Segment
	var source models.LanguageCode
	err = r.timed(ctx, "", func(ctx context.Context) error {
		result, err := o.caps.Transcriber.Transcribe(ctx, artifact.Path)
		if err != nil {
			return err
		}
		source = result.Language
		segments = result.Segments
		return nil
	})
	if err != nil {
		return nil, r.fail(ctx, "", err)
	}

	segments, dropped := models.FilterSpeech(segments)
	metrics.RecordSegments(len(segments), dropped)
	r.logger.WithFields(map[string]interface{}{
		"source_language": source,
		"segments":        len(segments),
		"dropped":         dropped,
	}).Info("Transcription completed")

	summary = &models.Summary{
		SourceLanguage:  source,
		Succeeded:       []models.LanguageCode{},
		Artifacts:       []models.SubtitleArtifact{},
		Preview:         preview(segments, o.opts.PreviewSegments),
		SegmentCount:    len(segments),
		DroppedSegments: dropped,
		AudioSeconds:    artifact.Duration,
		Denoised:        artifact.Denoised,
	}

	emitter := subtitle.NewEmitter(outputDir)

	// Source subtitles
	if err := r.checkCancel(ctx); err != nil {
		return nil, err
	}
	r.transition(StateEmitting, source, 0.4)
	if err := r.emit(ctx, emitter, summary, source, segments); err != nil {
		return nil, r.fail(ctx, source, err)
	}

	// Targets
	targets := req.Targets()
	for i, lang := range targets {
		if err := r.checkCancel(ctx); err != nil {
			return nil, err
		}

		if lang == source {
			summary.Skipped = append(summary.Skipped, lang)
			metrics.RecordLanguage(string(lang), "skipped")
			r.logger.WithLanguage(string(lang)).Info("Target matches source language, reusing source subtitles")
			continue
		}

		progress := 0.4 + 0.6*float64(i)/float64(len(targets))
		if err := r.localize(ctx, emitter, summary, req, source, lang, segments, progress); err != nil {
			if errors.Is(err, ErrCancelled) || o.opts.FailurePolicy == FailurePolicyAbort {
				return nil, err
			}

			var stageErr *StageError
			stage := string(StateTranslating)
			if errors.As(err, &stageErr) {
				stage = string(stageErr.Stage)
			}
			summary.Failed = append(summary.Failed, models.LanguageFailure{
				Language: lang,
				Stage:    stage,
				Error:    err.Error(),
			})
			metrics.RecordLanguage(string(lang), "failed")
			r.logger.WithLanguage(string(lang)).WithError(err).Warn("Target language failed, continuing")
		}
	}

	r.transition(StateDone, "", 1)
	r.logger.WithFields(map[string]interface{}{
		"succeeded": len(summary.Succeeded),
		"failed":    len(summary.Failed),
		"skipped":   len(summary.Skipped),
	}).Info("Localization request completed")

	return summary, nil
}

// localize translates segments into lang and emits them
func (r *run) localize(ctx context.Context, emitter *subtitle.Emitter, summary *models.Summary, req models.Request, source, lang models.LanguageCode, segments []models.Segment, progress float64) error {
	r.transition(StateTranslating, lang, progress)

	var translated []models.Segment
	err := r.timed(ctx, lang, func(ctx context.Context) error {
		out, err := r.o.caps.Translator.Translate(ctx, segments, source, lang, req.PreserveTechnical)
		if err != nil {
			return err
		}
		translated = out.Segments
		if len(out.Untranslated) > 0 {
			metrics.RecordTranslationFallback(string(lang), len(out.Untranslated))
			r.logger.LogTranslationFallback(string(source), string(lang), len(out.Untranslated), out.BatchErr)
			// a track that is entirely source text is not a translation
			if len(out.Untranslated) == len(segments) {
				return fmt.Errorf("%w: no segment translated: %v", ErrTranslationBatch, out.BatchErr)
			}
			if summary.Untranslated == nil {
				summary.Untranslated = map[models.LanguageCode][]int{}
			}
			summary.Untranslated[lang] = out.Untranslated
		}
		return nil
	})
	if err != nil {
		return r.fail(ctx, lang, err)
	}

	r.transition(StateEmitting, lang, progress)
	if err := r.emit(ctx, emitter, summary, lang, translated); err != nil {
		return r.fail(ctx, lang, err)
	}
	summary.Succeeded = append(summary.Succeeded, lang)
	metrics.RecordLanguage(string(lang), "succeeded")
	return nil
}

func (r *run) emit(ctx context.Context, emitter *subtitle.Emitter, summary *models.Summary, lang models.LanguageCode, segments []models.Segment) error {
	return r.timed(ctx, lang, func(context.Context) error {
		path, err := emitter.Emit(SubtitlePrefix+string(lang), segments)
		if err != nil {
			return err
		}
		r.outputs = append(r.outputs, path)
		summary.Artifacts = append(summary.Artifacts, models.SubtitleArtifact{
			Language: lang,
			Path:     path,
			Entries:  len(segments),
		})
		return nil
	})
}

// timed runs one stage inside a span and records its duration
func (r *run) timed(ctx context.Context, lang models.LanguageCode, fn func(context.Context) error) error {
	stage := string(r.state)
	span, ctx := tracing.StartSpan(ctx, "pipeline."+stage)
	if lang != "" {
		tracing.SetTag(span, "language", string(lang))
	}
	started := time.Now()

	err := fn(ctx)

	elapsed := time.Since(started)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	metrics.RecordStage(stage, elapsed.Seconds(), err)
	logger := r.logger
	if lang != "" {
		logger = logger.WithLanguage(string(lang))
	}
	logger.LogStageDuration(stage, elapsed, err)
	return err
}

// fail wraps a stage error, turning context cancellation into ErrCancelled
func (r *run) fail(ctx context.Context, lang models.LanguageCode, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &StageError{Stage: r.state, Language: lang, Err: fmt.Errorf("%w: %w", ErrCancelled, ctxErr)}
	}
	return &StageError{Stage: r.state, Language: lang, Err: err}
}

// checkCancel consults the context and the out-of-band cancel checker
func (r *run) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: r.state, Err: fmt.Errorf("%w: %w", ErrCancelled, err)}
	}
	if r.cfg.CancelChecker == nil {
		return nil
	}
	cancelled, err := r.cfg.CancelChecker(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to check cancellation flag")
		return nil
	}
	if cancelled {
		return &StageError{Stage: r.state, Err: ErrCancelled}
	}
	return nil
}

func (r *run) transition(to State, lang models.LanguageCode, progress float64) {
	from := r.state
	r.state = to
	r.logger.LogStageTransition(string(from), string(to), string(lang), progress)
	if r.cfg.Progress != nil {
		r.cfg.Progress(to, lang, progress)
	}
}

// discardOutputs removes subtitle files written by a failed request
func (r *run) discardOutputs() {
	for _, path := range r.outputs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.WithError(err).WithField("path", path).Warn("Failed to remove subtitle output")
		}
	}
	r.outputs = nil
	if r.ownedDir != "" {
		_ = os.Remove(r.ownedDir)
	}
}

// preview returns the text of the first n segments
func preview(segments []models.Segment, n int) []string {
	if n > len(segments) {
		n = len(segments)
	}
	out := make([]string, 0, n)
	for _, seg := range segments[:n] {
		out = append(out, strings.TrimSpace(seg.Text))
	}
	return out
}
