package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/media"
)

// TargetSampleRate is the rate the transcription capability requires
const TargetSampleRate = 16000

// wavHeaderSize is the size of a canonical PCM WAV header
const wavHeaderSize = 44

var (
	// ErrVideoDecode is returned when the container cannot be read
	ErrVideoDecode = errors.New("video decode failed")
	// ErrNoAudioTrack is returned when there is no usable audio to transcribe
	ErrNoAudioTrack = errors.New("no audio track")
	// ErrAudioProcessing is returned when extraction, resampling or denoising fails
	ErrAudioProcessing = errors.New("audio processing failed")
)

// Denoise failure policies
const (
	DenoiseFailureContinue = "continue"
	DenoiseFailureAbort    = "abort"
)

// Artifact is a prepared mono PCM WAV file
type Artifact struct {
	Path       string
	Duration   float64
	SampleRate int
	Denoised   bool
}

// Options configures a Preparer
type Options struct {
	// WorkDir receives the prepared audio; empty means os.TempDir()
	WorkDir        string
	NoiseFloor     float64
	NoiseReduction float64
	DenoiseFailure string
}

// Preparer turns a video container into audio ready for transcription
type Preparer struct {
	ffmpeg *media.FFmpeg
	opts   Options
	logger *logging.Logger
}

// NewPreparer creates a new Preparer
func NewPreparer(ffmpeg *media.FFmpeg, opts Options, logger *logging.Logger) *Preparer {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.DenoiseFailure == "" {
		opts.DenoiseFailure = DenoiseFailureContinue
	}
	return &Preparer{
		ffmpeg: ffmpeg,
		opts:   opts,
		logger: logger,
	}
}

// Prepare extracts the first audio track of videoPath, truncated to
// durationLimit when it is positive, optionally denoised, as 16 kHz mono PCM.
// The returned artifact belongs to the caller.
func (p *Preparer) Prepare(ctx context.Context, videoPath string, denoise bool, durationLimit time.Duration) (*Artifact, error) {
	return p.PrepareIn(ctx, p.opts.WorkDir, videoPath, denoise, durationLimit)
}

// PrepareIn is Prepare writing into workDir instead of the configured one
func (p *Preparer) PrepareIn(ctx context.Context, workDir, videoPath string, denoise bool, durationLimit time.Duration) (*Artifact, error) {
	logger := p.logger.WithStage("preparing").WithField("video", filepath.Base(videoPath))

	meta, err := p.ffmpeg.Probe(ctx, videoPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrVideoDecode, err)
	}
	if len(meta.AudioStreams()) == 0 {
		return nil, fmt.Errorf("%w: %s has no audio streams", ErrNoAudioTrack, filepath.Base(videoPath))
	}

	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create work directory: %w", ErrAudioProcessing, err)
	}

	name := uuid.New().String()
	rawPath := filepath.Join(workDir, name+".wav")

	if err := p.ffmpeg.ExtractAudio(ctx, media.ExtractOptions{
		InputPath:   videoPath,
		OutputPath:  rawPath,
		SampleRate:  TargetSampleRate,
		Channels:    1,
		MaxDuration: durationLimit,
	}); err != nil {
		removeQuietly(rawPath)
		return nil, fmt.Errorf("%w: %w", ErrAudioProcessing, err)
	}

	artifact := &Artifact{
		Path:       rawPath,
		SampleRate: TargetSampleRate,
	}

	if denoise {
		cleanPath := filepath.Join(workDir, name+"-denoised.wav")
		err := p.ffmpeg.Denoise(ctx, media.DenoiseOptions{
			InputPath:      rawPath,
			OutputPath:     cleanPath,
			SampleRate:     TargetSampleRate,
			Channels:       1,
			NoiseFloor:     p.opts.NoiseFloor,
			NoiseReduction: p.opts.NoiseReduction,
		})
		switch {
		case err == nil:
			removeQuietly(rawPath)
			artifact.Path = cleanPath
			artifact.Denoised = true
		case p.opts.DenoiseFailure == DenoiseFailureAbort || ctx.Err() != nil:
			removeQuietly(cleanPath)
			removeQuietly(rawPath)
			return nil, fmt.Errorf("%w: %w", ErrAudioProcessing, err)
		default:
			removeQuietly(cleanPath)
			logger.WithError(err).Warn("Noise reduction failed, continuing with original audio")
		}
	}

	duration, err := p.verify(ctx, artifact.Path)
	if err != nil {
		removeQuietly(artifact.Path)
		return nil, err
	}
	artifact.Duration = duration

	logger.WithFields(map[string]interface{}{
		"duration": duration,
		"denoised": artifact.Denoised,
		"limit":    durationLimit.Seconds(),
	}).Info("Audio prepared")

	return artifact, nil
}

// verify rejects artifacts that carry no PCM samples
func (p *Preparer) verify(ctx context.Context, path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: prepared audio missing: %w", ErrAudioProcessing, err)
	}
	if info.Size() <= wavHeaderSize {
		return 0, fmt.Errorf("%w: prepared audio is empty", ErrNoAudioTrack)
	}

	meta, err := p.ffmpeg.Probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAudioProcessing, err)
	}
	duration := meta.DurationSeconds()
	if duration <= 0 {
		return 0, fmt.Errorf("%w: prepared audio has zero duration", ErrNoAudioTrack)
	}
	return duration, nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
