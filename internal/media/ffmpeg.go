package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// CommandRunner executes an external binary and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpeg wraps ffmpeg and ffprobe invocations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	run         CommandRunner
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         execRunner,
	}
}

// WithCommandRunner replaces the process runner (used by tests)
func (f *FFmpeg) WithCommandRunner(runner CommandRunner) *FFmpeg {
	clone := *f
	clone.run = runner
	return &clone
}

// FFmpegPath returns the configured ffmpeg binary
func (f *FFmpeg) FFmpegPath() string { return f.ffmpegPath }

// FFprobePath returns the configured ffprobe binary
func (f *FFmpeg) FFprobePath() string { return f.ffprobePath }

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Metadata holds media metadata extracted from ffprobe
type Metadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds container information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Duration   string `json:"duration"`
}

// DurationSeconds returns the container duration, or 0 when unknown
func (m *Metadata) DurationSeconds() float64 {
	if d, err := strconv.ParseFloat(m.Format.Duration, 64); err == nil {
		return d
	}
	for _, s := range m.Streams {
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// AudioStreams returns the audio streams in container order
func (m *Metadata) AudioStreams() []StreamInfo {
	var out []StreamInfo
	for _, s := range m.Streams {
		if s.CodecType == "audio" {
			out = append(out, s)
		}
	}
	return out
}

// Probe extracts metadata from a media file
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*Metadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	out, err := f.run(ctx, f.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(out, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// ExtractOptions holds options for pulling a PCM track out of a container
type ExtractOptions struct {
	InputPath  string
	OutputPath string
	SampleRate int
	Channels   int
	// MaxDuration truncates the input read; zero reads everything
	MaxDuration time.Duration
}

// DenoiseOptions holds options for the afftdn noise reduction pass
type DenoiseOptions struct {
	InputPath      string
	OutputPath     string
	SampleRate     int
	Channels       int
	NoiseFloor     float64
	NoiseReduction float64
}

// ExtractArgs builds the ffmpeg arguments for ExtractAudio. The duration
// limit is an input option so nothing past it is decoded.
func ExtractArgs(opts ExtractOptions) []string {
	inputArgs := ffmpeg.KwArgs{}
	if opts.MaxDuration > 0 {
		inputArgs["t"] = formatSeconds(opts.MaxDuration)
	}

	return ffmpeg.Input(opts.InputPath, inputArgs).
		Output(opts.OutputPath, pcmArgs(opts.SampleRate, opts.Channels, ffmpeg.KwArgs{
			"map": "0:a:0",
		})).
		OverWriteOutput().
		GetArgs()
}

// DenoiseArgs builds the ffmpeg arguments for Denoise
func DenoiseArgs(opts DenoiseOptions) []string {
	filter := fmt.Sprintf("afftdn=nf=%.1f:nr=%.1f", opts.NoiseFloor, opts.NoiseReduction)

	return ffmpeg.Input(opts.InputPath).
		Output(opts.OutputPath, pcmArgs(opts.SampleRate, opts.Channels, ffmpeg.KwArgs{
			"af": filter,
		})).
		OverWriteOutput().
		GetArgs()
}

func pcmArgs(sampleRate, channels int, extra ffmpeg.KwArgs) ffmpeg.KwArgs {
	if channels <= 0 {
		channels = 1
	}
	args := ffmpeg.KwArgs{
		"ac":     channels,
		"ar":     sampleRate,
		"acodec": "pcm_s16le",
		"format": "wav",
	}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

// ExtractAudio writes the first audio track of the input as 16-bit PCM WAV
func (f *FFmpeg) ExtractAudio(ctx context.Context, opts ExtractOptions) error {
	if _, err := f.run(ctx, f.ffmpegPath, ExtractArgs(opts)...); err != nil {
		return fmt.Errorf("audio extraction failed: %w", err)
	}
	return nil
}

// Denoise applies spectral noise reduction to a WAV file
func (f *FFmpeg) Denoise(ctx context.Context, opts DenoiseOptions) error {
	if _, err := f.run(ctx, f.ffmpegPath, DenoiseArgs(opts)...); err != nil {
		return fmt.Errorf("noise reduction failed: %w", err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
