package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// localizer runs one localization request
type localizer interface {
	Run(ctx context.Context, req models.Request, opts ...pipeline.RunOption) (*models.Summary, error)
}

type runOptions struct {
	languages []string
	denoise   bool
	preserve  bool
	quick     bool
	limit     time.Duration
	outDir    string
	json      bool
	verbose   bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <video>",
		Short: "Generate subtitles for a local video file",
		Long: `Extract the audio of a video, transcribe it and write subtitles_<lang>.srt
for the spoken language and for every --lang target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			logger, err := logging.NewLogger(logging.Config{Level: level, Format: "console", Output: "stderr"})
			if err != nil {
				return err
			}

			req := buildRequest(absPath, opts)

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			runner := ctx.newRunner(cfg, logger)
			summary, err := runner.Run(signalCtx, req, pipeline.WithProgress(progressPrinter(cmd.ErrOrStderr())))
			if err != nil {
				if errors.Is(err, pipeline.ErrCancelled) {
					return context.Canceled
				}
				return err
			}

			if opts.json {
				return writeJSON(cmd, summary)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSummary(summary))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.languages, "lang", "l", nil, "Target language codes (repeatable or comma separated)")
	flags.BoolVar(&opts.denoise, "denoise", false, "Reduce background noise before transcription")
	flags.BoolVar(&opts.preserve, "preserve", false, "Keep technical terms untranslated")
	flags.BoolVar(&opts.quick, "quick", false, fmt.Sprintf("Only process the first %d seconds", models.QuickProcessSeconds))
	flags.DurationVar(&opts.limit, "limit", 0, "Only process this much audio (overrides --quick)")
	flags.StringVarP(&opts.outDir, "out", "o", ".", "Directory for the subtitle files")
	flags.BoolVar(&opts.json, "json", false, "Print the summary as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline details to stderr")

	return cmd
}

func buildRequest(videoPath string, opts runOptions) models.Request {
	langs := make([]models.LanguageCode, 0, len(opts.languages))
	for _, l := range opts.languages {
		langs = append(langs, models.LanguageCode(l))
	}

	jobOpts := models.JobOptions{
		QuickProcess:         opts.quick,
		DurationLimitSeconds: int(opts.limit / time.Second),
	}

	return models.Request{
		VideoPath:         videoPath,
		Denoise:           opts.denoise,
		TargetLanguages:   langs,
		PreserveTechnical: opts.preserve,
		DurationLimit:     jobOpts.DurationLimit(),
		OutputDir:         opts.outDir,
	}
}

func progressPrinter(w io.Writer) pipeline.ProgressFunc {
	return func(state pipeline.State, lang models.LanguageCode, progress float64) {
		label := string(state)
		if lang != "" {
			label += " " + string(lang)
		}
		fmt.Fprintf(w, "[%3.0f%%] %s\n", progress*100, label)
	}
}

func renderSummary(s *models.Summary) string {
	rows := make([][]string, 0, len(s.Artifacts)+len(s.Failed)+len(s.Skipped))

	for _, a := range s.Artifacts {
		status := "translated"
		if a.Language == s.SourceLanguage {
			status = "source"
		}
		if n := len(s.Untranslated[a.Language]); n > 0 {
			status = fmt.Sprintf("translated (%d kept original)", n)
		}
		rows = append(rows, []string{string(a.Language), status, strconv.Itoa(a.Entries), a.Path})
	}
	for _, lang := range s.Skipped {
		rows = append(rows, []string{string(lang), "skipped", "", "same as source"})
	}
	for _, f := range s.Failed {
		rows = append(rows, []string{string(f.Language), "failed", "", f.Stage + ": " + f.Error})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source language: %s (%d segments, %.1fs of audio", s.SourceLanguage, s.SegmentCount, s.AudioSeconds)
	if s.Denoised {
		b.WriteString(", denoised")
	}
	b.WriteString(")\n")
	b.WriteString(renderTable(
		[]string{"Language", "Status", "Cues", "File"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
	b.WriteString("\n")

	if len(s.Preview) > 0 {
		b.WriteString("\nPreview:\n")
		for _, line := range s.Preview {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}
