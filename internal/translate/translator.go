package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// ErrTranslationBatch is returned by the engine path when a whole batch
// fails. Translator recovers from it by translating segments one at a time.
var ErrTranslationBatch = errors.New("batch translation failed")

// Output is the result of translating one segment list
type Output struct {
	Segments []models.Segment
	// Untranslated holds indexes of segments that kept their original text
	Untranslated []int
	// BatchErr is the batch failure that triggered per-segment fallback
	BatchErr error
}

// Translator translates segment texts while protecting technical terms
type Translator struct {
	engine Engine
	logger *logging.Logger
}

// NewTranslator creates a translator over engine
func NewTranslator(engine Engine, logger *logging.Logger) *Translator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Translator{engine: engine, logger: logger}
}

// Translate returns segments with text translated from src to dst. The
// result has the same length and order as segments, with Start and End
// copied unchanged. Unsupported languages fail before any engine call.
func (t *Translator) Translate(ctx context.Context, segments []models.Segment, src, dst models.LanguageCode, preserve bool) (*Output, error) {
	srcLocale, err := Locale(src)
	if err != nil {
		return nil, err
	}
	dstLocale, err := Locale(dst)
	if err != nil {
		return nil, err
	}

	out := &Output{Segments: models.CloneSegments(segments)}
	if len(segments) == 0 {
		return out, nil
	}

	texts := make([]string, len(segments))
	maps := make([]PlaceholderMap, len(segments))
	for i, seg := range segments {
		if preserve {
			texts[i], maps[i] = Mask(seg.Text)
		} else {
			texts[i] = seg.Text
		}
	}

	translated, err := t.batch(ctx, texts, srcLocale, dstLocale)
	failed := make([]bool, len(texts))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		out.BatchErr = err
		t.logger.LogTranslationFallback(string(src), string(dst), len(texts), err)

		translated, failed, err = t.translateEach(ctx, texts, srcLocale, dstLocale)
		if err != nil {
			return nil, err
		}
	}

	for i := range out.Segments {
		if failed[i] {
			out.Untranslated = append(out.Untranslated, i)
			continue
		}
		text := translated[i]
		if preserve {
			text = Unmask(text, maps[i])
		}
		out.Segments[i].Text = strings.TrimSpace(text)
	}

	return out, nil
}

func (t *Translator) batch(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, error) {
	translated, err := t.engine.TranslateBatch(ctx, texts, srcLocale, dstLocale)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranslationBatch, err)
	}
	if len(translated) != len(texts) {
		return nil, fmt.Errorf("%w: engine returned %d translations for %d texts", ErrTranslationBatch, len(translated), len(texts))
	}
	return translated, nil
}

// translateEach translates texts one by one. A failing text is flagged and
// skipped; only cancellation stops the loop.
func (t *Translator) translateEach(ctx context.Context, texts []string, srcLocale, dstLocale string) ([]string, []bool, error) {
	translated := make([]string, len(texts))
	failed := make([]bool, len(texts))

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		result, err := t.batch(ctx, []string{text}, srcLocale, dstLocale)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			failed[i] = true
			t.logger.WithError(err).WithField("segment", i).Warn("Segment translation failed, keeping original text")
			continue
		}
		translated[i] = result[0]
	}

	return translated, failed, nil
}
