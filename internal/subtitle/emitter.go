package subtitle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// ErrSubtitleWrite is returned for any failure producing a subtitle file
var ErrSubtitleWrite = errors.New("subtitle write failed")

// Extension of emitted files
const Extension = ".srt"

// FileName returns the deterministic artifact name for a prefix
func FileName(namePrefix string) string {
	return namePrefix + Extension
}

// Emitter writes segments as SRT files into a directory
type Emitter struct {
	dir string
}

// NewEmitter creates an emitter writing into dir
func NewEmitter(dir string) *Emitter {
	return &Emitter{dir: dir}
}

// Dir returns the output directory
func (e *Emitter) Dir() string {
	return e.dir
}

// Entries converts segments into 1-indexed cues in input order
func Entries(segments []models.Segment) []Entry {
	entries := make([]Entry, len(segments))
	for i, seg := range segments {
		entries[i] = Entry{
			Index: i + 1,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}
	return entries
}

// Emit writes <dir>/<namePrefix>.srt and returns its path. The file is
// written to a temporary name and renamed, so a reader sees either the
// previous file or the complete new one.
func (e *Emitter) Emit(namePrefix string, segments []models.Segment) (string, error) {
	if namePrefix == "" || strings.ContainsAny(namePrefix, `/\`) || namePrefix == "." || namePrefix == ".." {
		return "", fmt.Errorf("%w: invalid name prefix %q", ErrSubtitleWrite, namePrefix)
	}

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubtitleWrite, err)
	}

	finalPath := filepath.Join(e.dir, FileName(namePrefix))

	tmp, err := os.CreateTemp(e.dir, "."+namePrefix+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubtitleWrite, err)
	}
	tmpPath := tmp.Name()

	if err := writeAndSync(tmp, Entries(segments)); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %w", ErrSubtitleWrite, err)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %w", ErrSubtitleWrite, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %w", ErrSubtitleWrite, err)
	}

	return finalPath, nil
}

func writeAndSync(f *os.File, entries []Entry) error {
	if err := Write(f, entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
