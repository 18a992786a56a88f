package subtitle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{3.25, "00:00:03,250"},
		{1.001, "00:00:01,001"},
		{0.0009, "00:00:00,000"},
		{59.9999, "00:00:59,999"},
		{61.2, "00:01:01,200"},
		{3725.042, "01:02:05,042"},
		{-2, "00:00:00,000"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatTimestamp(tt.seconds))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	v, err := ParseTimestamp(" 01:02:05,042 ")
	require.NoError(t, err)
	assert.InDelta(t, 3725.042, v, 1e-9)

	v, err = ParseTimestamp("00:00:01.500")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-9)

	for _, bad := range []string{"", "1:2", "00:00:01", "aa:00:01,000", "00:61:00,000"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestEmit(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(dir)

	path, err := emitter.Emit("subtitles_en", []models.Segment{
		{Start: 1.5, End: 3.25, Text: "  Hello there  "},
		{Start: 3.25, End: 5, Text: "Bonjour à tous"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "subtitles_en.srt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	expected := "1\n00:00:01,500 --> 00:00:03,250\nHello there\n\n" +
		"2\n00:00:03,250 --> 00:00:05,000\nBonjour à tous\n"
	assert.Equal(t, expected, string(data))

	// no temporaries are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEmitKeepsInputOrder(t *testing.T) {
	emitter := NewEmitter(t.TempDir())

	path, err := emitter.Emit("out", []models.Segment{
		{Start: 5, End: 6, Text: "second by time"},
		{Start: 1, End: 2, Text: "first by time"},
	})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	entries, err := Parse(f)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Index)
	assert.Equal(t, "second by time", entries[0].Text)
	assert.InDelta(t, 1.0, entries[1].Start, 1e-9)
}

func TestEmitFlattensBlankLines(t *testing.T) {
	emitter := NewEmitter(t.TempDir())

	path, err := emitter.Emit("out", []models.Segment{
		{Start: 0, End: 1, Text: "line one\r\n\r\nline two"},
		{Start: 1, End: 2, Text: "next"},
	})
	require.NoError(t, err)

	count, err := ValidateFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEmitOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(dir)

	_, err := emitter.Emit("subtitles_es", []models.Segment{{Start: 0, End: 1, Text: "uno"}})
	require.NoError(t, err)
	path, err := emitter.Emit("subtitles_es", []models.Segment{{Start: 0, End: 1, Text: "dos"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "dos"))
	assert.False(t, strings.Contains(string(data), "uno"))
}

func TestEmitErrors(t *testing.T) {
	t.Run("invalid prefix", func(t *testing.T) {
		for _, prefix := range []string{"", "../escape", "a/b", ".."} {
			_, err := NewEmitter(t.TempDir()).Emit(prefix, nil)
			assert.ErrorIs(t, err, ErrSubtitleWrite, prefix)
		}
	})

	t.Run("unwritable directory", func(t *testing.T) {
		parent := t.TempDir()
		blocker := filepath.Join(parent, "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

		_, err := NewEmitter(filepath.Join(blocker, "sub")).Emit("subtitles_en", []models.Segment{{Start: 0, End: 1, Text: "x"}})
		assert.ErrorIs(t, err, ErrSubtitleWrite)
	})
}

func TestEmitEmptySegmentList(t *testing.T) {
	path, err := NewEmitter(t.TempDir()).Emit("empty", nil)
	require.NoError(t, err)

	count, err := ValidateFile(path)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader("1\nnot a timing line\ntext\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("x\n00:00:00,000 --> 00:00:01,000\ntext\n"))
	assert.Error(t, err)
}

func TestParseCRLFAndBOM(t *testing.T) {
	entries, err := Parse(strings.NewReader("\ufeff1\r\n00:00:00,000 --> 00:00:01,000\r\nhola\r\n\r\n2\r\n00:00:01,000 --> 00:00:02,000\r\nadiós\r\n"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "adiós", entries[1].Text)
}

func TestValidateFileRejectsBadNumbering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.srt")
	require.NoError(t, os.WriteFile(path, []byte("2\n00:00:00,000 --> 00:00:01,000\nx\n"), 0644))

	_, err := ValidateFile(path)
	assert.Error(t, err)
}
