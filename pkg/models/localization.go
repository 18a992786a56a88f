package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

// LanguageCode is a short external language identifier such as "es" or "ja"
type LanguageCode string

// Normalize lower-cases and trims the code
func (l LanguageCode) Normalize() LanguageCode {
	return LanguageCode(strings.ToLower(strings.TrimSpace(string(l))))
}

// Request describes a single localization run
type Request struct {
	VideoPath         string         `json:"video_path"`
	Denoise           bool           `json:"denoise"`
	TargetLanguages   []LanguageCode `json:"target_languages,omitempty"`
	PreserveTechnical bool           `json:"preserve_technical"`
	DurationLimit     time.Duration  `json:"duration_limit,omitempty"`
	// OutputDir receives the subtitle files; empty means the configured default.
	OutputDir string `json:"output_dir,omitempty"`
}

// Targets returns the normalized, de-duplicated target languages in request order
func (r Request) Targets() []LanguageCode {
	if len(r.TargetLanguages) == 0 {
		return nil
	}
	seen := make(map[LanguageCode]struct{}, len(r.TargetLanguages))
	out := make([]LanguageCode, 0, len(r.TargetLanguages))
	for _, lang := range r.TargetLanguages {
		lang = lang.Normalize()
		if lang == "" {
			continue
		}
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}

// SubtitleArtifact is one emitted subtitle file
type SubtitleArtifact struct {
	Language LanguageCode `json:"language"`
	Path     string       `json:"path"`
	Entries  int          `json:"entries"`
}

// LanguageFailure records why a target language could not be produced
type LanguageFailure struct {
	Language LanguageCode `json:"language"`
	Stage    string       `json:"stage"`
	Error    string       `json:"error"`
}

// Summary is the result of a localization run
type Summary struct {
	SourceLanguage LanguageCode       `json:"source_language"`
	Succeeded      []LanguageCode     `json:"succeeded"`
	Failed         []LanguageFailure  `json:"failed,omitempty"`
	Skipped        []LanguageCode     `json:"skipped,omitempty"`
	Artifacts      []SubtitleArtifact `json:"artifacts"`
	Preview        []string           `json:"preview"`
	// Untranslated lists, per language, segment indexes that kept their original text.
	Untranslated    map[LanguageCode][]int `json:"untranslated,omitempty"`
	SegmentCount    int                    `json:"segment_count"`
	DroppedSegments int                    `json:"dropped_segments"`
	AudioSeconds    float64                `json:"audio_seconds"`
	Denoised        bool                   `json:"denoised"`
}

// Artifact returns the artifact produced for lang, if any
func (s *Summary) Artifact(lang LanguageCode) (SubtitleArtifact, bool) {
	for _, a := range s.Artifacts {
		if a.Language == lang {
			return a, true
		}
	}
	return SubtitleArtifact{}, false
}

// Value implements driver.Valuer for database storage
func (s Summary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *Summary) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}
