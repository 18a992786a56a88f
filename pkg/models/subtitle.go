package models

import "time"

// Subtitle is a stored subtitle file produced by a job
type Subtitle struct {
	ID        string       `json:"id" db:"id"`
	JobID     string       `json:"job_id" db:"job_id"`
	VideoID   string       `json:"video_id" db:"video_id"`
	Language  LanguageCode `json:"language" db:"language"`
	Format    string       `json:"format" db:"format"`
	Entries   int          `json:"entries" db:"entries"`
	IsSource  bool         `json:"is_source" db:"is_source"`
	Path      string       `json:"path" db:"path"`
	URL       string       `json:"url,omitempty" db:"-"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// SubtitleFormatSRT is the only format the pipeline emits
const SubtitleFormatSRT = "srt"
