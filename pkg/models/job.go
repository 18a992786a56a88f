package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Job is a persisted localization request for an uploaded video
type Job struct {
	ID          string     `json:"id" db:"id"`
	VideoID     string     `json:"video_id" db:"video_id"`
	Status      string     `json:"status" db:"status"`
	Stage       string     `json:"stage,omitempty" db:"stage"`
	Progress    float64    `json:"progress" db:"progress"`
	ErrorMsg    string     `json:"error_msg,omitempty" db:"error_msg"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	WorkerID    string     `json:"worker_id,omitempty" db:"worker_id"`
	Options     JobOptions `json:"options" db:"options"`
	Summary     *Summary   `json:"summary,omitempty" db:"summary"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// JobOptions holds the per-request processing switches
type JobOptions struct {
	Denoise           bool           `json:"denoise"`
	TargetLanguages   []LanguageCode `json:"target_languages,omitempty"`
	PreserveTechnical bool           `json:"preserve_technical"`
	// DurationLimitSeconds caps processed audio; zero means the whole video.
	DurationLimitSeconds int  `json:"duration_limit_seconds,omitempty"`
	QuickProcess         bool `json:"quick_process,omitempty"`
	// CallbackURL receives a signed POST once the job finishes
	CallbackURL string `json:"callback_url,omitempty"`
}

// QuickProcessSeconds is the audio budget applied by QuickProcess
const QuickProcessSeconds = 60

// DurationLimit resolves the effective audio budget
func (o JobOptions) DurationLimit() time.Duration {
	if o.DurationLimitSeconds > 0 {
		return time.Duration(o.DurationLimitSeconds) * time.Second
	}
	if o.QuickProcess {
		return QuickProcessSeconds * time.Second
	}
	return 0
}

// Value implements driver.Valuer for database storage
func (o JobOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// Scan implements sql.Scanner for database retrieval
func (o *JobOptions) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	}
	return nil
}

// JobStatus constants
const (
	JobStatusPending    = "pending"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusPartial    = "partial"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Finished reports whether the job reached a terminal status
func (j *Job) Finished() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
