package models

import "time"

// Video is an uploaded source video
type Video struct {
	ID         string    `json:"id" db:"id"`
	Filename   string    `json:"filename" db:"filename"`
	StorageKey string    `json:"storage_key" db:"storage_key"`
	Size       int64     `json:"size" db:"size"`
	Duration   float64   `json:"duration" db:"duration"`
	AudioCodec string    `json:"audio_codec,omitempty" db:"audio_codec"`
	HasAudio   bool      `json:"has_audio" db:"has_audio"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
