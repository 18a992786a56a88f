package models

import "strings"

// Segment is a timed span of transcribed speech
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Valid reports whether the segment has a usable time range
func (s Segment) Valid() bool {
	return s.Start >= 0 && s.Start < s.End
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// FilterSpeech drops segments that carry no speech: whitespace-only text or
// an empty/inverted time range. Order of the remaining segments is kept.
// It returns the kept segments and the number dropped.
func FilterSpeech(segments []Segment) ([]Segment, int) {
	kept := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" || !seg.Valid() {
			continue
		}
		kept = append(kept, seg)
	}
	return kept, len(segments) - len(kept)
}

// CloneSegments returns a copy of segments that can be modified freely
func CloneSegments(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	copy(out, segments)
	return out
}
