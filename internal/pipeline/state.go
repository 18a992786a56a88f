package pipeline

import (
	"context"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// State is a step of the per-request state machine
type State string

// Pipeline states
const (
	StateIdle         State = "idle"
	StatePreparing    State = "preparing"
	StateTranscribing State = "transcribing"
	StateEmitting     State = "emitting"
	StateTranslating  State = "translating"
	StateDone         State = "done"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether no further transition can follow s
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// ProgressFunc is called on every state transition. lang is set for the
// per-language states; progress is in [0, 1].
type ProgressFunc func(state State, lang models.LanguageCode, progress float64)

// CancelChecker reports whether the request was cancelled out of band
// (e.g. through the API). It is consulted before each stage.
type CancelChecker func(ctx context.Context) (bool, error)

// RunOption customizes one Run call
type RunOption func(*RunConfig)

// RunConfig is the resolved form of a set of RunOptions
type RunConfig struct {
	Progress      ProgressFunc
	CancelChecker CancelChecker
	RequestID     string
}

// ApplyRunOptions resolves opts in order
func ApplyRunOptions(opts ...RunOption) RunConfig {
	var cfg RunConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithProgress reports transitions to fn
func WithProgress(fn ProgressFunc) RunOption {
	return func(c *RunConfig) { c.Progress = fn }
}

// WithCancelChecker consults fn before each stage
func WithCancelChecker(fn CancelChecker) RunOption {
	return func(c *RunConfig) { c.CancelChecker = fn }
}

// WithRequestID tags logs and the per-request directories with id
func WithRequestID(id string) RunOption {
	return func(c *RunConfig) { c.RequestID = id }
}
