package core

import (
	"sync"

	"github.com/hupe1980/convoflow/logging"
)

// DiagnosticKind classifies a non-fatal diagnostic.
type DiagnosticKind string

const (
	DiagnosticUnseenIntent DiagnosticKind = "unseen_intent"
	DiagnosticUnseenEntity DiagnosticKind = "unseen_entity"
)

// Diagnostic is an informational record. Emitting one never changes processing.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Name    string         `json:"name"`
	Message string         `json:"message"`
}

// DiagnosticSink receives diagnostics.
type DiagnosticSink interface {
	Report(d Diagnostic)
}

// LoggingSink writes diagnostics as warnings.
type LoggingSink struct {
	Logger logging.Logger
}

// Report implements DiagnosticSink.
func (s LoggingSink) Report(d Diagnostic) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn(d.Message, "kind", string(d.Kind), "name", d.Name)
}

// CollectingSink keeps diagnostics in memory for inspection.
type CollectingSink struct {
	mu      sync.Mutex
	records []Diagnostic
}

// Report implements DiagnosticSink.
func (s *CollectingSink) Report(d Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, d)
}

// Records returns a copy of the collected diagnostics.
func (s *CollectingSink) Records() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Diagnostic, len(s.records))
	copy(out, s.records)
	return out
}

// Reset drops collected diagnostics.
func (s *CollectingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
