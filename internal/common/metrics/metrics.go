// Package metrics records assignment engine outcomes.
package metrics

import "time"

// Draw outcomes.
const (
	ResultAssigned  = "assigned"
	ResultExisting  = "existing"
	ResultExhausted = "exhausted"
	ResultError     = "error"
)

// Recorder is implemented by the Prometheus collector and by Nop.
type Recorder interface {
	ObserveDraw(result string, elapsed time.Duration)
	IncConflictRetry(op string)
	ObserveLockWait(op string, waited time.Duration)
	AddResets(reason string, n int)
}

// Nop discards every observation.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) ObserveDraw(string, time.Duration)     {}
func (Nop) IncConflictRetry(string)               {}
func (Nop) ObserveLockWait(string, time.Duration) {}
func (Nop) AddResets(string, int)                 {}
