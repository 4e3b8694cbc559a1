// Package metrics records scan activity for Prometheus.
package metrics

import "time"

//go:generate mockgen -source=interface.go -destination=mocks/mock_recorder.go -package=mocks

// Recorder receives scan events. Implementations must be safe for concurrent use.
type Recorder interface {
	// ProbeStarted marks a probe as in flight.
	ProbeStarted()

	// ProbeFinished records a completed probe by outcome label and latency.
	ProbeFinished(status string, latency time.Duration)

	// ServerFound counts a decoded server under kind ("unfiltered" or "filtered").
	ServerFound(kind string)

	// SetCandidates publishes the number of candidates in the run.
	SetCandidates(total uint64)
}

// Found kinds.
const (
	KindUnfiltered = "unfiltered"
	KindFiltered   = "filtered"
)

// Nop discards every event.
type Nop struct{}

func (Nop) ProbeStarted()                       {}
func (Nop) ProbeFinished(string, time.Duration) {}
func (Nop) ServerFound(string)                  {}
func (Nop) SetCandidates(uint64)                {}

var (
	_ Recorder = Nop{}
	_ Recorder = (*PrometheusMetrics)(nil)
)
