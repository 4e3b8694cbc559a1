package scanning

import (
	"time"

	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/probe"
	"github.com/anstrom/qubo/internal/results"
	"github.com/anstrom/qubo/internal/targets"
)

const (
	defaultConcurrency = 100
	defaultTimeout     = time.Second
	defaultGracePeriod = 2 * time.Second
)

// Config holds the engine settings.
type Config struct {
	// Concurrency is the number of workers and so the bound on in-flight probes.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// Timeout bounds each probe.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// RateLimit caps dispatched probes per second across all workers. 0 disables it.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	// Burst is the limiter bucket size. 0 means 1.
	Burst int `yaml:"burst" json:"burst"`
	// GracePeriod is how long in-flight probes may run after cancellation.
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: defaultConcurrency,
		Timeout:     defaultTimeout,
		GracePeriod: defaultGracePeriod,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return qerrors.NewConfigFieldError(qerrors.CodeValidation,
			"concurrency must be at least 1", "concurrency", c.Concurrency)
	case c.Timeout <= 0:
		return qerrors.NewConfigFieldError(qerrors.CodeValidation,
			"timeout must be positive", "timeout", c.Timeout)
	case c.RateLimit < 0:
		return qerrors.NewConfigFieldError(qerrors.CodeValidation,
			"rate limit must not be negative", "rate_limit", c.RateLimit)
	case c.Burst < 0:
		return qerrors.NewConfigFieldError(qerrors.CodeValidation,
			"burst must not be negative", "burst", c.Burst)
	case c.GracePeriod < 0:
		return qerrors.NewConfigFieldError(qerrors.CodeValidation,
			"grace period must not be negative", "grace_period", c.GracePeriod)
	}
	return nil
}

// Source yields the candidates of a scan. Next must be safe for concurrent use
// and hand out each candidate once.
type Source interface {
	Next() (targets.Candidate, bool)
	Total() uint64
	Dispatched() uint64
}

// Matcher decides whether a decoded response counts as filtered found.
type Matcher interface {
	Match(resp *probe.Response) bool
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(resp *probe.Response) bool

// Match calls f.
func (f MatcherFunc) Match(resp *probe.Response) bool {
	return f(resp)
}

// MatchAll accepts every response.
var MatchAll = MatcherFunc(func(resp *probe.Response) bool { return resp != nil })

// State is the engine lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a running engine.
type Status struct {
	ScanID     string           `json:"scan_id"`
	State      string           `json:"state"`
	Unfiltered uint64           `json:"unfiltered"`
	Filtered   uint64           `json:"filtered"`
	Dispatched uint64           `json:"dispatched"`
	Total      uint64           `json:"total"`
	Active     int64            `json:"active"`
	Failures   results.Failures `json:"failures"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
}

// Summary is the final report of a run.
type Summary struct {
	ScanID           string          `json:"scan_id"`
	Unfiltered       uint64          `json:"unfiltered"`
	Filtered         uint64          `json:"filtered"`
	Dispatched       uint64          `json:"dispatched"`
	Total            uint64          `json:"total"`
	Timeouts         uint64          `json:"timeouts"`
	ConnectionErrors uint64          `json:"connection_errors"`
	ProtocolErrors   uint64          `json:"protocol_errors"`
	Duration         time.Duration   `json:"duration"`
	Interrupted      bool            `json:"interrupted"`
	Matches          []results.Match `json:"matches,omitempty"`
}
