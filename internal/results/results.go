// Package results aggregates probe outcomes into race-free counters and an
// optional bounded list of matched servers.
package results

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/qubo/internal/probe"
	"github.com/anstrom/qubo/internal/targets"
)

// Unlimited keeps every match.
const Unlimited = -1

// Counters holds the unfiltered and filtered found counts. Writers increment
// unfiltered before filtered and Snapshot loads filtered before unfiltered, so
// every observation satisfies filtered <= unfiltered.
type Counters struct {
	unfiltered atomic.Uint64
	filtered   atomic.Uint64
}

// Snapshot is a consistent view of Counters.
type Snapshot struct {
	Unfiltered uint64 `json:"unfiltered"`
	Filtered   uint64 `json:"filtered"`
}

// Snapshot returns the current counts.
func (c *Counters) Snapshot() Snapshot {
	filtered := c.filtered.Load()
	unfiltered := c.unfiltered.Load()
	return Snapshot{Unfiltered: unfiltered, Filtered: filtered}
}

func (c *Counters) record(matched bool) {
	c.unfiltered.Add(1)
	if matched {
		c.filtered.Add(1)
	}
}

// Match is a server that satisfied the filter.
type Match struct {
	Candidate targets.Candidate `json:"-"`
	Address   string            `json:"address"`
	Response  *probe.Response   `json:"response"`
	Latency   time.Duration     `json:"latency"`
	FoundAt   time.Time         `json:"found_at"`
}

// Failures tallies unsuccessful probes by outcome.
type Failures struct {
	Timeouts         uint64 `json:"timeouts"`
	ConnectionErrors uint64 `json:"connection_errors"`
	ProtocolErrors   uint64 `json:"protocol_errors"`
}

// Aggregator collects the outcomes of one scan. It is safe for concurrent use.
type Aggregator struct {
	counters Counters

	timeouts         atomic.Uint64
	connectionErrors atomic.Uint64
	protocolErrors   atomic.Uint64

	maxMatches int
	mu         sync.Mutex
	matches    []Match
	dropped    uint64
}

// NewAggregator creates an aggregator retaining up to maxMatches matches.
// Zero keeps none and Unlimited keeps all.
func NewAggregator(maxMatches int) *Aggregator {
	return &Aggregator{maxMatches: maxMatches}
}

// RecordSuccess counts a decoded response and, when matched, the filtered
// found count and the match itself.
func (a *Aggregator) RecordSuccess(c targets.Candidate, resp *probe.Response, latency time.Duration, matched bool) {
	a.counters.record(matched)
	if !matched || a.maxMatches == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxMatches > 0 && len(a.matches) >= a.maxMatches {
		a.dropped++
		return
	}
	a.matches = append(a.matches, Match{
		Candidate: c,
		Address:   c.String(),
		Response:  resp,
		Latency:   latency,
		FoundAt:   time.Now(),
	})
}

// RecordFailure tallies an unsuccessful outcome. Success is ignored.
func (a *Aggregator) RecordFailure(status probe.Status) {
	switch status {
	case probe.StatusTimeout:
		a.timeouts.Add(1)
	case probe.StatusConnectionError:
		a.connectionErrors.Add(1)
	case probe.StatusProtocolError:
		a.protocolErrors.Add(1)
	}
}

// Record routes an outcome to RecordSuccess or RecordFailure.
func (a *Aggregator) Record(c targets.Candidate, out probe.Outcome, matched bool) {
	if out.Status == probe.StatusSuccess {
		a.RecordSuccess(c, out.Response, out.Latency, matched)
		return
	}
	a.RecordFailure(out.Status)
}

// Counters returns the found counts.
func (a *Aggregator) Counters() Snapshot {
	return a.counters.Snapshot()
}

// Failures returns the failure tallies.
func (a *Aggregator) Failures() Failures {
	return Failures{
		Timeouts:         a.timeouts.Load(),
		ConnectionErrors: a.connectionErrors.Load(),
		ProtocolErrors:   a.protocolErrors.Load(),
	}
}

// Matches returns a copy of the retained matches in arrival order.
func (a *Aggregator) Matches() []Match {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Match(nil), a.matches...)
}

// Dropped returns how many matches were not retained because of the limit.
func (a *Aggregator) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
