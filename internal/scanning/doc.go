// Package scanning provides the scan engine for qubo.
//
// An Engine drives a fixed pool of workers over a lazy candidate source.
// Each worker repeatedly waits on the shared rate limiter, takes the next
// candidate, probes it and hands the outcome to a results.Aggregator:
//
//	source.Next() -> prober.Probe() -> matcher.Match() -> aggregator
//
// # Lifecycle
//
// An engine is single-use and moves through four states:
//
//	Idle -> Running -> Draining -> Completed
//
// Draining begins when the source is exhausted or the run context is
// cancelled; no new candidate is dispatched from that point. Run returns
// once every in-flight probe has finished, at which point the engine is
// Completed and the returned Summary is final.
//
// # Cancellation
//
// Cancelling the context passed to Run stops dispatch immediately. Probes
// already in flight run on a separate context that is cancelled only after
// Config.GracePeriod, so a nearly finished handshake can still be counted.
// A run is interrupted when cancellation leaves candidates undispatched or
// abandons a probe at the end of the grace period. Cancelling after the last
// probe finished is not an interruption. An interrupted run is not an error:
// Run reports it through Summary.Interrupted together with valid counters.
//
// # Counters
//
// Unfiltered counts every decoded response, Filtered counts the subset that
// satisfied the matcher. Both are read through results.Counters, which
// guarantees Filtered <= Unfiltered for every observation, including reads
// taken through Status while the scan is running.
package scanning
