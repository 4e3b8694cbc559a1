package scanning

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/logging"
	"github.com/anstrom/qubo/internal/metrics"
	"github.com/anstrom/qubo/internal/probe"
	"github.com/anstrom/qubo/internal/results"
	"github.com/anstrom/qubo/internal/targets"
)

// Engine runs one scan. Create it with New and call Run once.
type Engine struct {
	cfg      Config
	scanID   string
	source   Source
	prober   probe.Prober
	matcher  Matcher
	agg      *results.Aggregator
	limiter  *rate.Limiter
	logger   *logging.Logger
	recorder metrics.Recorder

	state       atomic.Int32
	started     atomic.Bool
	startedAt   atomic.Int64
	active      atomic.Int64
	interrupted atomic.Bool
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is logging.Default().
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder. The default discards events.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(e *Engine) {
		if recorder != nil {
			e.recorder = recorder
		}
	}
}

// WithAggregator sets the aggregator, e.g. to retain matches. The default
// keeps counters only.
func WithAggregator(agg *results.Aggregator) Option {
	return func(e *Engine) {
		if agg != nil {
			e.agg = agg
		}
	}
}

// WithScanID sets the scan identifier. The default is a random UUID.
func WithScanID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.scanID = id
		}
	}
}

// New validates cfg and builds an idle engine.
func New(cfg Config, source Source, prober probe.Prober, matcher Matcher, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, qerrors.ErrConfigMissing("source")
	}
	if prober == nil {
		return nil, qerrors.ErrConfigMissing("prober")
	}
	if matcher == nil {
		return nil, qerrors.ErrConfigMissing("matcher")
	}

	e := &Engine{
		cfg:      cfg,
		scanID:   uuid.NewString(),
		source:   source,
		prober:   prober,
		matcher:  matcher,
		agg:      results.NewAggregator(0),
		logger:   logging.Default(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	e.logger = e.logger.WithComponent("engine").WithScanID(e.scanID)

	return e, nil
}

// ScanID returns the scan identifier.
func (e *Engine) ScanID() string {
	return e.scanID
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// drain moves a running engine to Draining. Later states are left alone.
func (e *Engine) drain() {
	e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
}

// Status returns a point-in-time view of the engine. It is safe to call
// while Run is in progress.
func (e *Engine) Status() Status {
	counts := e.agg.Counters()
	status := Status{
		ScanID:     e.scanID,
		State:      e.State().String(),
		Unfiltered: counts.Unfiltered,
		Filtered:   counts.Filtered,
		Dispatched: e.source.Dispatched(),
		Total:      e.source.Total(),
		Active:     e.active.Load(),
		Failures:   e.agg.Failures(),
	}
	if ns := e.startedAt.Load(); ns != 0 {
		started := time.Unix(0, ns)
		status.StartedAt = &started
	}
	return status
}

// Run performs the scan and blocks until every worker has exited. Per-probe
// failures are tallied, never returned. Cancelling ctx before the source is
// exhausted ends the run early with Summary.Interrupted set. Run may be
// called only once.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if !e.started.CompareAndSwap(false, true) {
		return Summary{}, qerrors.ErrEngineUsed()
	}

	start := time.Now()
	e.startedAt.Store(start.UnixNano())
	e.setState(StateRunning)
	e.recorder.SetCandidates(e.source.Total())

	e.logger.Info("Scan started",
		"candidates", e.source.Total(),
		"concurrency", e.cfg.Concurrency,
		"timeout", e.cfg.Timeout,
		"rate_limit", e.cfg.RateLimit)

	probeCtx, cancelProbes := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelProbes()

	finished := make(chan struct{})
	go e.watchCancel(ctx, finished, cancelProbes)

	var g errgroup.Group
	for i := 0; i < e.cfg.Concurrency; i++ {
		w := &worker{id: i, engine: e}
		g.Go(func() error {
			w.run(ctx, probeCtx)
			return nil
		})
	}
	_ = g.Wait()
	close(finished)

	e.setState(StateCompleted)

	counts := e.agg.Counters()
	failures := e.agg.Failures()
	summary := Summary{
		ScanID:           e.scanID,
		Unfiltered:       counts.Unfiltered,
		Filtered:         counts.Filtered,
		Dispatched:       e.source.Dispatched(),
		Total:            e.source.Total(),
		Timeouts:         failures.Timeouts,
		ConnectionErrors: failures.ConnectionErrors,
		ProtocolErrors:   failures.ProtocolErrors,
		Duration:         time.Since(start),
		Interrupted:      e.interrupted.Load(),
		Matches:          e.agg.Matches(),
	}

	e.logger.Info("Scan completed",
		"found", summary.Filtered,
		"unfiltered", summary.Unfiltered,
		"dispatched", summary.Dispatched,
		"total", summary.Total,
		"duration", summary.Duration,
		"interrupted", summary.Interrupted)

	return summary, nil
}

// watchCancel cancels in-flight probes GracePeriod after ctx is done, unless
// the run finishes first. Abandoned probes mark the run interrupted.
func (e *Engine) watchCancel(ctx context.Context, finished <-chan struct{}, cancelProbes context.CancelFunc) {
	select {
	case <-finished:
		return
	case <-ctx.Done():
	}

	e.drain()
	e.logger.Info("Scan interrupted, waiting for in-flight probes",
		"active", e.active.Load(),
		"grace_period", e.cfg.GracePeriod)

	grace := time.NewTimer(e.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-finished:
	case <-grace.C:
		e.interrupted.Store(true)
		cancelProbes()
	}
}

// worker represents a single dispatch loop.
type worker struct {
	id     int
	engine *Engine
}

// run dispatches candidates until the source is exhausted or ctx is done.
// Probes use probeCtx so cancellation of ctx does not abort them outright.
func (w *worker) run(ctx, probeCtx context.Context) {
	e := w.engine
	defer e.logger.Debug("Worker stopped", "worker_id", w.id)

	for {
		if ctx.Err() != nil {
			e.stopEarly()
			return
		}
		if err := e.waitTurn(ctx); err != nil {
			e.stopEarly()
			return
		}

		c, ok := e.source.Next()
		if !ok {
			e.drain()
			return
		}
		e.probe(probeCtx, c)
	}
}

// stopEarly drains the engine and marks the run interrupted when candidates
// remain undispatched.
func (e *Engine) stopEarly() {
	e.drain()
	if e.source.Dispatched() < e.source.Total() {
		e.interrupted.Store(true)
	}
}

// waitTurn blocks until the rate limiter admits one more probe. Unlike
// rate.Limiter.Wait it waits out delays that end past the ctx deadline and
// only gives up once ctx is actually done.
func (e *Engine) waitTurn(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	r := e.limiter.Reserve()
	if !r.OK() {
		return qerrors.NewScanError(qerrors.CodeInvalidState, "rate limiter rejected reservation")
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (e *Engine) probe(ctx context.Context, c targets.Candidate) {
	e.active.Add(1)
	e.recorder.ProbeStarted()
	out := e.prober.Probe(ctx, c, e.cfg.Timeout)
	e.active.Add(-1)

	// A success without a decoded response cannot be matched.
	if out.Status == probe.StatusSuccess && out.Response == nil {
		out = probe.ProtocolError(qerrors.NewProbeError(qerrors.CodeProtocol, c.String(), "decode",
			fmt.Errorf("empty response")), out.Latency)
	}
	e.recorder.ProbeFinished(out.Status.String(), out.Latency)

	matched := out.Status == probe.StatusSuccess && e.matcher.Match(out.Response)
	e.agg.Record(c, out, matched)

	if out.Status != probe.StatusSuccess {
		e.logger.DebugProbe("Probe failed", c.String(),
			"status", out.Status.String(),
			"latency", out.Latency,
			"error", out.Reason)
		return
	}

	e.recorder.ServerFound(metrics.KindUnfiltered)
	if !matched {
		e.logger.DebugProbe("Server filtered out", c.String(), "server", out.Response.Summary())
		return
	}

	e.recorder.ServerFound(metrics.KindFiltered)
	e.logger.InfoScan("Server found", c.String(),
		"version", out.Response.VersionName,
		"players", fmt.Sprintf("%d/%d", out.Response.PlayersOnline, out.Response.PlayersMax),
		"description", out.Response.CleanDescription,
		"latency", out.Latency)
}
