package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
)

// ErrSinkClosed is returned to workers that try to save after the pool
// run they belong to has returned.
var ErrSinkClosed = errors.New("evidence sink closed")

// SubtaskRunner executes a single subtask.
type SubtaskRunner interface {
	Execute(ctx context.Context, runID string, st core.Subtask, workerID string, sink FindingSink) ([]string, error)
}

// Outcome is the result of one dispatched subtask.
type Outcome struct {
	Subtask    core.Subtask
	WorkerID   string
	FindingIDs []string
	Attempts   int
	Err        error
	Duration   time.Duration
}

// Failed reports whether the subtask produced no evidence.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Failure converts a failed outcome into its run record.
func (o Outcome) Failure() core.Failure {
	f := core.Failure{
		SubtaskID: o.Subtask.ID,
		Iteration: o.Subtask.Iteration,
		Class:     core.ErrorClass(o.Err),
		Attempts:  o.Attempts,
	}
	if o.Err != nil {
		f.Message = o.Err.Error()
	}
	var domErr *core.DomainError
	if errors.As(o.Err, &domErr) {
		f.Code = domErr.Code
	}
	return f
}

// PoolResult is what RunAll returns: the findings persisted during the
// run and the subtasks that failed, plus every outcome in dispatch order.
type PoolResult struct {
	FindingIDs []string
	Failures   []core.Failure
	Outcomes   []Outcome
}

// Pool runs subtasks on a bounded set of workers.
type Pool struct {
	runner  SubtaskRunner
	writer  core.EvidenceWriter
	opts    PoolOptions
	retry   *service.RetryPolicy
	logger  *logging.Logger
	bus     *events.EventBus
	metrics *service.MetricsCollector
	tracer  *service.Tracer
}

// PoolDeps holds the collaborators of a Pool. Bus, Metrics and Tracer are
// optional.
type PoolDeps struct {
	Runner  SubtaskRunner
	Writer  core.EvidenceWriter
	Options PoolOptions
	Logger  *logging.Logger
	Bus     *events.EventBus
	Metrics *service.MetricsCollector
	Tracer  *service.Tracer
}

// NewPool creates a worker pool.
func NewPool(deps PoolDeps) *Pool {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = service.NewTracer()
	}
	opts := deps.Options
	d := DefaultOptions().Pool
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = d.MaxConcurrency
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = d.TaskTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Pool{
		runner: deps.Runner,
		writer: deps.Writer,
		opts:   opts,
		retry: service.NewRetryPolicy(
			service.WithMaxAttempts(opts.MaxRetries+1),
			service.WithBaseDelay(opts.BaseDelay),
			service.WithMaxDelay(opts.MaxDelay),
			service.WithJitter(opts.Jitter),
		),
		logger:  deps.Logger,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}
}

// RunAll executes subtasks with at most MaxConcurrency in flight. Each
// subtask, retries included, is bounded by TaskTimeout; a straggler is
// abandoned rather than awaited. RunAll returns once every subtask has
// completed, failed or timed out, and no write issued after that point
// becomes visible.
//
// Worker ids name concurrency slots: a task takes a free id when it starts
// and returns it when it finishes, so no two in-flight tasks share one.
func (p *Pool) RunAll(ctx context.Context, runID string, subtasks []core.Subtask) PoolResult {
	sink := &gatedSink{writer: p.writer}
	defer sink.close()

	slots := make(chan string, p.opts.MaxConcurrency)
	for i := range p.opts.MaxConcurrency {
		slots <- fmt.Sprintf("W%02d", i+1)
	}

	outcomes := make([]Outcome, len(subtasks))
	var g errgroup.Group
	g.SetLimit(p.opts.MaxConcurrency)

	for i, st := range subtasks {
		if ctx.Err() != nil {
			outcomes[i] = Outcome{
				Subtask: st,
				Err:     abandoned(st, ctx.Err()),
			}
			continue
		}
		g.Go(func() error {
			workerID := <-slots
			defer func() { slots <- workerID }()
			outcomes[i] = p.runTask(ctx, runID, st, workerID, sink)
			return nil
		})
	}
	_ = g.Wait()
	sink.close()

	var res PoolResult
	res.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Failed() {
			res.Failures = append(res.Failures, o.Failure())
			continue
		}
		res.FindingIDs = append(res.FindingIDs, o.FindingIDs...)
	}
	return res
}

type taskResult struct {
	ids []string
	err error
}

func (p *Pool) runTask(ctx context.Context, runID string, st core.Subtask, workerID string, sink FindingSink) Outcome {
	logger := p.logger.WithRun(runID).WithSubtask(st.ID.String()).WithWorker(workerID)
	start := time.Now()

	p.publish(events.NewSubtaskStartedEvent(runID, st.ID.String(), workerID, st.Query, string(st.Mode)))
	if p.metrics != nil {
		p.metrics.StartSubtask(st, workerID)
	}
	spanCtx, span := p.tracer.StartSubtask(ctx, st, workerID)

	taskCtx, cancel := context.WithTimeout(spanCtx, p.opts.TaskTimeout)
	defer cancel()

	var attempts atomic.Int32
	done := make(chan taskResult, 1)
	go func() {
		var ids []string
		_, err := p.retry.Run(taskCtx, func(ctx context.Context, attempt int) error {
			attempts.Store(int32(attempt))
			var err error
			ids, err = p.runner.Execute(ctx, runID, st, workerID, sink)
			return err
		}, func(attempt int, err error, delay time.Duration) {
			logger.Warn("subtask attempt failed, retrying",
				"attempt", attempt,
				"delay", delay.String(),
				"error", err,
			)
		})
		done <- taskResult{ids: ids, err: err}
	}()

	var res taskResult
	select {
	case res = <-done:
	case <-taskCtx.Done():
		select {
		case res = <-done:
		default:
			res.err = abandoned(st, taskCtx.Err())
		}
	}
	if res.err != nil && taskCtx.Err() != nil && errors.Is(res.err, taskCtx.Err()) {
		res.err = abandoned(st, taskCtx.Err())
	}

	out := Outcome{
		Subtask:    st,
		WorkerID:   workerID,
		FindingIDs: res.ids,
		Attempts:   int(attempts.Load()),
		Err:        res.err,
		Duration:   time.Since(start),
	}
	if out.Err != nil {
		out.FindingIDs = nil
	}

	if p.metrics != nil {
		p.metrics.EndSubtask(st.ID, len(out.FindingIDs), out.Attempts, out.Err)
	}
	service.EndSpan(span, out.Err,
		attribute.Int("subtask.findings", len(out.FindingIDs)),
		attribute.Int("subtask.attempts", out.Attempts),
	)

	if out.Err != nil {
		logger.Warn("subtask failed",
			"class", core.ErrorClass(out.Err),
			"attempts", out.Attempts,
			"error", out.Err,
		)
		p.publish(events.NewSubtaskFailedEvent(runID, st.ID.String(), core.ErrorClass(out.Err), out.Err.Error(), out.Attempts))
		return out
	}
	logger.Info("subtask completed",
		"findings", len(out.FindingIDs),
		"attempts", out.Attempts,
		"duration", out.Duration.Round(time.Millisecond).String(),
	)
	p.publish(events.NewSubtaskCompletedEvent(runID, st.ID.String(), len(out.FindingIDs), out.Attempts, out.Duration))
	return out
}

func (p *Pool) publish(e events.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

// abandoned describes a subtask cut off by its own or the run's deadline.
func abandoned(st core.Subtask, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return core.ErrTimeout(fmt.Sprintf("subtask %s exceeded its deadline", st.ID)).WithCause(cause)
	}
	return core.ErrExecution(core.CodeAbandoned, fmt.Sprintf("subtask %s abandoned", st.ID)).WithCause(cause)
}

// gatedSink commits findings until it is closed. Preparation (validation
// and embedding) runs outside the gate; the commit itself holds it, so
// closing waits for in-flight commits and rejects later ones.
type gatedSink struct {
	writer core.EvidenceWriter
	mu     sync.RWMutex
	closed bool
}

func (g *gatedSink) Save(ctx context.Context, f core.Finding) (string, error) {
	if g.isClosed() {
		return "", ErrSinkClosed
	}
	prepared, err := g.writer.Prepare(ctx, f)
	if err != nil {
		return "", err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return "", ErrSinkClosed
	}
	return g.writer.Commit(ctx, prepared)
}

func (g *gatedSink) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

func (g *gatedSink) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
