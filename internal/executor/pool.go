// Package executor implements the concurrent task dispatcher: a bounded
// worker pool that starts, times out, and reaps per-endpoint command
// executions, routes their output, and reduces the outcomes into one
// aggregate status.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aryankumar/fanout/internal/util"
)

// Pool is the run's dispatcher. It accepts the full batch of TaskSpecs
// before scheduling starts and executes them with a fixed concurrency
// limit, collecting exactly one Result per submitted spec.
//
// One Pool serves one run; it is constructed per invocation and discarded
// after the results are reduced.
type Pool struct {
	// workers is the concurrency limit
	workers int

	// runner spawns the remote command for each task
	runner Runner

	// sinks opens external output sinks per endpoint (may be nil)
	sinks SinkProvider

	// specs is the pending batch
	specs []TaskSpec

	// mu protects specs
	mu sync.Mutex

	// logger for structured logging
	logger *slog.Logger

	// running indicates if the pool is currently executing
	running atomic.Bool

	// onResult, guarded by resultMu, is invoked after each task completes
	onResult func(completed, total int, res Result)
	resultMu sync.Mutex
}

// NewPool creates a dispatcher with the given concurrency limit.
// workers must be > 0, otherwise it defaults to 1.
func NewPool(workers int, runner Runner, sinks SinkProvider, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		workers: workers,
		runner:  runner,
		sinks:   sinks,
		logger:  logger,
	}
}

// OnResult registers a completion hook called once per finished task with
// the running completion count. Calls are serialized by the pool. Must be
// set before Execute.
func (p *Pool) OnResult(fn func(completed, total int, res Result)) {
	p.onResult = fn
}

// Submit adds a spec to the batch. Returns an error if the pool is already
// executing or the spec is incomplete.
func (p *Pool) Submit(spec TaskSpec) error {
	if p.running.Load() {
		return fmt.Errorf("pool is running, cannot submit new tasks")
	}

	if spec.Endpoint.Host == "" {
		return fmt.Errorf("task must have an endpoint host")
	}

	if len(spec.Command) == 0 {
		return fmt.Errorf("task must have a command")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.specs = append(p.specs, spec)
	p.logger.Debug("task submitted", "endpoint", spec.Endpoint.Identity(), "total_tasks", len(p.specs))

	return nil
}

// TaskCount returns the number of submitted specs
func (p *Pool) TaskCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.specs)
}

// WorkerCount returns the concurrency limit
func (p *Pool) WorkerCount() int {
	return p.workers
}

// Execute runs the batch. On success it returns exactly one Result per
// submitted spec, in submission order. A structural failure (output sink
// cannot be opened, process cannot be spawned) aborts the run: already
// started tasks are torn down best-effort and no results are returned.
//
// Cancelling ctx terminates still-running tasks; their results report
// OutcomeKilled, and specs that never started are recorded as killed too,
// preserving the 1:1 spec-to-result mapping.
func (p *Pool) Execute(ctx context.Context) ([]Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("pool is already running")
	}
	defer p.running.Store(false)

	if p.runner == nil {
		return nil, fmt.Errorf("pool has no runner")
	}

	p.mu.Lock()
	specs := make([]TaskSpec, len(p.specs))
	copy(specs, p.specs)
	p.mu.Unlock()

	total := len(specs)
	if total == 0 {
		p.logger.Debug("no tasks to execute")
		return []Result{}, nil
	}

	p.logger.Info("starting task execution", "workers", p.workers, "tasks", total)
	startTime := time.Now()

	// runCtx lets a structural failure in one worker stop the whole run
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		abortOnce sync.Once
		abortErr  error
	)
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			cancel()
		})
	}

	// Buffer both channels to the batch size so workers never block on
	// handoff; the concurrency bound comes from the worker count alone.
	taskChan := make(chan indexedSpec, total)
	resultChan := make(chan indexedResult, total)

	for i, spec := range specs {
		taskChan <- indexedSpec{spec: spec, index: i}
	}
	close(taskChan)

	workerCount := p.workers
	if workerCount > total {
		workerCount = total
	}

	var completed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go p.worker(runCtx, i, taskChan, resultChan, &wg, abort, &completed, total)
	}

	wg.Wait()
	close(resultChan)

	if abortErr != nil {
		p.logger.Error("run aborted", "error", abortErr)
		return nil, abortErr
	}

	results := make([]Result, total)
	filled := make([]bool, total)
	for res := range resultChan {
		results[res.index] = res.result
		filled[res.index] = true
	}

	// Specs that never started (operator cancellation drained the queue)
	// are recorded as killed so the spec-to-result mapping stays 1:1.
	for i := range results {
		if !filled[i] {
			results[i] = Result{
				Endpoint: specs[i].Endpoint,
				Outcome:  Killed(syscall.SIGTERM),
			}
		}
	}

	summary := Summarize(results)
	p.logger.Info("task execution completed",
		"total", summary.Total,
		"successful", summary.Succeeded,
		"failed", summary.Failed,
		"duration", time.Since(startTime))

	return results, nil
}

// worker pulls specs off the queue until it is drained, the run is
// cancelled, or a structural failure aborts the run
func (p *Pool) worker(
	ctx context.Context,
	workerID int,
	taskChan <-chan indexedSpec,
	resultChan chan<- indexedResult,
	wg *sync.WaitGroup,
	abort func(error),
	completed *atomic.Int32,
	total int,
) {
	defer wg.Done()

	p.logger.Debug("worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopping", "worker_id", workerID, "reason", ctx.Err())
			return

		case item, ok := <-taskChan:
			if !ok {
				p.logger.Debug("worker finished", "worker_id", workerID)
				return
			}

			result, err := p.executeTask(ctx, item.spec)
			if err != nil {
				abort(err)
				return
			}

			resultChan <- indexedResult{result: result, index: item.index}

			count := int(completed.Add(1))
			p.logger.Debug("task completed",
				"worker_id", workerID,
				"endpoint", item.spec.Endpoint.Identity(),
				"outcome", result.Outcome.String(),
				"duration", result.Duration,
				"progress", fmt.Sprintf("%d/%d", count, total))

			if p.onResult != nil {
				p.resultMu.Lock()
				p.onResult(count, total, result)
				p.resultMu.Unlock()
			}
		}
	}
}

// executeTask runs one spec to completion. The returned error is the
// structural (run-aborting) path; per-task failures land in the Result.
func (p *Pool) executeTask(ctx context.Context, spec TaskSpec) (Result, error) {
	start := time.Now()

	taskCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var outBuf, errBuf captureBuffer
	var outWriters, errWriters []io.Writer
	if spec.Output.CaptureStdout() {
		outWriters = append(outWriters, &outBuf)
	}
	if spec.Output.CaptureStderr() {
		errWriters = append(errWriters, &errBuf)
	}

	if p.sinks != nil {
		stdout, stderr, err := p.sinks.Open(spec.Endpoint)
		if err != nil {
			return Result{}, util.WrapEndpointError(spec.Endpoint.Identity(), err)
		}
		defer stdout.Close()
		defer stderr.Close()
		outWriters = append(outWriters, stdout)
		errWriters = append(errWriters, stderr)
	}

	outcome, err := p.runner.Run(taskCtx, spec, multiWriter(outWriters), multiWriter(errWriters))
	if err != nil {
		return Result{}, util.WrapEndpointError(spec.Endpoint.Identity(), err)
	}

	return Result{
		Endpoint: spec.Endpoint,
		Outcome:  outcome,
		Stdout:   outBuf.Bytes(),
		Stderr:   errBuf.Bytes(),
		Duration: time.Since(start),
	}, nil
}

func multiWriter(writers []io.Writer) io.Writer {
	switch len(writers) {
	case 0:
		return io.Discard
	case 1:
		return writers[0]
	default:
		return io.MultiWriter(writers...)
	}
}

// captureBuffer is a mutex-guarded byte buffer; runners may write from
// more than one goroutine
type captureBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *captureBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

// indexedSpec pairs a spec with its submission index for result ordering
type indexedSpec struct {
	spec  TaskSpec
	index int
}

// indexedResult pairs a result with its original spec index
type indexedResult struct {
	result Result
	index  int
}
