package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aryankumar/fanout/internal/hostlist"
)

func ep(host string) hostlist.Endpoint {
	return hostlist.Endpoint{Host: host}
}

func spec(host string) TaskSpec {
	return TaskSpec{Endpoint: ep(host), Command: []string{"uptime"}}
}

// okRunner completes immediately with exit code 0
var okRunner = RunnerFunc(func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
	return Completed(0), nil
})

func TestNewPool(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{
			name:            "positive workers",
			workers:         5,
			expectedWorkers: 5,
		},
		{
			name:            "zero workers defaults to 1",
			workers:         0,
			expectedWorkers: 1,
		},
		{
			name:            "negative workers defaults to 1",
			workers:         -5,
			expectedWorkers: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(tt.workers, okRunner, nil, nil)
			if pool == nil {
				t.Fatal("NewPool returned nil")
			}

			if pool.WorkerCount() != tt.expectedWorkers {
				t.Errorf("expected %d workers, got %d", tt.expectedWorkers, pool.WorkerCount())
			}

			if pool.TaskCount() != 0 {
				t.Errorf("expected 0 tasks initially, got %d", pool.TaskCount())
			}
		})
	}
}

func TestPool_Submit(t *testing.T) {
	tests := []struct {
		name        string
		spec        TaskSpec
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid spec",
			spec:    spec("web1"),
			wantErr: false,
		},
		{
			name:        "missing endpoint",
			spec:        TaskSpec{Command: []string{"uptime"}},
			wantErr:     true,
			errContains: "endpoint",
		},
		{
			name:        "missing command",
			spec:        TaskSpec{Endpoint: ep("web1")},
			wantErr:     true,
			errContains: "command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(1, okRunner, nil, nil)
			err := pool.Submit(tt.spec)

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				} else if tt.errContains != "" && !contains(err.Error(), tt.errContains) {
					t.Errorf("expected error to contain %q, got %q", tt.errContains, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if pool.TaskCount() != 1 {
					t.Errorf("expected 1 task, got %d", pool.TaskCount())
				}
			}
		})
	}
}

// Every submitted spec yields exactly one result, in submission order,
// regardless of completion order.
func TestPool_Execute_OneResultPerSpec(t *testing.T) {
	const n = 7

	// Finish in scrambled order by sleeping different amounts
	runner := RunnerFunc(func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
		time.Sleep(time.Duration(len(spec.Endpoint.Host)%3) * 10 * time.Millisecond)
		return Completed(0), nil
	})

	pool := NewPool(4, runner, nil, nil)
	for i := 0; i < n; i++ {
		if err := pool.Submit(spec(fmt.Sprintf("host%d", i))); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	results, err := pool.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, res := range results {
		want := fmt.Sprintf("host%d", i)
		if res.Endpoint.Host != want {
			t.Errorf("result %d endpoint = %q, want %q", i, res.Endpoint.Host, want)
		}
		if !res.Outcome.Ok() {
			t.Errorf("result %d outcome = %v, want clean exit", i, res.Outcome)
		}
	}
}

// Scenario F: with limit 2 and 5 long tasks, the observed peak of
// concurrently running tasks never exceeds 2.
func TestPool_Execute_ConcurrencyBound(t *testing.T) {
	var current, peak atomic.Int32

	runner := RunnerFunc(func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
		cur := current.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return Completed(0), nil
	})

	pool := NewPool(2, runner, nil, nil)
	for i := 0; i < 5; i++ {
		if err := pool.Submit(spec(fmt.Sprintf("host%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	results, err := pool.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", p)
	}
}

// A task running past its timeout is reported TimedOut and does not remain
// active after Execute returns.
func TestPool_Execute_Timeout(t *testing.T) {
	var active atomic.Int32

	runner := RunnerFunc(func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
		active.Add(1)
		defer active.Add(-1)
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return TimedOut(), nil
		}
		return Killed(15), nil
	})

	pool := NewPool(2, runner, nil, nil)
	s := spec("slow1")
	s.Timeout = 50 * time.Millisecond
	if err := pool.Submit(s); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	results, err := pool.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Outcome.Kind != OutcomeTimedOut {
		t.Errorf("outcome = %v, want timed out", results[0].Outcome)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("execute took %v, timeout not enforced", elapsed)
	}
	if a := active.Load(); a != 0 {
		t.Errorf("%d tasks still active after Execute returned", a)
	}
}

// A structural spawn failure aborts the whole run and returns no results.
func TestPool_Execute_RunAbort(t *testing.T) {
	spawnErr := errors.New("cannot allocate process")

	var started atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
		if started.Add(1) == 1 {
			return Outcome{}, spawnErr
		}
		<-ctx.Done()
		return Killed(15), nil
	})

	pool := NewPool(1, runner, nil, nil)
	for i := 0; i < 3; i++ {
		if err := pool.Submit(spec(fmt.Sprintf("host%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	results, err := pool.Execute(context.Background())
	if err == nil {
		t.Fatal("expected run-abort error, got nil")
	}
	if !errors.Is(err, spawnErr) {
		t.Errorf("error should wrap spawn failure, got %v", err)
	}
	if results != nil {
		t.Errorf("aborted run should return no results, got %d", len(results))
	}
}

type failingSinks struct {
	err error
}

func (f *failingSinks) Open(hostlist.Endpoint) (io.WriteCloser, io.WriteCloser, error) {
	return nil, nil, f.err
}

func TestPool_Execute_SinkOpenAborts(t *testing.T) {
	sinkErr := errors.New("output directory vanished")
	pool := NewPool(1, okRunner, &failingSinks{err: sinkErr}, nil)
	if err := pool.Submit(spec("web1")); err != nil {
		t.Fatal(err)
	}

	results, err := pool.Execute(context.Background())
	if err == nil {
		t.Fatal("expected run-abort error, got nil")
	}
	if !errors.Is(err, sinkErr) {
		t.Errorf("error should wrap sink failure, got %v", err)
	}
	if results != nil {
		t.Errorf("aborted run should return no results, got %d", len(results))
	}
}

func TestPool_Execute_InlineCapture(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
		fmt.Fprintf(stdout, "out from %s", spec.Endpoint.Host)
		fmt.Fprintf(stderr, "err from %s", spec.Endpoint.Host)
		return Completed(0), nil
	})

	t.Run("inline captures both streams", func(t *testing.T) {
		pool := NewPool(1, runner, nil, nil)
		s := spec("web1")
		s.Output.Inline = true
		if err := pool.Submit(s); err != nil {
			t.Fatal(err)
		}

		results, err := pool.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got := string(results[0].Stdout); got != "out from web1" {
			t.Errorf("stdout = %q", got)
		}
		if got := string(results[0].Stderr); got != "err from web1" {
			t.Errorf("stderr = %q", got)
		}
	})

	t.Run("inline-stdout captures stdout only", func(t *testing.T) {
		pool := NewPool(1, runner, nil, nil)
		s := spec("web1")
		s.Output.InlineStdout = true
		if err := pool.Submit(s); err != nil {
			t.Fatal(err)
		}

		results, err := pool.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got := string(results[0].Stdout); got != "out from web1" {
			t.Errorf("stdout = %q", got)
		}
		if len(results[0].Stderr) != 0 {
			t.Errorf("stderr should not be captured, got %q", results[0].Stderr)
		}
	})

	t.Run("no capture by default", func(t *testing.T) {
		pool := NewPool(1, runner, nil, nil)
		if err := pool.Submit(spec("web1")); err != nil {
			t.Fatal(err)
		}

		results, err := pool.Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(results[0].Stdout) != 0 || len(results[0].Stderr) != 0 {
			t.Error("output captured without inline option")
		}
	})
}

// Operator cancellation kills running tasks and records unstarted specs as
// killed, preserving the 1:1 mapping.
func TestPool_Execute_Cancellation(t *testing.T) {
	firstStarted := make(chan struct{})
	var once sync.Once

	runner := RunnerFunc(func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
		once.Do(func() { close(firstStarted) })
		<-ctx.Done()
		return Killed(15), nil
	})

	pool := NewPool(1, runner, nil, nil)
	for i := 0; i < 3; i++ {
		if err := pool.Submit(spec(fmt.Sprintf("host%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-firstStarted
		cancel()
	}()
	defer cancel()

	results, err := pool.Execute(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if StatusOf(res.Outcome) != StatusKilled {
			t.Errorf("result %d outcome = %v, want killed", i, res.Outcome)
		}
	}
	if Reduce(results).ExitCode() != 3 {
		t.Errorf("cancelled run should exit 3, got %d", Reduce(results).ExitCode())
	}
}

func TestPool_OnResult(t *testing.T) {
	pool := NewPool(3, okRunner, nil, nil)
	const n = 6
	for i := 0; i < n; i++ {
		if err := pool.Submit(spec(fmt.Sprintf("host%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	var calls atomic.Int32
	var lastTotal atomic.Int32
	pool.OnResult(func(completed, total int, res Result) {
		calls.Add(1)
		lastTotal.Store(int32(total))
	})

	if _, err := pool.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	if calls.Load() != n {
		t.Errorf("hook called %d times, want %d", calls.Load(), n)
	}
	if lastTotal.Load() != n {
		t.Errorf("hook total = %d, want %d", lastTotal.Load(), n)
	}
}

func TestPool_Execute_Empty(t *testing.T) {
	pool := NewPool(2, okRunner, nil, nil)
	results, err := pool.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
