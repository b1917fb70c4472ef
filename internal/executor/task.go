package executor

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/aryankumar/fanout/internal/hostlist"
)

// OutputOptions is the per-task output routing policy.
// The toggles are independent and any subset may be active at once.
type OutputOptions struct {
	// LivePrint streams annotated output to the console as it arrives
	LivePrint bool

	// Inline buffers stdout and stderr for end-of-run display
	Inline bool

	// InlineStdout buffers stdout only
	InlineStdout bool

	// OutDir is the directory for per-endpoint stdout files (empty = off)
	OutDir string

	// ErrDir is the directory for per-endpoint stderr files (empty = off)
	ErrDir string
}

// CaptureStdout reports whether stdout must be buffered into the Result
func (o OutputOptions) CaptureStdout() bool {
	return o.Inline || o.InlineStdout
}

// CaptureStderr reports whether stderr must be buffered into the Result
func (o OutputOptions) CaptureStderr() bool {
	return o.Inline
}

// TaskSpec is the immutable description of one unit of remote work.
// Specs are built once, before scheduling begins.
type TaskSpec struct {
	// Endpoint is the target device
	Endpoint hostlist.Endpoint

	// Command is the command and its arguments
	Command []string

	// Stdin is delivered as the task's standard input (nil = closed stdin)
	Stdin []byte

	// Timeout bounds the task's running time (0 = unlimited)
	Timeout time.Duration

	// Output is the output routing policy
	Output OutputOptions
}

// OutcomeKind discriminates how a task's process terminated
type OutcomeKind int

const (
	// OutcomeCompleted means the process exited on its own
	OutcomeCompleted OutcomeKind = iota

	// OutcomeKilled means the process was terminated by a signal
	OutcomeKilled

	// OutcomeTimedOut means the dispatcher killed the process after its
	// timeout elapsed
	OutcomeTimedOut
)

// Outcome records how a task's process terminated
type Outcome struct {
	Kind OutcomeKind

	// Code is the exit code when Kind is OutcomeCompleted
	Code int

	// Signal is the terminating signal when Kind is OutcomeKilled
	Signal syscall.Signal
}

// Completed returns an Outcome for a process that exited with code
func Completed(code int) Outcome {
	return Outcome{Kind: OutcomeCompleted, Code: code}
}

// Killed returns an Outcome for a process terminated by sig
func Killed(sig syscall.Signal) Outcome {
	return Outcome{Kind: OutcomeKilled, Signal: sig}
}

// TimedOut returns an Outcome for a process killed on timeout
func TimedOut() Outcome {
	return Outcome{Kind: OutcomeTimedOut}
}

// Ok reports whether the outcome is a clean zero exit
func (o Outcome) Ok() bool {
	return o.Kind == OutcomeCompleted && o.Code == 0
}

// String returns a short human-readable description
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeKilled:
		return fmt.Sprintf("killed by signal %d", int(o.Signal))
	case OutcomeTimedOut:
		return "timed out"
	default:
		if o.Code == 0 {
			return "exited with 0"
		}
		return fmt.Sprintf("exited with error code %d", o.Code)
	}
}

// Result is the outcome record produced when a task finishes
type Result struct {
	// Endpoint is the task's target
	Endpoint hostlist.Endpoint

	// Outcome records how the process terminated
	Outcome Outcome

	// Stdout holds inline-captured standard output (nil unless captured)
	Stdout []byte

	// Stderr holds inline-captured standard error (nil unless captured)
	Stderr []byte

	// Duration is how long the task ran
	Duration time.Duration
}

// Runner spawns the remote command for one task and routes its output.
// A non-nil error means the process could not be spawned at all; that is a
// structural failure which aborts the whole run. Per-task failures (nonzero
// exit, signal, timeout) are reported through the Outcome, never the error.
//
// The context carries the task's deadline; on expiry the runner must tear
// the process down and report OutcomeTimedOut (or OutcomeKilled for a plain
// cancellation).
type Runner interface {
	Run(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error)

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context, spec TaskSpec, stdout, stderr io.Writer) (Outcome, error) {
	return f(ctx, spec, stdout, stderr)
}

// SinkProvider opens the external output sinks (files, live console) for one
// task. Open failure is a structural error that aborts the run.
type SinkProvider interface {
	Open(ep hostlist.Endpoint) (stdout, stderr io.WriteCloser, err error)
}
