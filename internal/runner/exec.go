// Package runner provides the remote-command runners consumed by the
// dispatcher: ExecRunner drives the system ssh binary as an opaque
// process-spawning primitive, NativeRunner speaks the SSH protocol
// directly. Both translate process termination into task outcomes and
// never surface per-task failures as errors.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/aryankumar/fanout/internal/executor"
)

// DefaultGrace is the interval between the graceful termination signal and
// the force kill during task teardown
const DefaultGrace = 3 * time.Second

// DefaultSSHArgs are the baseline client options passed to the ssh binary
var DefaultSSHArgs = []string{"-o", "NumberOfPasswordPrompts=1"}

// ExecRunner runs each task by spawning the configured ssh binary.
// Every process gets its own process group so teardown signals reach the
// whole remote-client subtree.
type ExecRunner struct {
	// Binary is the client executable (default "ssh")
	Binary string

	// ExtraArgs are inserted between the binary and the endpoint options
	ExtraArgs []string

	// User is the login name for endpoints that do not specify one
	// (empty = let the client decide)
	User string

	// Grace is the TERM-to-KILL interval (default DefaultGrace)
	Grace time.Duration

	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner
func NewExecRunner(binary string, extraArgs []string, grace time.Duration, logger *slog.Logger) *ExecRunner {
	if binary == "" {
		binary = "ssh"
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		Binary:    binary,
		ExtraArgs: extraArgs,
		Grace:     grace,
		logger:    logger,
	}
}

// argv builds the full command line for one task
func (r *ExecRunner) argv(spec executor.TaskSpec) []string {
	args := make([]string, 0, len(r.ExtraArgs)+len(spec.Command)+6)
	args = append(args, r.Binary)
	args = append(args, r.ExtraArgs...)
	if spec.Endpoint.Port != "" {
		args = append(args, "-p", spec.Endpoint.Port)
	}
	login := spec.Endpoint.User
	if login == "" {
		login = r.User
	}
	if login != "" {
		args = append(args, "-l", login)
	}
	args = append(args, spec.Endpoint.Host)
	args = append(args, spec.Command...)
	return args
}

// Run implements executor.Runner. A start failure is returned as an error
// (run abort); everything after a successful start lands in the Outcome.
func (r *ExecRunner) Run(ctx context.Context, spec executor.TaskSpec, stdout, stderr io.Writer) (executor.Outcome, error) {
	argv := r.argv(spec)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdin io.WriteCloser
	if spec.Stdin != nil {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return executor.Outcome{}, fmt.Errorf("allocating stdin pipe: %w", err)
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		return executor.Outcome{}, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	r.logger.Debug("process started",
		"endpoint", spec.Endpoint.Identity(),
		"pid", cmd.Process.Pid)

	if stdin != nil {
		// Write errors are expected when the process exits before
		// draining its input (EPIPE) and must not fail the task.
		go func() {
			stdin.Write(spec.Stdin)
			stdin.Close()
		}()
	}

	return r.reap(ctx, spec, cmd)
}

// reap waits for the process, tearing it down when the task context ends:
// TERM to the process group, then KILL after the grace interval.
func (r *ExecRunner) reap(ctx context.Context, spec executor.TaskSpec, cmd *exec.Cmd) (executor.Outcome, error) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return translateWait(err)
	case <-ctx.Done():
	}

	pgid := -cmd.Process.Pid
	killSig := syscall.SIGTERM
	syscall.Kill(pgid, syscall.SIGTERM)

	timer := time.NewTimer(r.Grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		killSig = syscall.SIGKILL
		syscall.Kill(pgid, syscall.SIGKILL)
		<-done
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Debug("task timed out", "endpoint", spec.Endpoint.Identity())
		return executor.TimedOut(), nil
	}
	r.logger.Debug("task interrupted", "endpoint", spec.Endpoint.Identity())
	return executor.Killed(killSig), nil
}

// translateWait maps a Wait error onto a task outcome
func translateWait(err error) (executor.Outcome, error) {
	if err == nil {
		return executor.Completed(0), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return executor.Killed(ws.Signal()), nil
			}
			return executor.Completed(ws.ExitStatus()), nil
		}
		return executor.Completed(exitErr.ExitCode()), nil
	}

	// Wait itself failed; the process state is unknown, which is a
	// structural failure rather than a task outcome.
	return executor.Outcome{}, fmt.Errorf("waiting for process: %w", err)
}
