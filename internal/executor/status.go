package executor

import (
	"fmt"
	"time"
)

// Status is the aggregate run status. The constants form a total order
// (Success < TaskFailure < ProtocolFailure < Killed) and the reduction over
// task outcomes is a max-reduce, so the final status is independent of the
// order in which tasks complete.
type Status int

const (
	// StatusSuccess means every task exited with code 0
	StatusSuccess Status = iota

	// StatusTaskFailure means at least one task exited with a nonzero,
	// non-255 code
	StatusTaskFailure

	// StatusProtocolFailure means at least one task exited with code 255,
	// the code the ssh client reserves for its own failures
	StatusProtocolFailure

	// StatusKilled means at least one task was killed or timed out
	StatusKilled
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTaskFailure:
		return "task-failure"
	case StatusProtocolFailure:
		return "protocol-failure"
	case StatusKilled:
		return "killed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ExitCode maps the status to the program exit code
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusTaskFailure:
		return 5
	case StatusProtocolFailure:
		return 4
	case StatusKilled:
		return 3
	default:
		return 1
	}
}

// StatusOf maps one task outcome onto the status order. Timed-out tasks
// share the killed bucket with signal-terminated ones.
func StatusOf(o Outcome) Status {
	switch o.Kind {
	case OutcomeKilled, OutcomeTimedOut:
		return StatusKilled
	case OutcomeCompleted:
		switch {
		case o.Code == 0:
			return StatusSuccess
		case o.Code == 255:
			return StatusProtocolFailure
		default:
			return StatusTaskFailure
		}
	default:
		return StatusKilled
	}
}

// Reduce folds a result set into the aggregate status. The reduction is a
// commutative, associative max over StatusOf, so any completion order yields
// the same status.
func Reduce(results []Result) Status {
	status := StatusSuccess
	for _, r := range results {
		if s := StatusOf(r.Outcome); s > status {
			status = s
		}
	}
	return status
}

// StatusError carries a non-success aggregate status out of the CLI so main
// can map it to the process exit code
type StatusError struct {
	Status Status
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("run finished with status %s", e.Status)
}

// Summary aggregates a result set for reporting
type Summary struct {
	Total       int
	Succeeded   int
	Failed      int
	MaxDuration time.Duration
}

// Summarize computes the run summary
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Outcome.Ok() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if r.Duration > s.MaxDuration {
			s.MaxDuration = r.Duration
		}
	}
	return s
}
