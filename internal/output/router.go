// Package output routes task output to its configured sinks: per-endpoint
// files, inline buffers, and the live console stream. The toggles are
// independent; any subset may be active for one run.
package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aryankumar/fanout/internal/executor"
	"github.com/aryankumar/fanout/internal/hostlist"
)

// Router opens the external output sinks for each task. It implements
// executor.SinkProvider. The output-directory namespace is shared across
// tasks but partitioned by endpoint identity, so per-file writes need no
// cross-task locking.
type Router struct {
	opts    executor.OutputOptions
	printer *Printer
	logger  *slog.Logger
}

// NewRouter creates a router for one run. printer may be nil when live
// printing is off.
func NewRouter(opts executor.OutputOptions, printer *Printer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.LivePrint {
		printer = nil
	}
	return &Router{
		opts:    opts,
		printer: printer,
		logger:  logger,
	}
}

// Prepare creates the configured output directories. It runs before
// scheduling starts; a failure here aborts the run.
func (r *Router) Prepare() error {
	for _, dir := range []string{r.opts.OutDir, r.opts.ErrDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		r.logger.Debug("output directory ready", "dir", dir)
	}
	return nil
}

// Open implements executor.SinkProvider. Files are created fresh, named by
// the endpoint identity. An open failure is structural and aborts the run.
func (r *Router) Open(ep hostlist.Endpoint) (io.WriteCloser, io.WriteCloser, error) {
	var stdout, stderr multiCloser

	if r.opts.OutDir != "" {
		f, err := os.Create(filepath.Join(r.opts.OutDir, ep.Identity()))
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout file: %w", err)
		}
		stdout = append(stdout, f)
	}

	if r.opts.ErrDir != "" {
		f, err := os.Create(filepath.Join(r.opts.ErrDir, ep.Identity()))
		if err != nil {
			stdout.Close()
			return nil, nil, fmt.Errorf("creating stderr file: %w", err)
		}
		stderr = append(stderr, f)
	}

	if r.printer != nil {
		stdout = append(stdout, r.printer.StreamWriter(ep, false))
		stderr = append(stderr, r.printer.StreamWriter(ep, true))
	}

	return stdout.orDiscard(), stderr.orDiscard(), nil
}

// multiCloser fans writes out to several sinks and closes them together
type multiCloser []io.WriteCloser

func (m multiCloser) Write(p []byte) (int, error) {
	for _, w := range m {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (m multiCloser) Close() error {
	var firstErr error
	for _, w := range m {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiCloser) orDiscard() io.WriteCloser {
	if len(m) == 0 {
		return discardCloser{}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

type discardCloser struct{}

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }
