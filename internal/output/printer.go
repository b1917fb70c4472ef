package output

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/aryankumar/fanout/internal/hostlist"
)

// Printer streams task output to the console as it arrives, one annotated
// line per chunk line: "host -> text" for stdout, "host => text" for
// stderr. The console is shared by every running task, so the printer
// serializes whole-chunk writes under one lock; lines from different
// endpoints never interleave mid-line.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	colors *ColorScheme
}

// NewPrinter creates a live printer writing stdout lines to out and stderr
// lines to errOut
func NewPrinter(out, errOut io.Writer, colors *ColorScheme) *Printer {
	if colors == nil {
		colors = NewColorScheme(out, true)
	}
	return &Printer{
		out:    out,
		errOut: errOut,
		colors: colors,
	}
}

// StreamWriter returns the live sink for one task stream. Each stream gets
// its own writer so partial-line buffering is per endpoint per stream.
func (p *Printer) StreamWriter(ep hostlist.Endpoint, isStderr bool) io.WriteCloser {
	mark := p.colors.OutMark
	target := p.out
	if isStderr {
		mark = p.colors.ErrMark
		target = p.errOut
	}
	return &lineWriter{
		printer: p,
		target:  target,
		prefix:  fmt.Sprintf("%s %s ", p.colors.Host(ep.Identity()), mark),
	}
}

// write emits one preformatted chunk under the printer lock
func (p *Printer) write(target io.Writer, chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target.Write(chunk)
}

// lineWriter frames a byte stream into annotated lines. Complete lines are
// emitted as a single chunk per Write call; a trailing partial line is held
// back until the next Write or Close.
type lineWriter struct {
	printer *Printer
	target  io.Writer
	prefix  string
	pending []byte
}

// Write implements io.Writer
func (w *lineWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.pending) > 0 {
		data = append(w.pending, p...)
		w.pending = nil
	}

	var chunk bytes.Buffer
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		chunk.WriteString(w.prefix)
		chunk.Write(data[:i+1])
		data = data[i+1:]
	}

	if len(data) > 0 {
		w.pending = append(w.pending, data...)
	}

	if chunk.Len() > 0 {
		w.printer.write(w.target, chunk.Bytes())
	}
	return len(p), nil
}

// Close flushes any unterminated final line
func (w *lineWriter) Close() error {
	if len(w.pending) == 0 {
		return nil
	}
	var chunk bytes.Buffer
	chunk.WriteString(w.prefix)
	chunk.Write(w.pending)
	chunk.WriteByte('\n')
	w.pending = nil
	w.printer.write(w.target, chunk.Bytes())
	return nil
}
