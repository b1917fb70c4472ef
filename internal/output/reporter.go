package output

import (
	"fmt"
	"io"
	"time"

	"github.com/aryankumar/fanout/internal/executor"
)

// Reporter prints per-task status lines as tasks complete and the buffered
// inline output after the run. Status lines go to errOut so they never mix
// with captured task stdout.
type Reporter struct {
	out    io.Writer
	errOut io.Writer
	colors *ColorScheme
	now    func() time.Time
}

// NewReporter creates a reporter
func NewReporter(out, errOut io.Writer, colors *ColorScheme) *Reporter {
	if colors == nil {
		colors = NewColorScheme(errOut, true)
	}
	return &Reporter{
		out:    out,
		errOut: errOut,
		colors: colors,
		now:    time.Now,
	}
}

// TaskDone prints one completion line:
//
//	[3] 12:05:01 [SUCCESS] admin@web1:2222
//	[4] 12:05:03 [FAILURE] web2 exited with error code 1
//
// It is wired as the pool's OnResult hook, which serializes calls.
func (r *Reporter) TaskDone(completed, total int, res executor.Result) {
	progress := r.colors.Progress("[%d]", completed)
	tstamp := r.now().Format("15:04:05")
	identity := res.Endpoint.Identity()

	if res.Outcome.Ok() {
		fmt.Fprintf(r.errOut, "%s %s %s %s\n",
			progress, tstamp, r.colors.Success("[SUCCESS]"), identity)
		return
	}
	fmt.Fprintf(r.errOut, "%s %s %s %s %s\n",
		progress, tstamp, r.colors.Error("[FAILURE]"), identity,
		r.colors.Error("%s", res.Outcome))
}

// PrintInline writes the buffered output of every task in submission
// order: the stdout buffer verbatim, then a marked stderr buffer.
func (r *Reporter) PrintInline(results []executor.Result) {
	for _, res := range results {
		if len(res.Stdout) > 0 {
			r.out.Write(res.Stdout)
			if res.Stdout[len(res.Stdout)-1] != '\n' {
				io.WriteString(r.out, "\n")
			}
		}
		if len(res.Stderr) > 0 {
			io.WriteString(r.out, r.colors.Error("Stderr: "))
			r.out.Write(res.Stderr)
			if res.Stderr[len(res.Stderr)-1] != '\n' {
				io.WriteString(r.out, "\n")
			}
		}
	}
}
