package output

import (
	"fmt"
	"io"
	"time"

	"github.com/aryankumar/fanout/internal/executor"
	"github.com/olekukonko/tablewriter"
)

// FormatSummary renders the end-of-run per-endpoint table plus a totals
// line
func FormatSummary(w io.Writer, results []executor.Result, noColor bool) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return nil
	}

	colors := NewColorScheme(w, noColor)
	table := newSummaryTable(w)

	headers := []string{"HOST", "STATUS", "DURATION"}
	if colors.Disabled {
		table.SetHeader(headers)
	} else {
		coloredHeaders := make([]string, len(headers))
		for i, h := range headers {
			coloredHeaders[i] = colors.Header(h)
		}
		table.SetHeader(coloredHeaders)
	}

	for _, res := range results {
		table.Append(summaryRow(res, colors))
	}

	table.Render()
	printTotals(w, results, colors)

	return nil
}

// summaryRow formats a single result as a table row
func summaryRow(res executor.Result, colors *ColorScheme) []string {
	host := res.Endpoint.Identity()
	if !colors.Disabled {
		host = colors.Host(host)
	}

	status := statusCell(res.Outcome)
	if !colors.Disabled {
		status = colors.StatusColor(!res.Outcome.Ok())(status)
	}

	duration := res.Duration.Round(time.Millisecond).String()
	if !colors.Disabled {
		duration = colors.Duration(duration)
	}

	return []string{host, status, duration}
}

func statusCell(o executor.Outcome) string {
	switch o.Kind {
	case executor.OutcomeTimedOut:
		return "timeout"
	case executor.OutcomeKilled:
		return fmt.Sprintf("killed (%d)", int(o.Signal))
	default:
		if o.Code == 0 {
			return "OK"
		}
		return fmt.Sprintf("exit %d", o.Code)
	}
}

// newSummaryTable creates a table with kubectl-style configuration
func newSummaryTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	return table
}

// printTotals prints the aggregate line under the table
func printTotals(w io.Writer, results []executor.Result, colors *ColorScheme) {
	summary := executor.Summarize(results)

	successText := fmt.Sprintf("%d succeeded", summary.Succeeded)
	if !colors.Disabled {
		successText = colors.Success(successText)
	}

	failedText := fmt.Sprintf("%d failed", summary.Failed)
	if !colors.Disabled && summary.Failed > 0 {
		failedText = colors.Error(failedText)
	}

	durationText := fmt.Sprintf("max=%s", summary.MaxDuration.Round(time.Millisecond))
	if !colors.Disabled {
		durationText = colors.Duration(durationText)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %s, %s, %s\n", successText, failedText, durationText)
}
