package harness

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-harness/registry"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

// MethodResult is the outcome of one invoked test method.
type MethodResult struct {
	registry.Entry
	Result *types.TestResult
}

// RunResult collects every method result of one harness run.
type RunResult struct {
	RunID    string
	Mode     types.ExecutionMode
	Methods  []MethodResult
	Duration time.Duration
}

// Passed returns the number of passed methods
func (r *RunResult) Passed() int {
	n := 0
	for _, m := range r.Methods {
		if m.Result.IsPassed() {
			n++
		}
	}
	return n
}

// Failed returns the number of failed methods
func (r *RunResult) Failed() int {
	return len(r.Methods) - r.Passed()
}

// Status is FAILED if any method failed
func (r *RunResult) Status() types.Status {
	if r.Failed() > 0 {
		return types.StatusFailed
	}
	return types.StatusPassed
}

func (r *RunResult) String() string {
	return fmt.Sprintf("Run %s (%s): %d passed, %d failed, %s",
		r.RunID, r.Mode, r.Passed(), r.Failed(), formatDuration(r.Duration))
}

// printResultsTable writes a per-method table of the run to w.
func printResultsTable(w io.Writer, r *RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Test Results %s (%s)", r.Mode, formatDuration(r.Duration)))

	t.AppendHeader(table.Row{
		"Suite", "Class", "Method", "Duration", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Suite", AutoMerge: true},
		{Name: "Class", AutoMerge: true, WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, m := range r.Methods {
		t.AppendRow(table.Row{
			m.Suite,
			m.ClassName,
			m.MethodName,
			formatDuration(m.Result.Duration()),
			getResultString(m.Result.Status),
			failureMessage(m.Result),
		})
	}

	if r.Status() == types.StatusPassed {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d passed", r.Passed()),
		fmt.Sprintf("%d failed", r.Failed()),
		formatDuration(r.Duration),
		getResultString(r.Status()),
		"",
	})

	t.Render()
}

// failureMessage keeps the first line of a failure for display.
func failureMessage(r *types.TestResult) string {
	if r.Failure == nil {
		return ""
	}
	msg := r.Failure.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

func getResultString(status types.Status) string {
	switch status {
	case types.StatusPassed:
		return "✓ pass"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
