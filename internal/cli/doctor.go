package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"nbassist/internal/doctor"
)

// Doctor prints a health report and returns the exit code.
func Doctor(ctx context.Context, app *App, out io.Writer) int {
	opts := doctor.Options{ConfigPath: app.ConfigPath, BaseURL: app.Config.API.BaseURL, API: app.Agent}
	report := doctor.GenerateReport(ctx, opts)
	printReport(out, report)
	return report.ExitCode()
}

func printReport(out io.Writer, report doctor.Report) {
	fmt.Fprintln(out, "nbassist Doctor Report")
	fmt.Fprintln(out, strings.Repeat("-", 22))

	for _, check := range report.Checks {
		fmt.Fprintf(out, "%s %s - %s\n", formatStatus(check.Status), check.Name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "    %s\n", detail)
		}
		for _, action := range check.Actions {
			fmt.Fprintf(out, "    -> %s\n", action)
		}
		fmt.Fprintln(out)
	}

	if report.ExitCode() == 0 {
		fmt.Fprintln(out, "All checks completed")
	} else {
		fmt.Fprintln(out, "One or more checks failed")
	}
}

func formatStatus(status doctor.Status) string {
	switch status {
	case doctor.StatusOK:
		return "[OK ]"
	case doctor.StatusWarn:
		return "[WARN]"
	case doctor.StatusFail:
		return "[FAIL]"
	default:
		return "[    ]"
	}
}
