package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// printJSON выводит значение с отступами.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRunsTable выводит runs таблицей.
func printRunsTable(w io.Writer, runs []Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSERVERLESS\tDURATION\tCREATED\tERROR")

	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\t%s\n",
			run.ID,
			run.Status,
			run.Serverless,
			formatDuration(run.DurationMs),
			run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(run.Error, 50),
		)
	}

	tw.Flush()
}

// printRunDetails выводит один run в формате key: value.
func printRunDetails(w io.Writer, run *Run) {
	fmt.Fprintf(w, "ID:          %s\n", run.ID)
	fmt.Fprintf(w, "Status:      %s\n", run.Status)
	fmt.Fprintf(w, "Serverless:  %v\n", run.Serverless)
	fmt.Fprintf(w, "Image:       %s\n", run.Image)
	fmt.Fprintf(w, "Created:     %s\n", run.CreatedAt.Local().Format(time.RFC3339))

	if run.StartedAt != nil {
		fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Local().Format(time.RFC3339))
	}
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:    %s\n", run.FinishedAt.Local().Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:    %s\n", formatDuration(run.DurationMs))
	}
	if run.ScratchDir != "" {
		fmt.Fprintf(w, "Scratch:     %s\n", run.ScratchDir)
	}
	if run.ExitCode != nil {
		fmt.Fprintf(w, "Exit code:   %d\n", *run.ExitCode)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", run.Error)
	}
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
