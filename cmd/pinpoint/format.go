package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
)

// formatPinsText formats CLIPin results as aligned columns.
func formatPinsText(w io.Writer, pins []CLIPin) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tPATH\tTYPE\tFILE\tLINE")
	for _, p := range pins {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			p.Name, p.Kind, p.Path, p.ReturnType, p.File, p.StartLine)
	}
	tw.Flush()
}

// formatCompletionText prints the completed word followed by its
// suggestions.
func formatCompletionText(w io.Writer, c CLICompletion) {
	fmt.Fprintf(w, "Word: %q\n\n", c.Word)
	formatPinsText(w, c.Pins)
}

// formatSearchText formats CLISearchResult results as aligned columns.
func formatSearchText(w io.Writer, results []CLISearchResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tLOCATION")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s:%d:%d\n", r.Path, r.Kind, r.File, r.Line, r.Col)
	}
	tw.Flush()
}

// formatLoadStatsText formats CLILoadStats as readable text.
func formatLoadStatsText(w io.Writer, s CLILoadStats) {
	fmt.Fprintln(w, "Index Summary")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Root: %s\n", s.Root)
	fmt.Fprintf(w, "Database: %s\n", s.Database)
	fmt.Fprintf(w, "Discovered: %d\n", s.Discovered)
	fmt.Fprintf(w, "Mapped: %d\n", s.Mapped)
	fmt.Fprintf(w, "Reused: %d\n", s.Reused)
	fmt.Fprintf(w, "Removed: %d\n", s.Removed)
	if s.Failed > 0 {
		fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLIPin:
		formatPinsText(w, v)
	case CLICompletion:
		formatCompletionText(w, v)
	case []CLISearchResult:
		formatSearchText(w, v)
	case CLILoadStats:
		formatLoadStatsText(w, v)
	case nil:
	default:
		return errors.Newf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return errors.Newf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
