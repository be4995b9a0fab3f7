package progress

import (
	"fmt"
	"io"
	"strings"
)

// WriteSummary renders the final report
func WriteSummary(w io.Writer, s Summary) error {
	lines := make([]string, 0, 16+len(s.Failures))

	lines = append(lines, "")
	lines = append(lines, "Sync complete")
	lines = append(lines, strings.Repeat("=", 50))
	lines = append(lines, fmt.Sprintf("Total:      %d files", s.Total))
	lines = append(lines, fmt.Sprintf("Uploaded:   %d", s.Counts.Uploaded))
	lines = append(lines, fmt.Sprintf("Skipped:    %d", s.Counts.Skipped))
	lines = append(lines, fmt.Sprintf("Failed:     %d", s.Counts.Failed))
	lines = append(lines, fmt.Sprintf("Data:       %s", FormatBytes(s.Bytes)))
	lines = append(lines, fmt.Sprintf("Elapsed:    %s", FormatDuration(s.Elapsed)))
	lines = append(lines, fmt.Sprintf("Throughput: %s", FormatRate(s.FilesPerSecond)))

	if len(s.Failures) > 0 {
		lines = append(lines, "")
		lines = append(lines, "Failed files:")
		for _, f := range s.Failures {
			lines = append(lines, fmt.Sprintf("  - %s: %s", f.FileName, f.ErrorMessage))
		}
		if s.FailuresOmitted > 0 {
			lines = append(lines, fmt.Sprintf("  ... and %d more", s.FailuresOmitted))
		}
	}
	lines = append(lines, "")

	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

// Progress returns the completion percentage
func (s Snapshot) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}
