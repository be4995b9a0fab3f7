package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

// FormatSpeed formats a byte rate in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 1 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(bytesPerSecond)) + "/s"
}

// FormatRate formats a file rate
func FormatRate(filesPerSecond float64) string {
	return fmt.Sprintf("%.1f files/s", filesPerSecond)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d > 0 && d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// String renders the snapshot as a single progress line
func (s Snapshot) String() string {
	line := fmt.Sprintf("%d/%d (uploaded %d, skipped %d, failed %d) %s",
		s.Completed, s.Total,
		s.Counts.Uploaded, s.Counts.Skipped, s.Counts.Failed,
		FormatBytes(s.Bytes),
	)
	if s.Rate > 0 {
		line += ", " + FormatRate(s.Rate)
	}
	if s.ETA > 0 {
		line += ", ETA " + FormatDuration(s.ETA)
	}
	return line
}
