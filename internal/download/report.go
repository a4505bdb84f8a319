package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nekoshiro/bmstable-downloader/internal/model"
)

// FailedLogName is the file written next to the downloaded songs,
// listing every failed source URL with its reason.
const FailedLogName = "failed.log"

// Summary is the result of one table run.
type Summary struct {
	// TableName is the table's display name from header.json.
	TableName string

	// Outcomes holds one entry per song group, in completion order.
	Outcomes []model.Outcome

	// Duration is the wall-clock time of the run.
	Duration time.Duration

	// Bytes is the number of payload bytes received.
	Bytes int64
}

// Counts returns the number of succeeded, skipped and failed songs.
func (s *Summary) Counts() (succeeded, skipped, failed int) {
	for _, o := range s.Outcomes {
		switch o.Status {
		case model.StatusSucceeded:
			succeeded++
		case model.StatusSkipped:
			skipped++
		case model.StatusFailed:
			failed++
		}
	}
	return
}

// Failed returns the failed outcomes.
func (s *Summary) Failed() []model.Outcome {
	var failed []model.Outcome
	for _, o := range s.Outcomes {
		if o.Status == model.StatusFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// String formats the end-of-run report.
func (s *Summary) String() string {
	succeeded, skipped, failed := s.Counts()

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d succeeded, %d skipped, %d failed", s.TableName, succeeded, skipped, failed)
	fmt.Fprintf(&b, " in %s", s.Duration.Round(time.Second))
	if s.Bytes > 0 && s.Duration > 0 {
		rate := float64(s.Bytes) / s.Duration.Seconds() / (1 << 20)
		fmt.Fprintf(&b, " (%.1f MiB/s)", rate)
	}
	return b.String()
}

// writeFailedLog writes the failed outcomes to failed.log in the output
// directory, one "url<TAB>reason" line per failure. A clean run removes
// any stale log from a previous one.
func (m *Manager) writeFailedLog(summary *Summary) error {
	logPath := filepath.Join(m.settings.OutputDir, FailedLogName)

	failed := summary.Failed()
	if len(failed) == 0 {
		err := os.Remove(logPath)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	var b strings.Builder
	for _, o := range failed {
		url := o.URL
		if url == "" {
			url = o.DirName
		}
		fmt.Fprintf(&b, "%s\t%s: %s\n", url, o.Stage, o.Reason)
	}
	return os.WriteFile(logPath, []byte(b.String()), 0644)
}
