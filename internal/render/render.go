// Package render produces user-facing output from a completed RunSummary.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfgrid/sherlock/internal/schema"
)

// JSON produces the pretty-printed JSON form of the summary, the full
// machine-readable record of the cycle including all warnings and
// rejections.
func JSON(summary *schema.RunSummary) ([]byte, error) {
	if summary == nil {
		return nil, fmt.Errorf("render: nil summary")
	}
	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// Text produces the compact single-line outcome for non-JSON mode.
func Text(summary *schema.RunSummary) string {
	if summary == nil {
		return ""
	}
	var sb strings.Builder

	status := "ok"
	if summary.SubmissionError != "" {
		status = "submission failed"
	}
	fmt.Fprintf(&sb, "cycle %s: %s | passes=%d raw=%d normalized=%d",
		summary.RunID, status, len(summary.Passes), summary.Dedupe.Raw, summary.Normalized)

	if summary.Submission != nil {
		fmt.Fprintf(&sb, " submitted=%d accepted=%d duplicates=%d failed=%d",
			summary.Submission.Submitted, summary.Submission.Accepted,
			summary.Submission.Duplicates, summary.Submission.Failed)
	}
	if summary.DryRun {
		sb.WriteString(" (dry-run)")
	}
	if summary.StateCommitted {
		sb.WriteString(" state=committed")
	}
	if summary.SubmissionError != "" {
		fmt.Fprintf(&sb, " error=%q", summary.SubmissionError)
	}
	return sb.String()
}
