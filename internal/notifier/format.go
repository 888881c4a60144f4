package notifier

import (
	"fmt"
	"strings"
	"time"

	"syncd/internal/job"
)

const maxErrorText = 300

func formatCompletion(c job.Completion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s completed in %s", c.JobType, c.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "\nprocessed: %d, failed: %d", c.Processed, c.Failed)
	if c.Attempts > 1 {
		fmt.Fprintf(&b, "\nattempts: %d", c.Attempts)
	}
	if c.Source != "" {
		fmt.Fprintf(&b, "\nsource: %s", c.Source)
	}
	return b.String()
}

func formatFailure(f job.Failure) string {
	msg := strings.TrimSpace(f.Error)
	if r := []rune(msg); len(r) > maxErrorText {
		msg = string(r[:maxErrorText]) + "…"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s failed after %d attempt", f.JobType, f.Attempts)
	if f.Attempts != 1 {
		b.WriteString("s")
	}
	if msg != "" {
		fmt.Fprintf(&b, "\nerror: %s", msg)
	}
	if f.Source != "" {
		fmt.Fprintf(&b, "\nsource: %s", f.Source)
	}
	return b.String()
}
