package engine

import (
	"regexp"

	"checkline/internal/domain"
)

// The rule evaluation runner ends its report with one line per expectation
// in this shape. Webhook payloads carry that report as the run summary.
var summaryLine = regexp.MustCompile(`(?m)^expectation ([A-Za-z0-9._-]+): (PASS|FAIL)$`)

// The report header names each spec with the task it verifies.
var summaryTask = regexp.MustCompile(`(?m)^spec \S+ \(task ([A-Za-z0-9._-]+)\)$`)

// ParseRunTaskID extracts the task id from a runner report header, for
// correlating results whose run branch does not identify a task. Returns ""
// when the summary carries no header.
func ParseRunTaskID(text string) string {
	m := summaryTask.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// ParseRunSummary extracts per-expectation outcomes from a runner report.
// An empty map means the summary was not parseable; callers then fall back
// to applying the run conclusion uniformly. That degraded mode is expected
// whenever the report format and this parser drift apart.
func ParseRunSummary(text string) map[string]string {
	matches := summaryLine.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		status := domain.ItemFailed
		if m[2] == "PASS" {
			status = domain.ItemPassed
		}
		out[m[1]] = status
	}
	return out
}
