package analyzer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Severity thresholds on still-live bytes.
const (
	criticalThreshold = 1 << 20   // 1 MiB
	warningThreshold  = 100 << 10 // 100 KiB
)

// StackSummary is one call site's contribution to the report: its
// resolved frames (innermost first) and the cumulative bytes ever
// allocated there.
type StackSummary struct {
	StackID         uint64   `json:"stack_id"`
	Label           string   `json:"label"`
	Frames          []string `json:"frames"`
	CumulativeBytes uint64   `json:"cumulative_bytes"`
}

// Report is the full result of analyzing one trace file.
type Report struct {
	EventCounts         map[string]uint64 `json:"event_counts"`
	StillAllocatedCount int               `json:"still_allocated_count"`
	StillAllocatedBytes uint64            `json:"still_allocated_bytes"`
	TotalAllocatedBytes uint64            `json:"total_allocated_bytes"`
	TotalFreedBytes     uint64            `json:"total_freed_bytes"`
	TopStacks           []StackSummary    `json:"top_stacks"`
	Truncated           bool              `json:"truncated"`
	Severity            string            `json:"severity"`
	GCSource            string            `json:"gc_source,omitempty"`
}

func severityFor(stillAllocatedBytes uint64) string {
	switch {
	case stillAllocatedBytes > criticalThreshold:
		return "CRITICAL"
	case stillAllocatedBytes > warningThreshold:
		return "WARNING"
	default:
		return ""
	}
}

// Text renders the report as the human-readable table cmd/mlyze analyze
// prints by default.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event counts:\n")
	kinds := make([]string, 0, len(r.EventCounts))
	for k := range r.EventCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %-8s %d\n", k, r.EventCounts[k])
	}

	fmt.Fprintf(&b, "\nstill allocated: %d object(s), %d bytes\n", r.StillAllocatedCount, r.StillAllocatedBytes)
	fmt.Fprintf(&b, "total allocated: %d bytes\n", r.TotalAllocatedBytes)
	fmt.Fprintf(&b, "total freed:     %d bytes\n", r.TotalFreedBytes)
	if r.Severity != "" {
		fmt.Fprintf(&b, "severity:        %s\n", r.Severity)
	}
	if r.GCSource != "" {
		fmt.Fprintf(&b, "gc source:       %s\n", r.GCSource)
	}
	if r.Truncated {
		fmt.Fprintf(&b, "\nwarning: trace ends mid-event; the partial trailing event was discarded\n")
	}

	fmt.Fprintf(&b, "\ntop %d call sites by cumulative bytes:\n", len(r.TopStacks))
	for i, s := range r.TopStacks {
		fmt.Fprintf(&b, "  %d. %d bytes  %s\n", i+1, s.CumulativeBytes, s.Label)
	}
	return b.String()
}

// JSON renders the report as indented JSON, for `mlyze analyze --json`.
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func stackLabel(frames []string) string {
	if len(frames) == 0 {
		return "<no frames>"
	}
	return frames[0]
}

func fallbackLabel(stackID uint64) string {
	return "stack_" + strconv.FormatUint(stackID, 10)
}
