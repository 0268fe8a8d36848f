package api

import (
	"time"

	"vidscribe/internal/deps"
	"vidscribe/internal/notify"
	"vidscribe/internal/preflight"
	"vidscribe/internal/task"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t for payloads; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromBatch converts a notify batch to its wire form.
func FromBatch(b notify.Batch) Events {
	snaps := b.Snapshots
	if snaps == nil {
		snaps = []task.Snapshot{}
	}
	return Events{Snapshots: snaps, Next: b.Next, Done: b.Done}
}

// SnapshotFrame wraps snap for a stream transport.
func SnapshotFrame(snap task.Snapshot) Frame {
	return Frame{Type: FrameSnapshot, Snapshot: &snap}
}

// EndFrame closes a stream with reason.
func EndFrame(reason string) Frame {
	return Frame{Type: FrameEnd, Reason: reason}
}

// FromDependencies converts dependency probes.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromPreflight converts preflight results.
func FromPreflight(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, len(results))
	for i, r := range results {
		out[i] = CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail}
	}
	return out
}

// CountByStatus tallies snapshots per status. Every known status is present.
func CountByStatus(snaps []task.Snapshot) map[string]int {
	counts := make(map[string]int, len(task.AllStatuses()))
	for _, status := range task.AllStatuses() {
		counts[string(status)] = 0
	}
	for _, snap := range snaps {
		counts[string(snap.Status)]++
	}
	return counts
}
