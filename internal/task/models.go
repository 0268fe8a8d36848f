package task

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a transcription task.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusDownloading  Status = "downloading"
	StatusConverting   Status = "converting"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusConverting,
	StatusTranscribing,
	StatusCompleted,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// State is the mutable record owned by the registry. Only the progress
// publisher changes it, and only through registry.Apply.
type State struct {
	ID            string
	SourceURL     string
	Progress      int
	Status        Status
	Message       string
	Transcription string
	ErrorDetail   string
	Revision      uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    time.Time
}

// Snapshot is an immutable copy of a task's state at one revision.
type Snapshot struct {
	TaskID        string     `json:"task_id"`
	Progress      int        `json:"progress"`
	Status        Status     `json:"status"`
	Message       string     `json:"message"`
	Transcription string     `json:"transcription,omitempty"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	Revision      uint64     `json:"revision"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Snapshot copies the state into its observer-facing form.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		TaskID:        s.ID,
		Progress:      s.Progress,
		Status:        s.Status,
		Message:       s.Message,
		Transcription: s.Transcription,
		ErrorDetail:   s.ErrorDetail,
		SourceURL:     s.SourceURL,
		Revision:      s.Revision,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

// IsTerminal reports whether the snapshot carries a terminal status.
func (s Snapshot) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// SameValue reports whether two snapshots carry the same observable value.
// Revision and timestamps are ignored so repeated identical reports coalesce.
func (s Snapshot) SameValue(other Snapshot) bool {
	return s.TaskID == other.TaskID &&
		s.Progress == other.Progress &&
		s.Status == other.Status &&
		s.Message == other.Message &&
		s.Transcription == other.Transcription &&
		s.ErrorDetail == other.ErrorDetail
}

// Update is a single progress report from the pipeline. Progress and Status
// are always applied; empty Message, Transcription, and Detail mean "not
// supplied".
type Update struct {
	Progress      int
	Status        Status
	Message       string
	Transcription string
	Detail        string
}

// ClampProgress bounds a percentage to [0,100].
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
