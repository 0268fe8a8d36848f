package api

import (
	"vidscribe/internal/task"
)

// Frame types written on push and stream transports.
const (
	FrameSnapshot  = "snapshot"
	FrameHeartbeat = "heartbeat"
	FrameEnd       = "end"
)

// End reasons carried by FrameEnd.
const (
	EndTerminal = "terminal"
	EndTimeout  = "liveness_timeout"
	EndClosed   = "topic_closed"
)

// SubmitRequest starts a transcription task.
type SubmitRequest struct {
	URL    string `json:"url"`
	TaskID string `json:"task_id,omitempty"`
}

// SubmitResponse returns the id observers should use.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// TaskListResponse wraps every retained task, oldest first.
type TaskListResponse struct {
	Tasks []task.Snapshot `json:"tasks"`
}

// Events is one long-poll batch.
type Events struct {
	Snapshots []task.Snapshot `json:"snapshots"`
	// Next is the since value for the following request.
	Next uint64 `json:"next"`
	// Done is true once the terminal snapshot has been delivered.
	Done bool `json:"done"`
}

// Frame is one message on the NDJSON stream or the WebSocket.
type Frame struct {
	Type     string         `json:"type"`
	Snapshot *task.Snapshot `json:"snapshot,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	TaskID string `json:"task_id,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult mirrors one startup preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// PipelineStatus reports worker pool occupancy.
type PipelineStatus struct {
	Workers int `json:"workers"`
	Waiting int `json:"waiting"`
	Free    int `json:"free"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	StartedAt     string             `json:"started_at,omitempty"`
	LockFilePath  string             `json:"lock_file_path"`
	LogPath       string             `json:"log_path,omitempty"`
	Tasks         map[string]int     `json:"tasks"`
	Topics        int                `json:"topics"`
	ActiveStreams int64              `json:"active_streams"`
	Pipeline      PipelineStatus     `json:"pipeline"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Preflight     []CheckResult      `json:"preflight"`
}
