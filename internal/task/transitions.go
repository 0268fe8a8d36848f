package task

// pipelineOrder is the forward path every task walks. StatusError is
// reachable from any non-terminal status and is handled separately.
var pipelineOrder = map[Status]Status{
	StatusQueued:       StatusDownloading,
	StatusDownloading:  StatusConverting,
	StatusConverting:   StatusTranscribing,
	StatusTranscribing: StatusCompleted,
}

// InitialStatuses lists the statuses a task may be created in.
func InitialStatuses() []Status {
	return []Status{StatusQueued, StatusDownloading}
}

// Next returns the forward successor of a status, if any.
func (s Status) Next() (Status, bool) {
	next, ok := pipelineOrder[s]
	return next, ok
}

// CanTransition reports whether a report moving from -> to is legal.
// Staying in the same non-terminal status is legal so stages can report
// intra-stage progress.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if _, ok := statusSet[to]; !ok {
		return false
	}
	if to == from || to == StatusError {
		return true
	}
	next, ok := pipelineOrder[from]
	return ok && next == to
}
