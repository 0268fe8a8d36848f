// Package logging builds the slog loggers used by vidscribe.
//
// It owns the console and JSON handlers, level parsing and output fan-out,
// and the standard field keys (component, task_id, stage, event_type, ...).
// WithContext tags a logger with the task and stage carried on a context so
// pipeline and publisher code do not have to thread ids through every call.
// NewNop returns a logger for tests and for wiring that cannot fail.
package logging
