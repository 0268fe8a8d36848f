// Package progress is the single writer of task state. Publisher.Submit
// registers a task and opens its notification topic; Publisher.Report
// validates a pipeline report against the status machine, commits it to the
// registry and publishes the resulting snapshot, all under the task's entry
// lock so observers see commits in order.
package progress
