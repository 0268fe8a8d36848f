package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vidscribe/internal/api"
	"vidscribe/internal/task"
)

type watchOptions struct {
	websocket bool
	json      bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var taskID string
	var follow bool
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a media URL for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			id, err := client.Submit(cmd.Context(), strings.TrimSpace(args[0]), strings.TrimSpace(taskID))
			if err != nil {
				return wrapDialError(err, ctx.baseURL())
			}
			if !follow {
				if opts.json {
					return writeJSON(cmd, api.SubmitResponse{TaskID: id})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
			if !opts.json {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s submitted\n", id)
			}
			return followTask(cmd, client, id, opts)
		},
	}
	cmd.Flags().StringVar(&taskID, "id", "", "Task id to use instead of a generated one")
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "Follow progress until the task finishes")
	cmd.Flags().BoolVar(&opts.websocket, "ws", false, "Follow over WebSocket instead of the NDJSON stream")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print JSON instead of text")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show a task snapshot, or daemon status when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			if len(args) == 0 {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return wrapDialError(err, ctx.baseURL())
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				printDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			}

			snap, err := client.Task(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("task %s not found", args[0])
				}
				return wrapDialError(err, ctx.baseURL())
			}
			if asJSON {
				return writeJSON(cmd, snap)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := followTask(cmd, ctx.client(), strings.TrimSpace(args[0]), opts)
			if api.IsNotFound(err) {
				return fmt.Errorf("task %s not found", args[0])
			}
			return wrapDialError(err, ctx.baseURL())
		},
	}
	cmd.Flags().BoolVar(&opts.websocket, "ws", false, "Use the WebSocket push channel instead of the NDJSON stream")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print each frame as a JSON line")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var statusFilter []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retained tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := ctx.client().List(cmd.Context())
			if err != nil {
				return wrapDialError(err, ctx.baseURL())
			}
			snaps, err = filterByStatus(snaps, statusFilter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.TaskListResponse{Tasks: snaps})
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No tasks")
				return nil
			}
			fmt.Fprintln(out, renderTable(taskColumns, taskRows(snaps, time.Now())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().StringSliceVarP(&statusFilter, "status", "s", nil, "Only show tasks in these statuses")
	return cmd
}

// followTask prints frames for id until the end frame. A task that finished
// in error makes the command fail.
func followTask(cmd *cobra.Command, client *api.Client, id string, opts watchOptions) error {
	out := cmd.OutOrStdout()
	colorize := !opts.json && shouldColorize(out)
	var last *task.Snapshot
	var endReason string

	handle := func(frame api.Frame) error {
		if opts.json {
			if frame.Type == api.FrameHeartbeat {
				return nil
			}
			return writeJSONLine(cmd, frame)
		}
		switch frame.Type {
		case api.FrameSnapshot:
			if frame.Snapshot != nil {
				last = frame.Snapshot
				fmt.Fprintln(out, renderProgressLine(*frame.Snapshot, colorize))
			}
		case api.FrameEnd:
			endReason = frame.Reason
		}
		return nil
	}

	var err error
	if opts.websocket {
		err = client.Watch(cmd.Context(), id, handle)
	} else {
		err = client.Stream(cmd.Context(), id, handle)
	}
	if err != nil {
		return err
	}
	if opts.json {
		return nil
	}

	switch {
	case last != nil && last.Status == task.StatusCompleted:
		fmt.Fprintln(out)
		fmt.Fprintln(out, last.Transcription)
		return nil
	case last != nil && last.Status == task.StatusError:
		detail := last.ErrorDetail
		if detail == "" {
			detail = last.Message
		}
		return fmt.Errorf("task %s failed: %s", id, detail)
	case endReason == api.EndTimeout:
		return fmt.Errorf("stopped watching task %s: no update before the stream timed out", id)
	case endReason == api.EndClosed:
		return fmt.Errorf("task %s is no longer tracked by the daemon", id)
	}
	return nil
}

var taskColumns = []column{
	{header: "ID"},
	{header: "Status"},
	{header: "Progress", right: true},
	{header: "Message", maxWidth: 48},
	{header: "Updated", right: true},
}

func taskRows(snaps []task.Snapshot, now time.Time) [][]string {
	rows := make([][]string, 0, len(snaps))
	for _, snap := range snaps {
		rows = append(rows, []string{
			snap.TaskID,
			string(snap.Status),
			fmt.Sprintf("%d%%", snap.Progress),
			snap.Message,
			formatAge(now.Sub(snap.UpdatedAt)),
		})
	}
	return rows
}

func filterByStatus(snaps []task.Snapshot, filters []string) ([]task.Snapshot, error) {
	if len(filters) == 0 {
		return snaps, nil
	}
	want := make(map[task.Status]struct{}, len(filters))
	for _, raw := range filters {
		status, ok := task.ParseStatus(raw)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", raw)
		}
		want[status] = struct{}{}
	}
	out := make([]task.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if _, ok := want[snap.Status]; ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

func printSnapshot(out io.Writer, snap task.Snapshot) {
	fmt.Fprintf(out, "Task:      %s\n", snap.TaskID)
	if snap.SourceURL != "" {
		fmt.Fprintf(out, "Source:    %s\n", snap.SourceURL)
	}
	fmt.Fprintf(out, "Status:    %s\n", snap.Status)
	fmt.Fprintf(out, "Progress:  %d%%\n", snap.Progress)
	fmt.Fprintf(out, "Message:   %s\n", snap.Message)
	fmt.Fprintf(out, "Revision:  %d\n", snap.Revision)
	fmt.Fprintf(out, "Updated:   %s\n", api.FormatTime(snap.UpdatedAt))
	if snap.ErrorDetail != "" {
		fmt.Fprintf(out, "Error:     %s\n", snap.ErrorDetail)
	}
	if snap.Transcription != "" {
		fmt.Fprintf(out, "\n%s\n", snap.Transcription)
	}
}

func printDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Running", statusOK, fmt.Sprintf("pid %d since %s", status.PID, status.StartedAt), colorize))
	if status.LogPath != "" {
		fmt.Fprintln(out, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Workers", statusInfo,
		fmt.Sprintf("%d (free %d, queued %d)", status.Pipeline.Workers, status.Pipeline.Free, status.Pipeline.Waiting), colorize))
	fmt.Fprintln(out, renderStatusLine("Observers", statusInfo,
		fmt.Sprintf("%d topics, %d open streams", status.Topics, status.ActiveStreams), colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, dep := range status.Dependencies {
		if dep.Available {
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusOK, "Ready (command: "+dep.Command+")", colorize))
			continue
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Preflight", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, check := range status.Preflight {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Tasks", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := make([][]string, 0, len(status.Tasks))
	for _, s := range task.AllStatuses() {
		if count, ok := status.Tasks[string(s)]; ok && count > 0 {
			rows = append(rows, []string{string(s), fmt.Sprintf("%d", count)})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No tasks")
		return
	}
	fmt.Fprintln(out, renderTable([]column{{header: "Status"}, {header: "Count", right: true}}, rows))
}
