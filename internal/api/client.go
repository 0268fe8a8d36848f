package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"vidscribe/internal/task"
)

// Error is a non-2xx reply from the daemon.
type Error struct {
	StatusCode int
	Message    string
	TaskID     string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the daemon.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to a running daemon over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// NewClient returns a client for baseURL, e.g. http://127.0.0.1:7489.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// Submit starts a task for sourceURL. An empty id lets the daemon pick one.
func (c *Client) Submit(ctx context.Context, sourceURL, id string) (string, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks", SubmitRequest{URL: sourceURL, TaskID: id}, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// Task fetches the current snapshot of id.
func (c *Client) Task(ctx context.Context, id string) (task.Snapshot, error) {
	var snap task.Snapshot
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, &snap)
	return snap, err
}

// List fetches every retained task.
func (c *Client) List(ctx context.Context) ([]task.Snapshot, error) {
	var resp TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

// Events long-polls for snapshots after since. With wait unset it returns
// immediately.
func (c *Client) Events(ctx context.Context, id string, since uint64, wait bool) (Events, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if wait {
		query.Set("wait", "1")
	}
	var resp Events
	err := c.do(ctx, http.MethodGet, taskPath(id)+"/events?"+query.Encode(), nil, &resp)
	return resp, err
}

// Stream reads the NDJSON stream for id, calling fn per frame until the end
// frame, ctx cancellation, or an error from fn.
func (c *Client) Stream(ctx context.Context, id string, fn func(Frame) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+taskPath(id)+"/stream", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			return fmt.Errorf("decode stream frame: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
		if frame.Type == FrameEnd {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// Watch subscribes to id over WebSocket, calling fn per frame until the end
// frame, ctx cancellation, or an error from fn.
func (c *Client) Watch(ctx context.Context, id string, fn func(Frame) error) error {
	wsURL, err := websocketURL(c.baseURL + taskPath(id) + "/ws")
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode/100 != 2 {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
		if frame.Type == FrameEnd {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	var body ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil {
		apiErr.Message = body.Error
		apiErr.TaskID = body.TaskID
	}
	return apiErr
}

func taskPath(id string) string {
	return "/api/tasks/" + url.PathEscape(strings.TrimSpace(id))
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}
