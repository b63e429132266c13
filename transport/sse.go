package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-tools/internal/collection"
)

// SSEConfig configures the legacy server-sent events transport: a long-lived
// GET stream delivers responses while requests are POSTed to a per-session
// message endpoint announced by the server.
type SSEConfig struct {
	// URL is the SSE endpoint.
	URL string

	// Headers are forwarded verbatim on the stream and on every POST.
	Headers map[string]string

	// Timeout bounds each message POST.
	Timeout time.Duration

	// ReadTimeout bounds the silence on the event stream; zero disables the
	// watchdog.
	ReadTimeout time.Duration

	// Auth, when set, wraps the HTTP client's RoundTripper.
	Auth http.RoundTripper

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// SSE is the legacy event-stream transport client.
type SSE struct {
	config    SSEConfig
	logger    *slog.Logger
	nextID    atomic.Uint64
	pending   *collection.SyncMap[int, chan *jsonrpc.Response]
	postURL   string
	stream    io.Closer
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	postClient *http.Client
}

// event is a single parsed SSE frame.
type event struct {
	name string
	data string
}

// NewSSE opens the event stream and blocks until the server announces its
// message endpoint. The response reader keeps running until Close.
func NewSSE(ctx context.Context, config SSEConfig) (*SSE, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connID := uuid.New().String()
	logger = logger.With("transport", "sse", "url", config.URL, "connection", connID)

	streamClient := &http.Client{}
	postClient := &http.Client{Timeout: config.Timeout}
	if config.Auth != nil {
		streamClient.Transport = config.Auth
		postClient.Transport = config.Auth
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, config.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	for k, v := range config.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	httpResp, err := streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<10))
		_ = httpResp.Body.Close()
		cancel()
		return nil, &StatusError{Code: httpResp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ret := &SSE{
		config:     config,
		logger:     logger,
		pending:    collection.NewSyncMap[int, chan *jsonrpc.Response](),
		stream:     httpResp.Body,
		cancel:     cancel,
		done:       make(chan struct{}),
		postClient: postClient,
	}

	events := make(chan event, 8)
	go ret.readStream(httpResp.Body, events)

	postURL, err := ret.awaitEndpoint(ctx, events)
	if err != nil {
		_ = ret.Close()
		return nil, err
	}
	ret.postURL = postURL
	go ret.dispatch(events)
	logger.Debug("event stream established", "endpoint", postURL)
	return ret, nil
}

// awaitEndpoint waits for the initial endpoint event and resolves it against
// the stream URL.
func (t *SSE) awaitEndpoint(ctx context.Context, events <-chan event) (string, error) {
	wait := 30 * time.Second
	if t.config.Timeout > 0 {
		wait = t.config.Timeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", fmt.Errorf("timed out waiting for endpoint event")
		case ev, ok := <-events:
			if !ok {
				return "", fmt.Errorf("event stream closed before endpoint event")
			}
			if ev.name != "endpoint" {
				continue
			}
			base, err := url.Parse(t.config.URL)
			if err != nil {
				return "", err
			}
			ref, err := url.Parse(strings.TrimSpace(ev.data))
			if err != nil {
				return "", fmt.Errorf("invalid endpoint event %q: %w", ev.data, err)
			}
			return base.ResolveReference(ref).String(), nil
		}
	}
}

// readStream parses SSE frames and forwards them; it exits when the stream
// errors or Close cancels the request context.
func (t *SSE) readStream(body io.Reader, events chan<- event) {
	defer close(events)

	var watchdog *time.Timer
	if t.config.ReadTimeout > 0 {
		watchdog = time.AfterFunc(t.config.ReadTimeout, func() {
			t.logger.Warn("event stream read timeout", "timeout", t.config.ReadTimeout)
			t.cancel()
		})
		defer watchdog.Stop()
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	current := event{name: "message"}
	var data bytes.Buffer
	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(t.config.ReadTimeout)
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() > 0 {
				current.data = data.String()
				events <- current
				current = event{name: "message"}
				data.Reset()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("event stream terminated", "error", err)
	}
}

// dispatch routes message events to their pending request channels.
func (t *SSE) dispatch(events <-chan event) {
	for ev := range events {
		if ev.name != "message" {
			continue
		}
		response := &jsonrpc.Response{}
		if err := json.Unmarshal([]byte(ev.data), response); err != nil {
			t.logger.Debug("skipping malformed message event", "error", err)
			continue
		}
		id, ok := jsonrpc.AsRequestIntId(response.Id)
		if !ok {
			// Notification from the server; nothing waits on it.
			continue
		}
		if ch, ok := t.pending.Remove(id); ok {
			ch <- response
		}
	}
	t.closeOnce.Do(func() { close(t.done) })
}

// Send posts the request to the message endpoint and waits for the correlated
// response on the event stream.
func (t *SSE) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	if request.Id == nil {
		request.Id = t.nextID.Add(1)
	}
	id, _ := jsonrpc.AsRequestIntId(request.Id)
	ch := make(chan *jsonrpc.Response, 1)
	t.pending.Put(id, ch)
	defer t.pending.Remove(id)

	data, err := marshalRequest(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := t.post(ctx, data); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("event stream closed while awaiting response")
	case response := <-ch:
		return response, nil
	}
}

// Notify posts a notification to the message endpoint.
func (t *SSE) Notify(ctx context.Context, notification *jsonrpc.Notification) error {
	data, err := marshalNotification(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return t.post(ctx, data)
}

func (t *SSE) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.postURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create message request: %w", err)
	}
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := t.postClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("message POST to %s failed: %w", t.postURL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<20))
		_ = httpResp.Body.Close()
	}()
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<10))
		return &StatusError{Code: httpResp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}

// Close terminates the event stream. In-flight Send calls fail with a stream
// closed error. Close is idempotent.
func (t *SSE) Close() error {
	t.cancel()
	err := t.stream.Close()
	t.closeOnce.Do(func() { close(t.done) })
	return err
}
