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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/jsonrpc"
)

// sessionHeader is the streamable HTTP session affinity header.
const sessionHeader = "Mcp-Session-Id"

// StreamableConfig configures a streamable HTTP transport. Each JSON-RPC
// request is an HTTP POST; the response arrives either as a plain JSON body
// or as a single-response SSE stream, per the server's choice.
type StreamableConfig struct {
	// URL is the MCP endpoint.
	URL string

	// Headers are forwarded verbatim on every request (e.g. Authorization).
	Headers map[string]string

	// Timeout bounds each HTTP exchange; zero means no transport-level bound.
	Timeout time.Duration

	// Auth, when set, wraps the HTTP client's RoundTripper; it is the
	// credential hook forwarded from the server configuration.
	Auth http.RoundTripper

	// TerminateOnClose issues an HTTP DELETE for the negotiated session when
	// the transport closes.
	TerminateOnClose bool

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// Streamable is the modern HTTP transport client.
type Streamable struct {
	config     StreamableConfig
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64

	mu        sync.RWMutex
	sessionID string
	closed    bool
}

// NewStreamable creates a streamable HTTP transport for the given config.
func NewStreamable(config StreamableConfig) *Streamable {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: config.Timeout}
	if config.Auth != nil {
		httpClient.Transport = config.Auth
	}
	return &Streamable{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With("transport", "streamable", "url", config.URL),
	}
}

// Metadata exposes the server-assigned session id once a request has been
// exchanged.
func (t *Streamable) Metadata() *Metadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Metadata{SessionID: t.sessionID}
}

func (t *Streamable) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.RUnlock()

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s failed: %w", t.config.URL, err)
	}
	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return httpResp, nil
}

// Send posts a request and decodes the correlated response from either a
// JSON body or an SSE-framed body.
func (t *Streamable) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	if request.Id == nil {
		request.Id = t.nextID.Add(1)
	}
	data, err := marshalRequest(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpResp, err := t.post(ctx, data)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<20))
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<10))
		return nil, &StatusError{Code: httpResp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload []byte
	if strings.HasPrefix(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		payload, err = readEventData(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read event stream: %w", err)
		}
	} else {
		payload, err = io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
	}
	response := &jsonrpc.Response{}
	if err := json.Unmarshal(payload, response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return response, nil
}

// Notify posts a notification; 200 and 202 are both accepted.
func (t *Streamable) Notify(ctx context.Context, notification *jsonrpc.Notification) error {
	data, err := marshalNotification(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	httpResp, err := t.post(ctx, data)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<20))
		_ = httpResp.Body.Close()
	}()
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<10))
		return &StatusError{Code: httpResp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// Close optionally terminates the server-side session with an HTTP DELETE.
// The HTTP client itself holds no per-connection resources.
func (t *Streamable) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessionID := t.sessionID
	t.mu.Unlock()

	if !t.config.TerminateOnClose || sessionID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.config.URL, nil)
	if err != nil {
		return err
	}
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(sessionHeader, sessionID)
	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<20))
	return httpResp.Body.Close()
}

// readEventData scans an SSE body and returns the first data payload. The
// streamable transport wraps at most one response per POST.
func readEventData(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
		if line == "" && data.Len() > 0 {
			return data.Bytes(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if data.Len() > 0 {
		return data.Bytes(), nil
	}
	return nil, fmt.Errorf("event stream contained no data")
}
