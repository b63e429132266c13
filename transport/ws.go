package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-tools/internal/collection"
)

// mcpSubprotocol is the websocket subprotocol advertised during the upgrade.
const mcpSubprotocol = "mcp"

// WebSocketConfig configures a websocket transport exchanging JSON-RPC
// messages as text frames.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Headers are sent with the upgrade request.
	Headers map[string]string

	// Timeout bounds the dial; zero uses the dialer default.
	Timeout time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// WebSocket is the socket transport client.
type WebSocket struct {
	config  WebSocketConfig
	logger  *slog.Logger
	conn    *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64
	pending *collection.SyncMap[int, chan *jsonrpc.Response]
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
}

// NewWebSocket dials the endpoint and starts the response reader.
func NewWebSocket(ctx context.Context, config WebSocketConfig) (*WebSocket, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connID := uuid.New().String()
	logger = logger.With("transport", "websocket", "url", config.URL, "connection", connID)

	header := http.Header{}
	for k, v := range config.Headers {
		header.Set(k, v)
	}
	dialer := websocket.Dialer{
		Subprotocols:     []string{mcpSubprotocol},
		HandshakeTimeout: config.Timeout,
	}
	conn, httpResp, err := dialer.DialContext(ctx, config.URL, header)
	if err != nil {
		if httpResp != nil {
			_ = httpResp.Body.Close()
			return nil, &StatusError{Code: httpResp.StatusCode, Body: err.Error()}
		}
		return nil, fmt.Errorf("failed to dial %s: %w", config.URL, err)
	}
	ret := &WebSocket{
		config:  config,
		logger:  logger,
		conn:    conn,
		pending: collection.NewSyncMap[int, chan *jsonrpc.Response](),
		done:    make(chan struct{}),
	}
	go ret.readLoop()
	logger.Debug("websocket connected")
	return ret, nil
}

// readLoop routes incoming frames to their pending request channels; it exits
// when the connection drops or Close runs.
func (t *WebSocket) readLoop() {
	defer t.once.Do(func() { close(t.done) })
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.logger.Debug("websocket read loop terminated", "error", err)
			return
		}
		response := &jsonrpc.Response{}
		if err := json.Unmarshal(data, response); err != nil {
			t.logger.Debug("skipping malformed frame", "error", err)
			continue
		}
		id, ok := jsonrpc.AsRequestIntId(response.Id)
		if !ok {
			// Server-initiated notification; nothing waits on it.
			continue
		}
		if ch, ok := t.pending.Remove(id); ok {
			ch <- response
		}
	}
}

func (t *WebSocket) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Send writes the request frame and waits for the correlated response.
func (t *WebSocket) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
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
	if err := t.write(data); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("websocket closed while awaiting response")
	case response := <-ch:
		return response, nil
	}
}

// Notify writes a notification frame.
func (t *WebSocket) Notify(ctx context.Context, notification *jsonrpc.Notification) error {
	data, err := marshalNotification(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := t.write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close sends a close frame and tears down the connection. Close is
// idempotent; in-flight Send calls fail once the read loop exits.
func (t *WebSocket) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}
