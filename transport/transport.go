// Package transport provides closable JSON-RPC transport clients for the four
// MCP wire transports: stdio subprocess, streamable HTTP, legacy SSE and
// websocket. All transports speak the github.com/viant/jsonrpc message model
// so a session built on one is interchangeable with any other.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/jsonrpc"
)

// Transport is a bidirectional JSON-RPC channel to a single MCP server.
// Send issues a request and blocks for the correlated response; Notify sends
// a one-way notification. Close releases the underlying resource (subprocess,
// stream, socket) and is safe to call more than once.
type Transport interface {
	Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error)
	Notify(ctx context.Context, notification *jsonrpc.Notification) error
	Close() error
}

// Metadata carries transport-level session information that some transports
// expose in addition to the message channel itself.
type Metadata struct {
	// SessionID is the server-assigned session identifier, when the
	// transport negotiates one (streamable HTTP).
	SessionID string
}

// Sessioner is implemented by transports that expose session metadata.
type Sessioner interface {
	Metadata() *Metadata
}

// StatusError reports a non-success HTTP status returned by a server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// notificationEnvelope is the wire form of a notification; it guarantees the
// jsonrpc version marker is present regardless of how the caller built the
// notification value.
type notificationEnvelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func marshalNotification(notification *jsonrpc.Notification) ([]byte, error) {
	return json.Marshal(&notificationEnvelope{
		Jsonrpc: jsonrpc.Version,
		Method:  notification.Method,
		Params:  notification.Params,
	})
}

func marshalRequest(request *jsonrpc.Request) ([]byte, error) {
	if request.Jsonrpc == "" {
		request.Jsonrpc = jsonrpc.Version
	}
	return json.Marshal(request)
}
