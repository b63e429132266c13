package client

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-protocol/schema"
)

// mockTransport scripts responses per method and records traffic.
type mockTransport struct {
	requests      []*jsonrpc.Request
	notifications []*jsonrpc.Notification
	results       map[string][]string
	errors        map[string]*jsonrpc.Error
	closed        int
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		results: map[string][]string{},
		errors:  map[string]*jsonrpc.Error{},
	}
}

func (m *mockTransport) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	m.requests = append(m.requests, request)
	response := &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: request.Id}
	if rpcErr, ok := m.errors[request.Method]; ok {
		response.Error = rpcErr
		return response, nil
	}
	queue := m.results[request.Method]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected method %v", request.Method)
	}
	response.Result = json.RawMessage(queue[0])
	if len(queue) > 1 {
		m.results[request.Method] = queue[1:]
	}
	return response, nil
}

func (m *mockTransport) Notify(ctx context.Context, notification *jsonrpc.Notification) error {
	m.notifications = append(m.notifications, notification)
	return nil
}

func (m *mockTransport) Close() error {
	m.closed++
	return nil
}

func initializedClient(t *testing.T, mock *mockTransport) *Client {
	mock.results[schema.MethodInitialize] = []string{
		`{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":"stub","version":"1.0"}}`,
	}
	ret := New("test-client", "0.1", mock)
	_, err := ret.Initialize(context.Background())
	assert.Nil(t, err)
	return ret
}

func TestClient_Initialize(t *testing.T) {
	mock := newMockTransport()
	mock.results[schema.MethodInitialize] = []string{
		`{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":"stub","version":"2.3"}}`,
	}
	aClient := New("test-client", "0.1", mock)
	result, err := aClient.Initialize(context.Background())
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, "stub", result.ServerInfo.Name)
	assert.Equal(t, "2.3", result.ServerInfo.Version)

	if assert.Equal(t, 1, len(mock.requests)) {
		assert.Equal(t, schema.MethodInitialize, mock.requests[0].Method)
	}
	if assert.Equal(t, 1, len(mock.notifications)) {
		assert.Equal(t, schema.MethodNotificationInitialized, mock.notifications[0].Method)
	}
}

func TestClient_InitializeRejected(t *testing.T) {
	mock := newMockTransport()
	mock.errors[schema.MethodInitialize] = jsonrpc.NewMethodNotFound("initialize", nil)
	aClient := New("test-client", "0.1", mock)
	_, err := aClient.Initialize(context.Background())
	assert.NotNil(t, err)
	assert.Equal(t, 0, len(mock.notifications))
}

func TestClient_RequiresInitialize(t *testing.T) {
	mock := newMockTransport()
	aClient := New("test-client", "0.1", mock)
	_, err := aClient.ListTools(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = aClient.CallTool(context.Background(), &schema.CallToolRequestParams{Name: "x"})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestClient_ListAllTools(t *testing.T) {
	mock := newMockTransport()
	mock.results[schema.MethodToolsList] = []string{
		`{"tools":[{"name":"a","inputSchema":{"type":"object"}}],"nextCursor":"next"}`,
		`{"tools":[{"name":"b","inputSchema":{"type":"object"}}]}`,
	}
	aClient := initializedClient(t, mock)

	tools, err := aClient.ListAllTools(context.Background())
	if !assert.Nil(t, err) {
		return
	}
	if assert.Equal(t, 2, len(tools)) {
		assert.Equal(t, "a", tools[0].Name)
		assert.Equal(t, "b", tools[1].Name)
	}
	// initialize + two list pages
	assert.Equal(t, 3, len(mock.requests))
}

func TestClient_CallTool(t *testing.T) {
	mock := newMockTransport()
	mock.results[schema.MethodToolsCall] = []string{
		`{"content":[{"type":"text","text":"done"}]}`,
	}
	aClient := initializedClient(t, mock)

	result, err := aClient.CallTool(context.Background(), &schema.CallToolRequestParams{
		Name:      "echo",
		Arguments: map[string]interface{}{"value": 1},
	})
	if !assert.Nil(t, err) {
		return
	}
	if assert.Equal(t, 1, len(result.Content)) {
		// Wire results decode content elements as generic maps.
		elem, ok := result.Content[0].(map[string]interface{})
		if assert.True(t, ok) {
			assert.Equal(t, "text", elem["type"])
			assert.Equal(t, "done", elem["text"])
		}
	}
}

func TestClient_Close(t *testing.T) {
	mock := newMockTransport()
	aClient := initializedClient(t, mock)
	assert.Nil(t, aClient.Close())
	assert.Equal(t, 1, mock.closed)
}
