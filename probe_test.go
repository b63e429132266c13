package mcptools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/mcp-tools/transport"
)

func TestProbeStreamable_Supported(t *testing.T) {
	var seen struct {
		method      string
		contentType string
		accept      string
		custom      string
		body        map[string]interface{}
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.contentType = r.Header.Get("Content-Type")
		seen.accept = r.Header.Get("Accept")
		seen.custom = r.Header.Get("X-Api-Key")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &seen.body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer server.Close()

	headers := map[string]string{
		"X-Api-Key": "secret",
		// Callers cannot override the forced negotiation headers.
		"Accept":       "text/html",
		"Content-Type": "text/plain",
	}
	ok, err := probeStreamable(context.Background(), server.URL, headers, time.Second, nil, discardLogger())
	assert.Nil(t, err)
	assert.True(t, ok)

	assert.Equal(t, http.MethodPost, seen.method)
	assert.Equal(t, "application/json", seen.contentType)
	assert.Equal(t, "application/json, text/event-stream", seen.accept)
	assert.Equal(t, "secret", seen.custom)
	assert.Equal(t, "2.0", seen.body["jsonrpc"])
	assert.Equal(t, "initialize", seen.body["method"])
	assert.Equal(t, float64(1), seen.body["id"])
	params, _ := seen.body["params"].(map[string]interface{})
	if assert.NotNil(t, params) {
		assert.NotEmpty(t, params["protocolVersion"])
	}
}

func TestProbeStreamable_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not acceptable", http.StatusNotFound)
	}))
	defer server.Close()

	ok, err := probeStreamable(context.Background(), server.URL, nil, time.Second, nil, discardLogger())
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestProbeStreamable_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	ok, err := probeStreamable(context.Background(), server.URL, nil, time.Second, nil, discardLogger())
	assert.False(t, ok)
	if assert.NotNil(t, err) {
		var statusErr *transport.StatusError
		assert.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
		assert.False(t, Is4xxError(err))
	}
}

func TestProbeStreamable_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	ok, err := probeStreamable(context.Background(), server.URL, nil, time.Second, nil, discardLogger())
	assert.False(t, ok)
	assert.NotNil(t, err)
	assert.False(t, Is4xxError(err))
}
