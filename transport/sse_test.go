package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/jsonrpc"
)

// newSSEServer answers every posted request with the supplied result payload,
// delivered over the event stream.
func newSSEServer(result string) (*httptest.Server, chan struct{}) {
	responses := make(chan string, 8)
	streamClosed := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			data, _ := io.ReadAll(r.Body)
			var request struct {
				Id json.RawMessage `json:"id"`
			}
			_ = json.Unmarshal(data, &request)
			if request.Id != nil {
				responses <- fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, request.Id, result)
			}
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet:
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
			flusher.Flush()
			for {
				select {
				case <-r.Context().Done():
					close(streamClosed)
					return
				case payload := <-responses:
					fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
					flusher.Flush()
				}
			}
		}
	})
	return httptest.NewServer(handler), streamClosed
}

func TestSSE_SendAndClose(t *testing.T) {
	server, streamClosed := newSSEServer(`{"ok":true}`)
	defer server.Close()

	aTransport, err := NewSSE(context.Background(), SSEConfig{URL: server.URL})
	if !assert.Nil(t, err) {
		return
	}
	request, _ := jsonrpc.NewRequest("ping", map[string]string{})
	response, err := aTransport.Send(context.Background(), request)
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, `{"ok":true}`, string(response.Result))

	err = aTransport.Notify(context.Background(), &jsonrpc.Notification{Method: "notifications/initialized"})
	assert.Nil(t, err)

	assert.Nil(t, aTransport.Close())
	select {
	case <-streamClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
	// Close is idempotent.
	assert.Nil(t, aTransport.Close())
}

func TestSSE_RejectedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewSSE(context.Background(), SSEConfig{URL: server.URL})
	if !assert.NotNil(t, err) {
		return
	}
	var statusErr *StatusError
	if assert.ErrorAs(t, err, &statusErr) {
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode())
	}
}

func TestSSE_EndpointTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	_, err := NewSSE(context.Background(), SSEConfig{URL: server.URL, Timeout: 200 * time.Millisecond})
	if assert.NotNil(t, err) {
		assert.Contains(t, err.Error(), "endpoint")
	}
}
