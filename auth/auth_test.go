package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/scy/auth/flow"
	"golang.org/x/oauth2"
)

type mockFlow struct {
	calls int32
	token *oauth2.Token
	err   error
}

func (m *mockFlow) Token(ctx context.Context, config *oauth2.Config, options ...flow.Option) (*oauth2.Token, error) {
	atomic.AddInt32(&m.calls, 1)
	return m.token, m.err
}

func TestRoundTripper_RetriesOn401(t *testing.T) {
	var authorized []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		authorized = append(authorized, header)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	aFlow := &mockFlow{token: &oauth2.Token{
		AccessToken: "granted",
		Expiry:      time.Now().Add(time.Hour),
	}}
	rt := New(&oauth2.Config{ClientID: "test"}, WithAuthFlow(aFlow))
	httpClient := &http.Client{Transport: rt}

	resp, err := httpClient.Get(server.URL)
	if !assert.Nil(t, err) {
		return
	}
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer granted"}, authorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&aFlow.calls))

	// The cached token rides on the next request without re-running the flow
	// or probing unauthenticated.
	resp, err = httpClient.Get(server.URL)
	if !assert.Nil(t, err) {
		return
	}
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer granted", "Bearer granted"}, authorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&aFlow.calls))
}

func TestRoundTripper_PassthroughWithout401(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	aFlow := &mockFlow{}
	rt := New(&oauth2.Config{ClientID: "test"}, WithAuthFlow(aFlow))
	resp, err := (&http.Client{Transport: rt}).Get(server.URL)
	if !assert.Nil(t, err) {
		return
	}
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), atomic.LoadInt32(&aFlow.calls))
}
