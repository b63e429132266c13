// Package auth provides a pre-configured OAuth2 round tripper for HTTP based
// MCP transports. The client config is loaded through scy, so it can live in
// an encrypted resource; tokens are acquired through a pluggable auth flow and
// refreshed when they expire.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/viant/scy/auth/authorizer"
	"github.com/viant/scy/auth/flow"
	"golang.org/x/oauth2"
)

// RoundTripper injects a Bearer token into outgoing requests. A request that
// still comes back 401 triggers the auth flow once and is replayed.
type RoundTripper struct {
	config    *oauth2.Config
	authFlow  flow.AuthFlow
	transport http.RoundTripper

	mux   sync.Mutex
	token *oauth2.Token
}

// Option customizes the round tripper.
type Option func(r *RoundTripper)

// WithAuthFlow overrides the interactive flow used to mint tokens.
func WithAuthFlow(authFlow flow.AuthFlow) Option {
	return func(r *RoundTripper) {
		r.authFlow = authFlow
	}
}

// WithTransport overrides the underlying round tripper.
func WithTransport(transport http.RoundTripper) Option {
	return func(r *RoundTripper) {
		r.transport = transport
	}
}

// New creates a round tripper for the supplied OAuth2 client config.
func New(config *oauth2.Config, options ...Option) *RoundTripper {
	ret := &RoundTripper{
		config:    config,
		authFlow:  flow.NewBrowserFlow(),
		transport: http.DefaultTransport,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// NewWithConfigURL loads the OAuth2 client config from a scy resource URL and
// builds a round tripper for it. When encryptionKey is non-empty the resource
// is decrypted with it.
func NewWithConfigURL(ctx context.Context, configURL, encryptionKey string, options ...Option) (*RoundTripper, error) {
	if encryptionKey != "" {
		configURL += "|" + encryptionKey
	}
	anAuthorizer := authorizer.New()
	oauthCfg := &authorizer.OAuthConfig{ConfigURL: configURL}
	if err := anAuthorizer.EnsureConfig(ctx, oauthCfg); err != nil {
		return nil, fmt.Errorf("failed to load oauth2 config %q: %w", configURL, err)
	}
	return New(oauthCfg.Config, options...), nil
}

// RoundTrip attaches a cached token when one is valid, otherwise sends the
// request unauthenticated and runs the auth flow on a 401.
func (r *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if token := r.cachedToken(ctx); token != nil {
		authed := clone(req)
		authed.Header.Set("Authorization", "Bearer "+token.AccessToken)
		return r.transport.RoundTrip(authed)
	}

	probe := clone(req)
	resp, err := r.transport.RoundTrip(probe)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	token, err := r.Token(ctx)
	if err != nil {
		return nil, err
	}
	retry := clone(req)
	retry.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return r.transport.RoundTrip(retry)
}

// Token returns a valid token, refreshing or re-running the auth flow as
// needed.
func (r *RoundTripper) Token(ctx context.Context) (*oauth2.Token, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.token != nil {
		if r.token.Valid() {
			return r.token, nil
		}
		if r.token.RefreshToken != "" {
			if refreshed := r.refreshToken(ctx, r.token); refreshed != nil {
				r.token = refreshed
				return refreshed, nil
			}
		}
	}
	token, err := r.authFlow.Token(ctx, r.config)
	if err != nil {
		return nil, fmt.Errorf("auth flow failed: %w", err)
	}
	r.token = token
	return token, nil
}

func (r *RoundTripper) cachedToken(ctx context.Context) *oauth2.Token {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.token == nil {
		return nil
	}
	if r.token.Valid() {
		return r.token
	}
	if r.token.RefreshToken != "" {
		if refreshed := r.refreshToken(ctx, r.token); refreshed != nil {
			r.token = refreshed
			return refreshed
		}
	}
	return nil
}

func (r *RoundTripper) refreshToken(ctx context.Context, cached *oauth2.Token) *oauth2.Token {
	ts := r.config.TokenSource(ctx, cached)
	refreshed, err := ts.Token()
	if err != nil {
		return nil
	}
	// preserve refresh token if provider omitted it
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cached.RefreshToken
	}
	return refreshed
}

func clone(r *http.Request) *http.Request {
	cloned := r.Clone(r.Context())
	// deep-copy body for idempotent POST replay
	if r.Body != nil {
		buf, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(buf))
		cloned.Body = io.NopCloser(bytes.NewBuffer(buf))
	}
	return cloned
}
