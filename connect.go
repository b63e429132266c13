package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/viant/mcp-tools/auth"
	"github.com/viant/mcp-tools/transport"
)

// connect opens the transport the decision table selects for one server and
// registers its teardown with the lifetime owner. Every error carries the
// server name.
func connect(ctx context.Context, name string, config *Config, owner *Lifetime, logger *slog.Logger) (transport.Transport, error) {
	ret, err := openTransport(ctx, name, config, logger)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: %w", name, err)
	}
	owner.Register(fmt.Sprintf("mcp server %q transport", name), ret.Close)
	return ret, nil
}

func openTransport(ctx context.Context, name string, config *Config, logger *slog.Logger) (transport.Transport, error) {
	if config.Command != "" {
		return openStdio(name, config, logger)
	}

	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", config.URL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "ws" || scheme == "wss" {
		return openWebSocket(ctx, config, logger)
	}

	authRT, err := authRoundTripper(ctx, config)
	if err != nil {
		return nil, err
	}
	transportName, _ := normalizeTransport(config.transportHint())
	switch transportName {
	case TransportStreamableHTTP:
		return openStreamable(config, authRT, logger), nil
	case TransportSSE:
		logger.Warn("SSE transport is deprecated, prefer streamable HTTP", "server", name, "url", config.URL)
		return openSSE(ctx, config, authRT, logger)
	}

	// Auto-detection: one probe decides between streamable HTTP and SSE.
	streamable, err := probeStreamable(ctx, config.URL, config.Headers, config.timeout(), authRT, logger)
	if err != nil {
		// Some HTTP clients surface 4xx responses as wrapped errors rather
		// than statuses; those still mean "fall back", anything else is a
		// genuine failure.
		if !Is4xxError(err) {
			return nil, fmt.Errorf("transport detection failed: %w", err)
		}
		streamable = false
	}
	if streamable {
		return openStreamable(config, authRT, logger), nil
	}
	logger.Warn("endpoint rejected streamable HTTP, falling back to deprecated SSE transport",
		"server", name, "url", config.URL)
	return openSSE(ctx, config, authRT, logger)
}

// childEnv copies the configured environment, injecting the ambient PATH when
// the caller did not set one. Package runners such as npx and uvx resolve
// executables via PATH. An explicit PATH is never overwritten.
func childEnv(env map[string]string) map[string]string {
	ret := make(map[string]string, len(env)+1)
	for k, v := range env {
		ret[k] = v
	}
	if _, ok := ret["PATH"]; !ok {
		ret["PATH"] = os.Getenv("PATH")
	}
	return ret
}

func openStdio(name string, config *Config, logger *slog.Logger) (transport.Transport, error) {
	env := childEnv(config.Env)
	return transport.NewStdio(transport.StdioConfig{
		Command: config.Command,
		Args:    config.Args,
		Env:     env,
		Cwd:     config.Cwd,
		Errlog:  config.Errlog,
		Logger:  logger.With("server", name),
	})
}

func openWebSocket(ctx context.Context, config *Config, logger *slog.Logger) (transport.Transport, error) {
	return transport.NewWebSocket(ctx, transport.WebSocketConfig{
		URL:     config.URL,
		Headers: config.Headers,
		Timeout: config.timeout(),
		Logger:  logger,
	})
}

func openStreamable(config *Config, authRT http.RoundTripper, logger *slog.Logger) *transport.Streamable {
	return transport.NewStreamable(transport.StreamableConfig{
		URL:              config.URL,
		Headers:          config.Headers,
		Timeout:          config.timeout(),
		Auth:             authRT,
		TerminateOnClose: config.TerminateOnClose,
		Logger:           logger,
	})
}

func openSSE(ctx context.Context, config *Config, authRT http.RoundTripper, logger *slog.Logger) (transport.Transport, error) {
	return transport.NewSSE(ctx, transport.SSEConfig{
		URL:         config.URL,
		Headers:     config.Headers,
		Timeout:     config.timeout(),
		ReadTimeout: config.readTimeout(),
		Auth:        authRT,
		Logger:      logger,
	})
}

func authRoundTripper(ctx context.Context, config *Config) (http.RoundTripper, error) {
	if config.Auth != nil {
		return config.Auth, nil
	}
	if config.OAuth2ConfigURL == "" {
		return nil, nil
	}
	ret, err := auth.NewWithConfigURL(ctx, config.OAuth2ConfigURL, config.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return ret, nil
}
