package client

import (
	"log/slog"

	"github.com/viant/mcp-protocol/schema"
)

// Option represents option
type Option func(c *Client)

// WithCapabilities set capabilities advertised during initialize.
func WithCapabilities(capabilities schema.ClientCapabilities) Option {
	return func(c *Client) {
		c.capabilities = capabilities
	}
}

// WithProtocolVersion overrides the advertised protocol version.
func WithProtocolVersion(version string) Option {
	return func(c *Client) {
		c.protocolVersion = version
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
