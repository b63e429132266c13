package mcptools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/viant/mcp-protocol/schema"
	"github.com/viant/mcp-tools/client"
	toolschema "github.com/viant/mcp-tools/schema"
	"github.com/viant/mcp-tools/transport"
)

const (
	defaultClientName    = "mcp-tools"
	defaultClientVersion = "1.0.0"
)

// CleanupFn releases every transport opened by ConvertTools, last connected
// first. It is idempotent.
type CleanupFn func() error

type converter struct {
	logger        *slog.Logger
	clientName    string
	clientVersion string
}

// Option customizes ConvertTools.
type Option func(c *converter)

// WithLogger sets the logger used across connection, discovery and tool
// invocation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *converter) {
		c.logger = logger
	}
}

// WithClientInfo overrides the client identity advertised during the
// initialize handshake.
func WithClientInfo(name, version string) Option {
	return func(c *converter) {
		c.clientName = name
		c.clientVersion = version
	}
}

// ConvertTools connects every configured MCP server, discovers its tools and
// returns them as one flat list in config order, together with a cleanup
// function closing all transports in reverse connection order.
//
// One failing server fails the whole call; transports already opened are
// released before the error returns. Partial tolerance, when wanted, belongs
// to the caller via separate ConvertTools calls.
func ConvertTools(ctx context.Context, configs Configs, options ...Option) ([]*Tool, CleanupFn, error) {
	c := &converter{
		clientName:    defaultClientName,
		clientVersion: defaultClientVersion,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	owner := NewLifetime()
	fail := func(err error) ([]*Tool, CleanupFn, error) {
		_ = owner.Close()
		return nil, nil, err
	}

	// Connect phase, strictly in caller order. Each connect returns once the
	// transport is initiated; remote initialization proceeds independently.
	transports := make([]transport.Transport, 0, len(configs))
	for _, entry := range configs {
		if entry.Config == nil {
			return fail(&ConfigError{Server: entry.Name, Message: "config is missing"})
		}
		if err := entry.Config.Validate(entry.Name, c.logger); err != nil {
			return fail(err)
		}
		aTransport, err := connect(ctx, entry.Name, entry.Config, owner, c.logger)
		if err != nil {
			return fail(err)
		}
		transports = append(transports, aTransport)
	}

	// Discovery phase, same order: initialize each session and flatten the
	// tool lists without reordering or deduplication.
	var ret []*Tool
	for i, entry := range configs {
		session := client.New(c.clientName, c.clientVersion, transports[i], client.WithLogger(c.logger))
		if _, err := session.Initialize(ctx); err != nil {
			return fail(fmt.Errorf("mcp server %q: %w", entry.Name, err))
		}
		tools, err := session.ListAllTools(ctx)
		if err != nil {
			return fail(fmt.Errorf("mcp server %q: failed to list tools: %w", entry.Name, err))
		}
		adapted, err := adaptTools(entry.Name, session, tools, c.logger)
		if err != nil {
			return fail(fmt.Errorf("mcp server %q: %w", entry.Name, err))
		}
		ret = append(ret, adapted...)
		c.logger.Info("connected to mcp server", "server", entry.Name, "tools", len(adapted))
	}
	return ret, owner.Close, nil
}

func adaptTools(server string, session *client.Client, tools []schema.Tool, logger *slog.Logger) ([]*Tool, error) {
	ret := make([]*Tool, 0, len(tools))
	for i := range tools {
		mcpTool := &tools[i]
		raw, err := toolschema.AsMap(mcpTool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid input schema for tool %q: %w", mcpTool.Name, err)
		}
		description := ""
		if mcpTool.Description != nil {
			description = *mcpTool.Description
		}
		ret = append(ret, &Tool{
			Name:        mcpTool.Name,
			Description: description,
			InputSchema: toolschema.Normalize(raw),
			Server:      server,
			session:     session,
			logger:      logger,
		})
	}
	return ret, nil
}
