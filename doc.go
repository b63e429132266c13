// Package mcptools connects to multiple MCP servers over stdio, streamable
// HTTP, legacy SSE or websocket transports and exposes their tools as plain
// callable values.
//
// The transport for an http(s) URL is auto-detected with a single initialize
// probe: a server that accepts the POST speaks streamable HTTP, a server that
// rejects it with a 4xx gets the deprecated SSE fallback. Explicit transports
// skip the probe. All opened transports are released in reverse connection
// order by the cleanup function ConvertTools returns.
package mcptools
