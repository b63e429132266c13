package mcptools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport selector values accepted in server configs. Aliases normalize to
// the canonical value: "http" means streamable HTTP, "ws" means websocket.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable_http"
	TransportSSE            = "sse"
	TransportWebSocket      = "websocket"
)

const defaultTimeoutSeconds = 30

// Config describes a single MCP server: either a command to spawn or a URL to
// connect to, never both.
type Config struct {
	// Command spawns a local server talking over stdio.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env is the child's complete environment. PATH is injected from the
	// ambient process when absent so package runners resolve.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`

	// Errlog receives the child's stderr; nil drains it to the logger at
	// debug level.
	Errlog io.Writer `yaml:"-" json:"-"`

	// URL connects to a remote server over HTTP, SSE or websocket.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Transport explicitly selects a transport; empty means auto-detect for
	// http(s) URLs. Type is an accepted alias for the same field.
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`
	Type      string `yaml:"type,omitempty" json:"type,omitempty"`

	// Headers are forwarded verbatim on every HTTP request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// TimeoutSeconds bounds each HTTP request; zero means 30 seconds.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`

	// ReadTimeoutSeconds bounds silence on the SSE event stream.
	ReadTimeoutSeconds int `yaml:"readTimeoutSeconds,omitempty" json:"readTimeoutSeconds,omitempty"`

	// TerminateOnClose sends a session DELETE when a streamable HTTP
	// transport closes.
	TerminateOnClose bool `yaml:"terminateOnClose,omitempty" json:"terminateOnClose,omitempty"`

	// Auth wraps the HTTP client used for url based transports.
	Auth http.RoundTripper `yaml:"-" json:"-"`

	// OAuth2ConfigURL loads an OAuth2 client config (scy resource URL) and
	// builds the Auth round tripper from it when Auth is unset.
	OAuth2ConfigURL string `yaml:"oauth2ConfigURL,omitempty" json:"oauth2ConfigURL,omitempty"`
	EncryptionKey   string `yaml:"encryptionKey,omitempty" json:"encryptionKey,omitempty"`
}

// ConfigError reports a structurally invalid server config.
type ConfigError struct {
	Server  string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mcp server %q: %s", e.Server, e.Message)
}

// transportHint returns the raw explicit transport value, preferring
// Transport over its Type alias.
func (c *Config) transportHint() string {
	if c.Transport != "" {
		return c.Transport
	}
	return c.Type
}

// normalizeTransport maps aliases onto canonical transport names; ok is false
// for unrecognized values.
func normalizeTransport(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return "", true
	case TransportStdio:
		return TransportStdio, true
	case TransportStreamableHTTP, "http":
		return TransportStreamableHTTP, true
	case TransportSSE:
		return TransportSSE, true
	case TransportWebSocket, "ws":
		return TransportWebSocket, true
	default:
		return "", false
	}
}

func (c *Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeoutSeconds * time.Second
}

func (c *Config) readTimeout() time.Duration {
	if c.ReadTimeoutSeconds > 0 {
		return time.Duration(c.ReadTimeoutSeconds) * time.Second
	}
	return 0
}

// Validate checks one server config for contradictions before any process or
// network activity. Unknown transport strings on command configs are
// tolerated with a warning and treated as stdio.
func (c *Config) Validate(name string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Command != "" && c.URL != "" {
		return &ConfigError{Server: name, Message: fmt.Sprintf(
			"config cannot have both command (%q) and url (%q)", c.Command, c.URL)}
	}
	if c.Command == "" && c.URL == "" {
		return &ConfigError{Server: name, Message: "config requires either command or url"}
	}
	hint := c.transportHint()
	transportName, known := normalizeTransport(hint)

	if c.URL != "" {
		parsed, err := url.Parse(c.URL)
		if err != nil {
			return &ConfigError{Server: name, Message: fmt.Sprintf("invalid url %q: %v", c.URL, err)}
		}
		scheme := strings.ToLower(parsed.Scheme)
		switch scheme {
		case "http", "https", "ws", "wss":
		default:
			return &ConfigError{Server: name, Message: fmt.Sprintf(
				"unsupported url scheme %q in %q (must be http, https, ws or wss)", parsed.Scheme, c.URL)}
		}
		if !known {
			logger.Warn("unrecognized transport on url config, using auto-detection",
				"server", name, "transport", hint)
			return nil
		}
		switch transportName {
		case TransportStdio:
			return &ConfigError{Server: name, Message: fmt.Sprintf(
				"stdio transport requires command, not url %q", c.URL)}
		case TransportStreamableHTTP, TransportSSE:
			if scheme != "http" && scheme != "https" {
				return &ConfigError{Server: name, Message: fmt.Sprintf(
					"transport %q requires http(s) url, got scheme %q", transportName, scheme)}
			}
		case TransportWebSocket:
			if scheme != "ws" && scheme != "wss" {
				return &ConfigError{Server: name, Message: fmt.Sprintf(
					"transport %q requires ws(s) url, got scheme %q", transportName, scheme)}
			}
		}
		return nil
	}

	// command based
	if hint == "" {
		return nil
	}
	if known && transportName != TransportStdio {
		return &ConfigError{Server: name, Message: fmt.Sprintf(
			"transport %q requires url, not command %q", transportName, c.Command)}
	}
	if !known {
		logger.Warn("unrecognized transport on command config, treating as stdio",
			"server", name, "transport", hint)
	}
	return nil
}

// NamedConfig pairs a server name with its config.
type NamedConfig struct {
	Name   string
	Config *Config
}

// Configs is an ordered list of server configs; connection and capability
// ordering follow slice order.
type Configs []NamedConfig

// Add appends a server entry and returns the extended list.
func (c Configs) Add(name string, config *Config) Configs {
	return append(c, NamedConfig{Name: name, Config: config})
}

// ParseConfigs decodes a JSON object of server name to config, preserving the
// document's key order. A top level {"mcpServers": {...}} wrapper is
// unwrapped.
func ParseConfigs(data []byte) (Configs, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse servers config: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("servers config must be a JSON object, got %v", token)
	}
	var ret Configs
	for decoder.More() {
		token, err = decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse servers config: %w", err)
		}
		name, _ := token.(string)
		var raw json.RawMessage
		if err = decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to parse config for server %q: %w", name, err)
		}
		if name == "mcpServers" && len(ret) == 0 && !decoder.More() {
			return ParseConfigs(raw)
		}
		config := &Config{}
		if err = json.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("failed to parse config for server %q: %w", name, err)
		}
		ret = append(ret, NamedConfig{Name: name, Config: config})
	}
	return ret, nil
}
