package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-protocol/schema"
	"github.com/viant/mcp-tools/transport"
)

const (
	probeClientName    = "mcp-tools-probe"
	probeClientVersion = "1.0.0"
)

// probeStreamable issues one bounded initialize POST to decide whether the
// endpoint speaks streamable HTTP. Per the protocol's backward compatibility
// rule a streamable server answers 200 and a legacy SSE server rejects the
// POST with a 4xx. Any other outcome is a real failure and propagates; a
// network fault must never silently downgrade the transport.
func probeStreamable(ctx context.Context, endpointURL string, headers map[string]string, timeout time.Duration, auth http.RoundTripper, logger *slog.Logger) (bool, error) {
	params := &schema.InitializeRequestParams{
		Capabilities:    schema.ClientCapabilities{},
		ClientInfo:      *schema.NewImplementation(probeClientName, probeClientVersion),
		ProtocolVersion: schema.LatestProtocolVersion,
	}
	request, err := jsonrpc.NewRequest(schema.MethodInitialize, params)
	if err != nil {
		return false, fmt.Errorf("failed to create probe request: %w", err)
	}
	request.Jsonrpc = jsonrpc.Version
	request.Id = 1
	body, err := json.Marshal(request)
	if err != nil {
		return false, fmt.Errorf("failed to marshal probe request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create probe request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	// Always forced, regardless of caller headers.
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	httpClient := &http.Client{Timeout: timeout}
	if auth != nil {
		httpClient.Transport = auth
	}
	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("probe POST to %s failed: %w", endpointURL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<20))
		_ = httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		return true, nil
	case is4xx(httpResp.StatusCode):
		logger.Debug("probe rejected, endpoint is not streamable",
			"url", endpointURL, "status", httpResp.StatusCode)
		return false, nil
	default:
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4<<10))
		return false, &transport.StatusError{
			Code: httpResp.StatusCode,
			Body: strings.TrimSpace(string(respBody)),
		}
	}
}
