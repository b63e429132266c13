package mcptools

import (
	"net/http"
	"strings"

	"github.com/viant/jsonrpc"
)

// methodNotFound is the JSON-RPC error code a server returns for an
// unsupported method; equivalent to an HTTP 404 for fallback purposes.
const methodNotFound = -32601

// clientErrorPhrases are the reason phrases a server emits for 4xx
// rejections; matched against lowercased error text when no structured status
// is carried.
var clientErrorPhrases = []string{
	"bad request",
	"unauthorized",
	"forbidden",
	"not found",
	"method not allowed",
	"not acceptable",
	"request timeout",
	"conflict",
	"session terminated",
	"method not found",
}

// Is4xxError reports whether err represents an HTTP client error (status
// 400-499) or a semantically equivalent protocol rejection, however the
// underlying library chose to represent it. A nil error is never a client
// error. Transport fallback keys off this predicate, so generic network
// failures must classify false.
func Is4xxError(err error) bool {
	if err == nil {
		return false
	}
	// Aggregates classify true when any member does.
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, sub := range joined.Unwrap() {
			if Is4xxError(sub) {
				return true
			}
		}
	}
	if carrier, ok := err.(interface{ StatusCode() int }); ok {
		return is4xx(carrier.StatusCode())
	}
	if carrier, ok := err.(interface{ Status() int }); ok {
		return is4xx(carrier.Status())
	}
	if carrier, ok := err.(interface{ Response() *http.Response }); ok {
		if resp := carrier.Response(); resp != nil {
			return is4xx(resp.StatusCode)
		}
	}
	if rpcErr, ok := err.(*jsonrpc.Error); ok && rpcErr.Code == methodNotFound {
		return true
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		if Is4xxError(wrapped.Unwrap()) {
			return true
		}
	}
	message := strings.ToLower(err.Error())
	for code := '0'; code <= '9'; code++ {
		if strings.Contains(message, "40"+string(code)) {
			return true
		}
	}
	for _, phrase := range clientErrorPhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}

func is4xx(status int) bool {
	return status >= 400 && status < 500
}
