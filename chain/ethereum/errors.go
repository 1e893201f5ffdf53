package ethereum

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/transport"
)

// Provider error codes seen on eth_getLogs.
const (
	codeLimitExceeded   = -32005 // Infura/Alchemy: result or request limit
	codeRangeTooLarge   = -32062 // Polygon bor: block range is too large
	codeTooManyRequests = -32090 // Polygon bor: too many requests
	codeInvalidParams   = -32602
	codeServerError     = -32000
)

var (
	rateLimitMarkers = []string{"too many requests", "rate limit", "exceeded the quota", "throughput"}
	rangeMarkers     = []string{"block range", "range is too large", "more than", "too many results", "response size", "query timeout"}
)

// classify maps transport failures to a chain.Kind.
func classify(source, op string, err error) error {
	return chain.NewError(kindOf(err), source, op, err)
}

func kindOf(err error) chain.Kind {
	var rpcErr *transport.RPCError
	if errors.As(err, &rpcErr) {
		return KindOfRPC(rpcErr.Code, rpcErr.Message)
	}

	var statusErr *transport.HTTPStatusError
	if errors.As(err, &statusErr) {
		return KindOfStatus(statusErr.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return chain.KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return chain.KindTransient
	}
	return chain.KindUnknown
}

// KindOfStatus classifies a non-200 HTTP reply.
func KindOfStatus(status int) chain.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return chain.KindRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return chain.KindRangeTooLarge
	case status >= 500:
		return chain.KindTransient
	}
	return chain.KindUnknown
}

// KindOfRPC classifies a JSON-RPC error object by code, falling back to
// the provider's message for the codes that are shared between causes.
func KindOfRPC(code int, message string) chain.Kind {
	msg := strings.ToLower(message)
	switch code {
	case codeTooManyRequests, http.StatusTooManyRequests:
		return chain.KindRateLimit
	case codeRangeTooLarge:
		return chain.KindRangeTooLarge
	case codeLimitExceeded:
		if containsAny(msg, rateLimitMarkers) {
			return chain.KindRateLimit
		}
		return chain.KindRangeTooLarge
	case codeInvalidParams, codeServerError:
		if containsAny(msg, rateLimitMarkers) {
			return chain.KindRateLimit
		}
		if containsAny(msg, rangeMarkers) {
			return chain.KindRangeTooLarge
		}
	}
	if containsAny(msg, rateLimitMarkers) {
		return chain.KindRateLimit
	}
	return chain.KindUnknown
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// KindOf classifies an error returned by a transport or the network stack.
func KindOf(err error) chain.Kind {
	return kindOf(err)
}
