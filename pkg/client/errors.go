package client

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
)

// ErrContextCancelled is returned when the caller's context ends before the
// request completes. It wraps the context error.
var ErrContextCancelled = errors.New("context cancelled")

// ErrorClass labels failures for metrics and logs.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents per-attempt deadline expiry.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassOther covers everything else.
	ErrorClassOther ErrorClass = "other"
)

// classifyError maps an attempt failure onto an ErrorClass.
func classifyError(err error) ErrorClass {
	var e *apierr.Error
	if !errors.As(err, &e) {
		return ErrorClassOther
	}

	switch e.Kind {
	case apierr.KindHTTPStatus:
		switch {
		case e.StatusCode == http.StatusTooManyRequests:
			return ErrorClassRateLimit
		case e.StatusCode >= 500:
			return ErrorClassServer
		case e.StatusCode >= 400:
			return ErrorClassClient
		default:
			return ErrorClassOther
		}
	case apierr.KindTransport:
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return ErrorClassTimeout
		}
		return ErrorClassNetwork
	default:
		return ErrorClassOther
	}
}
