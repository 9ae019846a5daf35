package client

import (
	"net/http"

	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/observability/requestid"
)

// RequestIDTransport propagates the X-Request-Id header from the request
// context to outbound HTTP calls, keeping correlation intact across service
// boundaries without every call site remembering to set the header.
type RequestIDTransport struct {
	base http.RoundTripper
}

// NewRequestIDTransport wraps the base transport. A nil base falls back to
// http.DefaultTransport.
func NewRequestIDTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RequestIDTransport{base: base}
}

// RoundTrip sets X-Request-Id from the context unless the caller already set
// one explicitly.
func (t *RequestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("X-Request-Id") != "" {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	reqID := logger.GetRequestIDFromContext(ctx)
	if reqID == "" {
		reqID = requestid.GetRequestID(ctx)
	}
	if reqID == "" {
		// Background jobs have no request id; that's fine.
		return t.base.RoundTrip(req)
	}

	// Clone before mutating: request headers are shared.
	clonedReq := req.Clone(ctx)
	clonedReq.Header.Set("X-Request-Id", reqID)

	return t.base.RoundTrip(clonedReq)
}
