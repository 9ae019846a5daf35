package client

import (
	"net/http"
	"time"
)

// NewInternalHTTPClient creates an http.Client for calls between our own
// services: request-id propagation, bounded timeout, connection pooling.
// http.DefaultClient has no timeout at all, which is how goroutines leak.
func NewInternalHTTPClient() *http.Client {
	baseTransport := http.DefaultTransport.(*http.Transport).Clone()
	transport := NewRequestIDTransport(baseTransport)

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// NewExternalHTTPClient creates an http.Client for third-party endpoints
// (notification webhooks and the like): same request-id propagation, more
// lenient timeout.
func NewExternalHTTPClient() *http.Client {
	baseTransport := http.DefaultTransport.(*http.Transport).Clone()
	transport := NewRequestIDTransport(baseTransport)

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
