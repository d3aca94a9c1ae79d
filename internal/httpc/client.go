// Package httpc provides the HTTP client and error handling shared by the
// backend clients. Use NewClient instead of http.DefaultClient so every call
// has a timeout.
package httpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// NewClient creates an HTTP client with the specified overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// APIError is a non-2xx response from a backend service.
type APIError struct {
	Service    string
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Service, e.Endpoint, e.StatusCode)
}

// CheckResponse returns an *APIError for non-2xx responses. The body is
// consumed on error; the caller still closes it.
func CheckResponse(resp *http.Response, service, endpoint string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := string(body)

	// FastAPI style {"detail": "..."}
	var errResp struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail != nil {
		if s, ok := errResp.Detail.(string); ok {
			message = s
		}
	}

	return &APIError{
		Service:    service,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}
