package network

import (
	"net/http"
	"time"
)

// DefaultProgressInterval is the minimum time between two progress samples
// of the same attempt.
const DefaultProgressInterval = 100 * time.Millisecond

// DefaultS3PartSize is the part size used by the object storage driver.
const DefaultS3PartSize = 10 * 1024 * 1024

// DefaultHTTPClient creates an HTTP client for streaming uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - attempt timeouts are handled via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
