package network

import (
	"context"

	"github.com/llm-gateway/go-fileupload/transfer"
)

// ProgressFunc receives raw progress samples of one attempt.
type ProgressFunc func(transfer.Sample)

// Result is what a successful attempt yields.
type Result struct {
	ServerReference string
	Metadata        *transfer.Metadata
}

// Driver performs a single transfer attempt of a unit. It must abort the
// transfer when ctx is done and report that as an error wrapping ctx.Err().
type Driver interface {
	Attempt(ctx context.Context, unit *transfer.Unit, onProgress ProgressFunc) (Result, error)
}

// HeaderProvider supplies the credential headers attached to every request.
type HeaderProvider interface {
	Headers() map[string]string
}

// StaticHeaders is a HeaderProvider with a fixed set of headers.
type StaticHeaders map[string]string

// Headers ...
func (h StaticHeaders) Headers() map[string]string {
	return h
}
