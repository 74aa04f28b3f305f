package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// ErrCancelled is the explicit cancellation marker a driver can return.
var ErrCancelled = errors.New("upload cancelled")

// Kind is the closed set of failure classes a caller can observe.
type Kind string

// Error kinds.
const (
	KindValidation    Kind = "ValidationError"
	KindNetwork       Kind = "NetworkError"
	KindTimeout       Kind = "TimeoutError"
	KindServer        Kind = "ServerError"
	KindQuotaExceeded Kind = "QuotaExceeded"
	KindCancelled     Kind = "Cancelled"
)

var userActions = map[Kind]string{
	KindValidation:    "Check the size and type of %s and choose a supported file.",
	KindNetwork:       "Check your network connection and try uploading %s again.",
	KindTimeout:       "Uploading %s timed out. Try again or upload a smaller file.",
	KindServer:        "The server could not store %s. Try again later or contact an administrator.",
	KindQuotaExceeded: "Your upload quota is used up. Delete unused files or ask an administrator to raise the limit before uploading %s.",
	KindCancelled:     "The upload of %s was cancelled.",
}

var retryable = map[Kind]bool{
	KindNetwork: true,
	KindTimeout: true,
}

var (
	timeoutMarkers    = []string{"timeout", "timed out", "deadline exceeded"}
	networkMarkers    = []string{"network", "connection", "connect:", "refused", "reset by peer", "unreachable", "no such host", "broken pipe", "eof", "dns", "offline"}
	validationMarkers = []string{"too large", "file size", "size limit", "file type", "unsupported", "not supported", "not allowed", "invalid file", "extension"}
	quotaMarkers      = []string{"quota", "limit", "exceeded", "too many"}
)

// ClassifiedError is a failure normalized into the closed Kind set.
type ClassifiedError struct {
	Kind        Kind
	Message     string
	ID          string
	FileName    string
	Timestamp   time.Time
	IsRetryable bool
	UserAction  string
	// StatusCode is the HTTP status of the rejected request, 0 if none.
	StatusCode int
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewClassifiedError builds a ClassifiedError of the given kind with the
// kind's retryability and user action.
func NewClassifiedError(kind Kind, message, id, fileName string) *ClassifiedError {
	return &ClassifiedError{
		Kind:        kind,
		Message:     message,
		ID:          id,
		FileName:    fileName,
		Timestamp:   time.Now(),
		IsRetryable: retryable[kind],
		UserAction:  fmt.Sprintf(userActions[kind], fileName),
	}
}

// Classify maps any failure to a ClassifiedError. It never fails: anything
// unrecognised is a non-retryable ServerError.
func Classify(err error, id, fileName string) *ClassifiedError {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		c := *classified
		c.ID = id
		c.FileName = fileName
		c.UserAction = fmt.Sprintf(userActions[c.Kind], fileName)
		return &c
	}

	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	status := statusCode(err)

	c := NewClassifiedError(kindOf(err, strings.ToLower(message), status), message, id, fileName)
	c.StatusCode = status
	return c
}

func kindOf(err error, msg string, status int) Kind {
	switch {
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		return KindCancelled
	case isTimeout(err, msg, status):
		return KindTimeout
	case isNetwork(err, msg):
		return KindNetwork
	case status == http.StatusRequestEntityTooLarge || status == http.StatusUnsupportedMediaType || containsAny(msg, validationMarkers):
		return KindValidation
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired || containsAny(msg, quotaMarkers):
		return KindQuotaExceeded
	default:
		return KindServer
	}
}

func isTimeout(err error, msg string, status int) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		return true
	}
	return containsAny(msg, timeoutMarkers)
}

func isNetwork(err error, msg string) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return containsAny(msg, networkMarkers)
}

func statusCode(err error) int {
	var withStatus interface{ HTTPStatus() int }
	if errors.As(err, &withStatus) {
		return withStatus.HTTPStatus()
	}
	return 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
