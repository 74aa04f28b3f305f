package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/llm-gateway/go-fileupload/transfer"
)

const (
	uploadPath   = "/files/upload"
	filesPath    = "/files/"
	downloadPath = "/download"
)

// Reference is a server assigned file id. The server may send it either as
// a number or as a string.
type Reference string

// UnmarshalJSON ...
func (r *Reference) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Reference(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("file id is neither a string nor a number: %s", data)
	}
	*r = Reference(n.String())
	return nil
}

// ServerFile is the file descriptor returned by the upload and metadata
// endpoints.
type ServerFile struct {
	ID           Reference `json:"id"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	Size         int64     `json:"file_size"`
	SizeHuman    string    `json:"file_size_human"`
	MediaType    string    `json:"mime_type"`
	UploadStatus string    `json:"upload_status"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Hash         string    `json:"file_hash"`
	IsSafe       bool      `json:"is_safe"`

	Encoding    string `json:"encoding,omitempty"`
	LineCount   int    `json:"line_count,omitempty"`
	CharCount   int    `json:"char_count,omitempty"`
	PreviewText string `json:"preview_text,omitempty"`
}

// Metadata converts the descriptor to the transfer representation.
func (f ServerFile) Metadata() *transfer.Metadata {
	sizeHuman := f.SizeHuman
	if sizeHuman == "" {
		sizeHuman = units.HumanSizeWithPrecision(float64(f.Size), 3)
	}

	return &transfer.Metadata{
		OriginalName: f.OriginalName,
		StoredName:   f.StoredName,
		Size:         f.Size,
		SizeHuman:    sizeHuman,
		MediaType:    f.MediaType,
		UploadStatus: f.UploadStatus,
		UploadedAt:   f.UploadedAt,
		Hash:         f.Hash,
		IsSafe:       f.IsSafe,
		Encoding:     f.Encoding,
		LineCount:    f.LineCount,
		CharCount:    f.CharCount,
		PreviewText:  f.PreviewText,
	}
}

// ResponseError is a non-2xx answer of the server. Detail carries the
// server's `detail` message.
type ResponseError struct {
	StatusCode int
	Detail     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

// HTTPStatus ...
func (e *ResponseError) HTTPStatus() int {
	return e.StatusCode
}

// APIClient talks to the metadata, delete and download endpoints. These
// calls are idempotent, so they go through a retrying HTTP client.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	credentials HeaderProvider
	logger      log.Logger
}

// NewAPIClient creates an API client with the retry settings of client.
// client itself is not modified.
func NewAPIClient(client *retryablehttp.Client, baseURL string, credentials HeaderProvider, logger log.Logger) *APIClient {
	return &APIClient{
		httpClient:  withPassthroughErrors(client),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		credentials: credentials,
		logger:      logger,
	}
}

// withPassthroughErrors copies client so that the last response is handed
// back once retries are exhausted. Its status is needed for classification.
func withPassthroughErrors(client *retryablehttp.Client) *retryablehttp.Client {
	return &retryablehttp.Client{
		HTTPClient:      client.HTTPClient,
		Logger:          client.Logger,
		RetryWaitMin:    client.RetryWaitMin,
		RetryWaitMax:    client.RetryWaitMax,
		RetryMax:        client.RetryMax,
		RequestLogHook:  client.RequestLogHook,
		ResponseLogHook: client.ResponseLogHook,
		CheckRetry:      client.CheckRetry,
		Backoff:         client.Backoff,
		ErrorHandler:    retryablehttp.PassthroughErrorHandler,
	}
}

// Metadata fetches the descriptor of a stored file.
func (c *APIClient) Metadata(ctx context.Context, ref string) (ServerFile, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.fileURL(ref, ""))
	if err != nil {
		return ServerFile{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ServerFile{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ServerFile{}, unwrapError(resp)
	}

	var file ServerFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return ServerFile{}, fmt.Errorf("decode file metadata: %w", err)
	}
	return file, nil
}

// Delete removes a stored file.
func (c *APIClient) Delete(ctx context.Context, ref string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.fileURL(ref, ""))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}
	return nil
}

func (c *APIClient) newRequest(ctx context.Context, method, url string) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req.Header, c.credentials)
	return req, nil
}

func (c *APIClient) fileURL(ref, suffix string) string {
	return c.baseURL + filesPath + url.PathEscape(ref) + suffix
}

func (c *APIClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func setHeaders(h http.Header, credentials HeaderProvider) {
	if credentials == nil {
		return
	}
	for k, v := range credentials.Headers() {
		h.Set(k, v)
	}
}

// unwrapError turns a non-2xx response into a ResponseError, preferring the
// JSON `detail` field over the raw body.
func unwrapError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}

	return &ResponseError{
		StatusCode: resp.StatusCode,
		Detail:     errorDetail(resp.StatusCode, body),
	}
}

func errorDetail(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		return string(payload.Detail)
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
