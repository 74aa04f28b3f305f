package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/llm-gateway/go-fileupload/transfer"
)

// HTTPDriverParams ...
type HTTPDriverParams struct {
	BaseURL     string
	Credentials HeaderProvider
	// HTTPClient is used for the upload request. If nil, DefaultHTTPClient is used.
	HTTPClient       *http.Client
	ProgressInterval time.Duration
}

// HTTPDriver streams a file to the upload endpoint as a multipart form.
//
// It deliberately does not use a retrying HTTP client: a retrying client
// buffers the whole body in memory and would hide failed attempts from the
// retry controller.
type HTTPDriver struct {
	httpClient       *http.Client
	uploadURL        string
	credentials      HeaderProvider
	progressInterval time.Duration
	logger           log.Logger
}

// NewHTTPDriver ...
func NewHTTPDriver(params HTTPDriverParams, logger log.Logger) *HTTPDriver {
	client := params.HTTPClient
	if client == nil {
		client = DefaultHTTPClient()
	}

	return &HTTPDriver{
		httpClient:       client,
		uploadURL:        strings.TrimSuffix(params.BaseURL, "/") + uploadPath,
		credentials:      params.Credentials,
		progressInterval: params.ProgressInterval,
		logger:           logger,
	}
}

// Attempt uploads unit's source once.
func (d *HTTPDriver) Attempt(ctx context.Context, unit *transfer.Unit, onProgress ProgressFunc) (Result, error) {
	src, err := unit.Source.Open()
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	reader := newProgressReader(src, unit.Source.Size, d.progressInterval, onProgress)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer func() {
			if err := src.Close(); err != nil {
				d.logger.Warnf("Failed to close %s: %s", unit.Source.Name, err)
			}
		}()
		pw.CloseWithError(writeForm(form, unit, reader))
	}()
	defer func() {
		// unblocks the form writer if the server answered before reading the whole body
		_ = pr.Close()
		<-writerDone
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.uploadURL, pr)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	setHeaders(req.Header, d.credentials)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	d.logger.Debugf("Uploading %s (%d bytes) to %s", unit.Source.Name, unit.Source.Size, d.uploadURL)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("upload aborted after %d bytes: %w", reader.Sent(), ctx.Err())
		}
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			d.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, unwrapError(resp)
	}

	var file ServerFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("upload aborted: %w", ctx.Err())
		}
		return Result{}, fmt.Errorf("decode upload response: %w", err)
	}
	if file.ID == "" {
		return Result{}, fmt.Errorf("upload response has no file id")
	}

	return Result{
		ServerReference: string(file.ID),
		Metadata:        file.Metadata(),
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeForm(form *multipart.Writer, unit *transfer.Unit, content io.Reader) error {
	if unit.UploaderID != "" {
		if err := form.WriteField("uploader_id", unit.UploaderID); err != nil {
			return fmt.Errorf("write uploader id: %w", err)
		}
	}

	mediaType := unit.Source.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(unit.Source.Name)))
	h.Set("Content-Type", mediaType)

	part, err := form.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("stream file: %w", err)
	}

	return form.Close()
}

var _ Driver = (*HTTPDriver)(nil)
