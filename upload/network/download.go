package network

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/melbahja/got"
)

// Download is the content of a stored file.
type Download struct {
	Content     []byte
	ContentType string
}

// IsText reports whether the content can be shown as text.
func (d Download) IsText() bool {
	mediaType, _, err := mime.ParseMediaType(d.ContentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") ||
		mediaType == "application/json" ||
		mediaType == "application/xml" ||
		strings.HasSuffix(mediaType, "+json")
}

// Download fetches the content of a stored file into memory. Compressed
// responses are decoded.
func (c *APIClient) Download(ctx context.Context, ref string) (Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.fileURL(ref, downloadPath))
	if err != nil {
		return Download{}, err
	}
	// Setting Accept-Encoding explicitly disables transparent decoding in
	// net/http, the body is decoded below.
	req.Header.Set("Accept-Encoding", "zstd, gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Download{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Download{}, unwrapError(resp)
	}

	body, err := decodedBody(resp)
	if err != nil {
		return Download{}, err
	}
	defer c.closeBody(body)

	content, err := io.ReadAll(body)
	if err != nil {
		return Download{}, fmt.Errorf("read download: %w", err)
	}

	return Download{
		Content:     content,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// DownloadToFile downloads a stored file to dest using parallel range
// requests.
func (c *APIClient) DownloadToFile(ctx context.Context, ref, dest string) error {
	// the client has to be set on the download, Got.Do doesn't pass its own on
	dl := got.NewDownload(ctx, c.fileURL(ref, downloadPath), dest)
	dl.Client = &http.Client{
		Transport: &headerTransport{
			next:        c.httpClient.StandardClient().Transport,
			credentials: c.credentials,
		},
	}

	if err := got.New().Do(dl); err != nil {
		return fmt.Errorf("download %s: %w", ref, err)
	}
	return nil
}

func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return r, nil
	case "zstd":
		d, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open zstd body: %w", err)
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", resp.Header.Get("Content-Encoding"))
	}
}

// headerTransport attaches the credential headers to requests it does not
// build itself.
type headerTransport struct {
	next        http.RoundTripper
	credentials HeaderProvider
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	setHeaders(r.Header, t.credentials)
	return t.next.RoundTrip(r)
}

var _ http.RoundTripper = (*headerTransport)(nil)
