package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPIClient(url string) *APIClient {
	logger := log.NewLogger()
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	return NewAPIClient(client, url, StaticHeaders{"Authorization": "Bearer token"}, logger)
}

func TestAPIClient_Metadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/files/42", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = fmt.Fprint(w, uploadResponse)
	}))
	defer server.Close()

	file, err := newTestAPIClient(server.URL).Metadata(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, Reference("42"), file.ID)
	assert.Equal(t, "notes.txt", file.OriginalName)
	assert.Equal(t, "utf-8", file.Encoding)
	assert.Equal(t, "26 B", file.Metadata().SizeHuman)
}

func TestAPIClient_Metadata_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"detail": "File not found"}`)
	}))
	defer server.Close()

	_, err := newTestAPIClient(server.URL).Metadata(context.Background(), "7")

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusNotFound, respErr.StatusCode)
	assert.Equal(t, "HTTP 404: File not found", err.Error())
}

func TestAPIClient_RetriesExhausted(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 1
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = time.Millisecond

	_, err := NewAPIClient(client, server.URL, StaticHeaders{}, log.NewLogger()).Metadata(context.Background(), "7")

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusServiceUnavailable, respErr.StatusCode)
	assert.Equal(t, int32(2), requests.Load())
	assert.Nil(t, client.ErrorHandler)
}

func TestAPIClient_Delete(t *testing.T) {
	deleted := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := newTestAPIClient(server.URL).Delete(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, "/files/42", deleted)
}

func TestAPIClient_Download(t *testing.T) {
	content := strings.Repeat("line of text\n", 100)

	var zstdBody bytes.Buffer
	zw, err := zstd.NewWriter(&zstdBody)
	require.NoError(t, err)
	_, err = zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var gzipBody bytes.Buffer
	gw := gzip.NewWriter(&gzipBody)
	_, err = gw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{name: "plain", body: []byte(content)},
		{name: "zstd", encoding: "zstd", body: zstdBody.Bytes()},
		{name: "gzip", encoding: "gzip", body: gzipBody.Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/files/42/download", r.URL.Path)
				assert.Contains(t, r.Header.Get("Accept-Encoding"), "zstd")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(tt.body)
			}))
			defer server.Close()

			got, err := newTestAPIClient(server.URL).Download(context.Background(), "42")

			require.NoError(t, err)
			assert.Equal(t, content, string(got.Content))
			assert.True(t, got.IsText())
		})
	}
}

func TestDownload_IsText(t *testing.T) {
	assert.True(t, Download{ContentType: "application/json"}.IsText())
	assert.True(t, Download{ContentType: "text/markdown; charset=utf-8"}.IsText())
	assert.False(t, Download{ContentType: "application/pdf"}.IsText())
	assert.False(t, Download{}.IsText())
}

func TestAPIClient_DownloadToFile(t *testing.T) {
	testDummyFileContent := strings.Repeat("a", 1024*1024*10) // 10MB
	var unauthorized atomic.Int32

	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		rangeHeader := r.Header.Get("Range")
		if !strings.HasPrefix(rangeHeader, "bytes=") {
			w.Header().Set("Content-Length", strconv.Itoa(len(testDummyFileContent)))
			_, _ = fmt.Fprint(w, testDummyFileContent)
			return
		}
		rangeHeaderFromTo := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		require.Len(t, rangeHeaderFromTo, 2)
		from, err := strconv.ParseUint(rangeHeaderFromTo[0], 10, 64)
		require.NoError(t, err)
		to, err := strconv.ParseUint(rangeHeaderFromTo[1], 10, 64)
		require.NoError(t, err)

		if from == 0 && to == 0 {
			// size probe
			w.Header().Add("content-range", fmt.Sprintf("bytes 0-0/%d", len(testDummyFileContent)))
			_, err := fmt.Fprint(w, " ")
			require.NoError(t, err)
			return
		}
		chunk := testDummyFileContent[from : to+1]
		w.Header().Add("Content-Length", fmt.Sprintf("%d", len(chunk)))
		_, err = fmt.Fprint(w, chunk)
		require.NoError(t, err)
	}))
	defer svr.Close()

	dest := filepath.Join(t.TempDir(), "download.bin")

	err := newTestAPIClient(svr.URL).DownloadToFile(context.Background(), "42", dest)

	require.NoError(t, err)
	assert.Zero(t, unauthorized.Load())
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, len(testDummyFileContent), len(data))
}

func Test_errorDetail(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "string detail", status: 400, body: `{"detail": "Unsupported file type"}`, want: "Unsupported file type"},
		{name: "structured detail", status: 422, body: `{"detail": [{"msg": "field required"}]}`, want: `[{"msg": "field required"}]`},
		{name: "plain text body", status: 502, body: "bad gateway\n", want: "bad gateway"},
		{name: "empty body", status: 503, body: "", want: "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorDetail(tt.status, []byte(tt.body)))
		})
	}
}
