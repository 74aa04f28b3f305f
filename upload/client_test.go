package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/llm-gateway/go-fileupload/upload/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(driver network.Driver, api *network.APIClient) *Client {
	client := NewClient(ClientParams{
		Driver:   driver,
		API:      api,
		Registry: NewRegistry(),
		Backoff:  []time.Duration{time.Millisecond},
	}, log.NewLogger())
	client.controller.wait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return client
}

func TestClient_Upload_ValidFile(t *testing.T) {
	driver := newScriptedDriver(succeed("42"))
	client := newTestClient(driver, nil)
	src := transfer.NewBytesSource("notes.txt", bytes.Repeat([]byte("a"), 5*units.MiB), "text/plain")

	require.Empty(t, client.Validate(src))

	completions := 0
	got, err := client.Upload(context.Background(), transfer.NewUnit(src), UploadOptions{
		OnComplete: func(*transfer.Unit) { completions++ },
	})

	require.NoError(t, err)
	assert.Equal(t, 1, driver.Calls())
	assert.Equal(t, transfer.StatusCompleted, got.Status)
	assert.Equal(t, "42", got.ServerReference)
	assert.Nil(t, got.Error)
	assert.Equal(t, 1, completions)
}

func TestClient_Upload_OversizedDocument(t *testing.T) {
	driver := newScriptedDriver(succeed("never"))
	client := newTestClient(driver, nil)
	src := transfer.NewReaderSource("report.pdf", 30*units.MiB, "application/pdf", func() (io.ReadCloser, error) {
		return nil, errors.New("must not be opened")
	})

	violations := client.Validate(src)
	require.Len(t, violations, 1)
	assert.Equal(t, transfer.ViolationSize, violations[0].Code)

	completions := 0
	got, err := client.Upload(context.Background(), transfer.NewUnit(src), UploadOptions{
		OnComplete: func(*transfer.Unit) { completions++ },
	})

	var verr *ValidationFailedError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, violations, verr.Violations)
	assert.Equal(t, "report.pdf is not valid: report.pdf is 30MiB, the maximum allowed size is 25MiB", verr.Error())
	assert.Equal(t, 0, driver.Calls())
	assert.Equal(t, transfer.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, transfer.KindValidation, got.Error.Kind)
	assert.False(t, got.Error.IsRetryable)
	assert.Empty(t, got.ServerReference)
	assert.Equal(t, 1, completions)
}

func TestClient_Upload_AttemptBudgetOverride(t *testing.T) {
	driver := newScriptedDriver(fail(errNetwork))
	client := newTestClient(driver, nil)

	got, err := client.Upload(context.Background(), newUnit("data"), UploadOptions{MaxAttempts: 2})

	require.Error(t, err)
	assert.Equal(t, 2, driver.Calls())
	assert.Equal(t, 2, got.Attempts)
}

func TestClient_Retry(t *testing.T) {
	driver := newScriptedDriver(fail(errNetwork), fail(errNetwork), fail(errNetwork), succeed("42"))
	client := newTestClient(driver, nil)
	unit := newUnit("data")

	_, err := client.Upload(context.Background(), unit, UploadOptions{})
	require.Error(t, err)
	require.Equal(t, transfer.StatusFailed, unit.Status)
	id := unit.ID

	got, err := client.Retry(context.Background(), unit, UploadOptions{MaxAttempts: 1})

	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, transfer.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.Error)
	assert.Equal(t, 4, driver.Calls())

	_, err = client.Retry(context.Background(), unit, UploadOptions{})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestClient_Upload_CompletedUnit(t *testing.T) {
	driver := newScriptedDriver(succeed("42"))
	client := newTestClient(driver, nil)
	unit := newUnit("data")

	_, err := client.Upload(context.Background(), unit, UploadOptions{})
	require.NoError(t, err)

	completions := 0
	got, err := client.Upload(context.Background(), unit, UploadOptions{
		OnComplete: func(*transfer.Unit) { completions++ },
	})

	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.Equal(t, 1, driver.Calls())
	assert.Equal(t, transfer.StatusCompleted, got.Status)
	assert.Equal(t, "42", got.ServerReference)
	assert.Equal(t, 0, completions)
	assert.False(t, client.IsUploading(unit.ID))
}

func TestClient_Upload_ValidatesWhileOwningID(t *testing.T) {
	client := newTestClient(newScriptedDriver(succeed("never")), nil)
	unit := newUnit("data")
	require.NoError(t, client.registry.Register(unit.ID, func() {}))

	got, err := client.Upload(context.Background(), unit, UploadOptions{})

	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, transfer.StatusPending, got.Status)
}

func TestClient_CancelAndIsUploading(t *testing.T) {
	started := make(chan struct{}, 1)
	client := newTestClient(newScriptedDriver(blockUntilDone(started)), nil)
	unit := newUnit("data")

	assert.False(t, client.IsUploading(unit.ID))
	assert.False(t, client.Cancel(unit.ID))

	done := make(chan *transfer.Unit)
	go func() {
		got, _ := client.Upload(context.Background(), unit, UploadOptions{})
		done <- got
	}()

	<-started
	assert.True(t, client.IsUploading(unit.ID))

	_, err := client.Upload(context.Background(), unit, UploadOptions{})
	assert.ErrorIs(t, err, ErrAlreadyActive)

	assert.True(t, client.Cancel(unit.ID))
	got := <-done

	assert.Equal(t, transfer.StatusCancelled, got.Status)
	assert.False(t, client.IsUploading(unit.ID))
}

func TestClient_FileOperations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/files/42":
			_, _ = fmt.Fprint(w, `{"id": 42, "original_name": "notes.txt", "file_size": 2000, "mime_type": "text/plain"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/files/42/download":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = fmt.Fprint(w, "hello")
		case r.Method == http.MethodDelete && r.URL.Path == "/files/42":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, `{"detail": "File not found"}`)
		}
	}))
	defer server.Close()

	logger := log.NewLogger()
	httpClient := retryhttp.NewClient(logger)
	httpClient.RetryMax = 0
	api := network.NewAPIClient(httpClient, server.URL, network.StaticHeaders{}, logger)
	client := newTestClient(newScriptedDriver(succeed("42")), api)
	ctx := context.Background()

	meta, err := client.Metadata(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", meta.OriginalName)
	assert.Equal(t, "2kB", meta.SizeHuman)

	download, err := client.Download(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(download.Content))

	require.NoError(t, client.Delete(ctx, "42"))

	_, err = client.Metadata(ctx, "7")
	var classified *transfer.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, transfer.KindServer, classified.Kind)
	assert.Equal(t, http.StatusNotFound, classified.StatusCode)
	assert.True(t, strings.Contains(classified.Message, "File not found"))
}

func TestClient_FileOperations_NoAPI(t *testing.T) {
	client := newTestClient(newScriptedDriver(succeed("42")), nil)
	ctx := context.Background()

	_, err := client.Metadata(ctx, "42")
	assert.ErrorIs(t, err, ErrNoAPI)
	assert.ErrorIs(t, client.Delete(ctx, "42"), ErrNoAPI)
	_, err = client.Download(ctx, "42")
	assert.ErrorIs(t, err, ErrNoAPI)
	assert.ErrorIs(t, client.DownloadToFile(ctx, "42", t.TempDir()+"/out"), ErrNoAPI)
}
