// Package upload moves files to the upload service: it validates them,
// drives retried transfer attempts and lets callers cancel transfers by ID.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/llm-gateway/go-fileupload/upload/network"
	"github.com/samber/lo"
)

// ErrNoAPI is returned by the file operations of a client built without an
// API client.
var ErrNoAPI = errors.New("no file API configured")

// ErrAlreadyCompleted is returned when retrying a unit that already completed.
var ErrAlreadyCompleted = errors.New("transfer already completed")

// ValidationFailedError is returned by Upload when the source breaks the
// client's limits. No transfer attempt is made.
type ValidationFailedError struct {
	FileName   string
	Violations []transfer.Violation
}

func (e *ValidationFailedError) Error() string {
	messages := lo.Map(e.Violations, func(v transfer.Violation, _ int) string {
		return v.Message
	})
	return fmt.Sprintf("%s is not valid: %s", e.FileName, strings.Join(messages, "; "))
}

// ClientParams ...
type ClientParams struct {
	Driver network.Driver
	// API serves the metadata, delete and download operations. Optional.
	API *network.APIClient
	// Registry defaults to DefaultRegistry.
	Registry *Registry
	// Tracker receives transfer lifecycle events. Optional.
	Tracker analytics.Tracker
	// Limits defaults to transfer.DefaultLimits when no size limit is set.
	Limits transfer.Limits

	MaxAttempts    int
	Backoff        []time.Duration
	AttemptTimeout time.Duration
}

// UploadOptions ...
type UploadOptions struct {
	// MaxAttempts overrides the client's attempt budget when positive.
	MaxAttempts int
	OnProgress  func(transfer.Progress)
	OnComplete  func(*transfer.Unit)
}

// Client is the entry point for uploading files and managing uploaded ones.
type Client struct {
	controller *Controller
	registry   *Registry
	api        *network.APIClient
	limits     transfer.Limits
	logger     log.Logger

	maxAttempts    int
	backoff        []time.Duration
	attemptTimeout time.Duration
}

// NewClient ...
func NewClient(params ClientParams, logger log.Logger) *Client {
	registry := params.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := params.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	limits := params.Limits
	if limits.MaxFileSize == 0 && limits.MaxDocumentSize == 0 {
		limits = transfer.DefaultLimits()
	}

	return &Client{
		controller:     NewController(params.Driver, registry, params.Tracker, logger),
		registry:       registry,
		api:            params.API,
		limits:         limits,
		logger:         logger,
		maxAttempts:    maxAttempts,
		backoff:        backoff,
		attemptTimeout: params.AttemptTimeout,
	}
}

// Validate checks src against the client's limits. An empty result means the
// file can be uploaded.
func (c *Client) Validate(src transfer.Source) []transfer.Violation {
	return transfer.Validate(src, c.limits)
}

// Upload validates unit's source and transfers it, blocking until the unit
// reaches a terminal state.
//
// It returns *ValidationFailedError without contacting the server when the
// source is invalid, the final *transfer.ClassifiedError when the upload
// failed, and nil when it completed or was cancelled. A completed unit is not
// uploaded again, ErrAlreadyCompleted is returned instead.
func (c *Client) Upload(ctx context.Context, unit *transfer.Unit, opts UploadOptions) (*transfer.Unit, error) {
	return c.run(ctx, unit, opts, false)
}

// Retry uploads a failed or cancelled unit again under the same ID, starting
// a fresh attempt budget.
func (c *Client) Retry(ctx context.Context, unit *transfer.Unit, opts UploadOptions) (*transfer.Unit, error) {
	return c.run(ctx, unit, opts, true)
}

// Cancel requests cancellation of the active transfer with the given ID and
// reports whether one was found.
func (c *Client) Cancel(id string) bool {
	found := c.registry.Cancel(id)
	if found {
		c.logger.Debugf("Cancellation requested for %s", id)
	}
	return found
}

// IsUploading ...
func (c *Client) IsUploading(id string) bool {
	return c.registry.IsActive(id)
}

// Metadata returns what the server stores about the file with the given reference.
func (c *Client) Metadata(ctx context.Context, ref string) (*transfer.Metadata, error) {
	if c.api == nil {
		return nil, ErrNoAPI
	}

	file, err := c.api.Metadata(ctx, ref)
	if err != nil {
		return nil, transfer.Classify(err, ref, ref)
	}
	return file.Metadata(), nil
}

// Delete removes the file with the given reference from the server.
func (c *Client) Delete(ctx context.Context, ref string) error {
	if c.api == nil {
		return ErrNoAPI
	}

	if err := c.api.Delete(ctx, ref); err != nil {
		return transfer.Classify(err, ref, ref)
	}
	return nil
}

// Download returns the content of the file with the given reference.
func (c *Client) Download(ctx context.Context, ref string) (network.Download, error) {
	if c.api == nil {
		return network.Download{}, ErrNoAPI
	}

	d, err := c.api.Download(ctx, ref)
	if err != nil {
		return network.Download{}, transfer.Classify(err, ref, ref)
	}
	return d, nil
}

// DownloadToFile saves the file with the given reference to dest.
func (c *Client) DownloadToFile(ctx context.Context, ref, dest string) error {
	if c.api == nil {
		return ErrNoAPI
	}

	if err := c.api.DownloadToFile(ctx, ref, dest); err != nil {
		return transfer.Classify(err, ref, ref)
	}
	return nil
}

func (c *Client) run(ctx context.Context, unit *transfer.Unit, opts UploadOptions, reset bool) (*transfer.Unit, error) {
	maxAttempts := c.maxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}

	// unit is only touched once the controller owns its ID
	var verr *ValidationFailedError
	prepare := func(u *transfer.Unit) error {
		if u.Status == transfer.StatusCompleted {
			return ErrAlreadyCompleted
		}
		if reset {
			u.Error = nil
			u.ServerReference = ""
			u.Metadata = nil
			u.StartedAt = nil
			u.CompletedAt = nil
			u.Attempts = 0
		}

		u.Status = transfer.StatusValidating
		if violations := c.Validate(u.Source); len(violations) > 0 {
			verr = &ValidationFailedError{FileName: u.Source.Name, Violations: violations}
			c.logger.Warnf("%s", verr)
			return transfer.NewClassifiedError(transfer.KindValidation, verr.Error(), u.ID, u.Source.Name)
		}
		return nil
	}

	unit, err := c.controller.Run(ctx, unit, RunOptions{
		MaxAttempts:    maxAttempts,
		Backoff:        c.backoff,
		AttemptTimeout: c.attemptTimeout,
		Prepare:        prepare,
		OnProgress:     opts.OnProgress,
		OnComplete:     opts.OnComplete,
	})
	if verr != nil {
		return unit, verr
	}
	return unit, err
}
