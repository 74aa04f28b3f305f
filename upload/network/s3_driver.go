package network

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/llm-gateway/go-fileupload/transfer"
)

const numHeadRetries = 3

// S3ClientParams ...
type S3ClientParams struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint, for S3 compatible storage.
	Endpoint string
}

// S3DriverParams ...
type S3DriverParams struct {
	Bucket           string
	KeyPrefix        string
	PartSize         int64
	ProgressInterval time.Duration
	// HeadRetryWait is the wait between metadata lookups after an upload.
	HeadRetryWait time.Duration
}

// S3Driver uploads files as objects to an S3 compatible bucket. The object
// key is the server reference.
type S3Driver struct {
	client           *s3.Client
	bucket           string
	keyPrefix        string
	partSize         int64
	progressInterval time.Duration
	headRetryWait    time.Duration
	logger           log.Logger
}

// NewS3Client creates an S3 client from static credentials, falling back to
// the default AWS credential chain when none are given.
func NewS3Client(ctx context.Context, params S3ClientParams, logger log.Logger) (*s3.Client, error) {
	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Driver ...
func NewS3Driver(client *s3.Client, params S3DriverParams, logger log.Logger) (*S3Driver, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	partSize := params.PartSize
	if partSize < manager.MinUploadPartSize {
		partSize = DefaultS3PartSize
	}
	headRetryWait := params.HeadRetryWait
	if headRetryWait == 0 {
		headRetryWait = time.Second
	}

	return &S3Driver{
		client:           client,
		bucket:           params.Bucket,
		keyPrefix:        params.KeyPrefix,
		partSize:         partSize,
		progressInterval: params.ProgressInterval,
		headRetryWait:    headRetryWait,
		logger:           logger,
	}, nil
}

// Attempt uploads unit's source as a single object.
func (d *S3Driver) Attempt(ctx context.Context, unit *transfer.Unit, onProgress ProgressFunc) (Result, error) {
	src, err := unit.Source.Open()
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			d.logger.Warnf("Failed to close %s: %s", unit.Source.Name, err)
		}
	}()

	key := path.Join(d.keyPrefix, unit.ID, unit.Source.Name)
	mediaType := unit.Source.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	reader := newProgressReader(src, unit.Source.Size, d.progressInterval, onProgress)

	uploader := manager.NewUploader(d.client, func(u *manager.Uploader) {
		u.PartSize = d.partSize
	})

	d.logger.Debugf("Uploading %s to s3://%s/%s", unit.Source.Name, d.bucket, key)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Body:        reader,
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mediaType),
		Metadata: map[string]string{
			"transfer-id":   unit.ID,
			"original-name": unit.Source.Name,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("upload aborted after %d bytes: %w", reader.Sent(), ctx.Err())
		}
		return Result{}, s3Error(err)
	}

	meta, err := d.headWithRetry(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("read object metadata: %w", err)
	}
	meta.OriginalName = unit.Source.Name

	return Result{ServerReference: key, Metadata: meta}, nil
}

// headWithRetry reads the stored object's attributes. Freshly written
// objects may briefly be missing on eventually consistent backends.
func (d *S3Driver) headWithRetry(ctx context.Context, key string) (*transfer.Metadata, error) {
	var meta *transfer.Metadata
	err := retry.Times(numHeadRetries).Wait(d.headRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if ctx.Err() != nil {
			return ctx.Err(), true
		}

		out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				d.logger.Debugf("Object %s not visible yet (attempt %d)", key, attempt+1)
				return err, false
			}
			return s3Error(err), true
		}

		size := aws.ToInt64(out.ContentLength)
		meta = &transfer.Metadata{
			StoredName:   key,
			Size:         size,
			SizeHuman:    units.HumanSizeWithPrecision(float64(size), 3),
			MediaType:    aws.ToString(out.ContentType),
			UploadStatus: "stored",
			UploadedAt:   aws.ToTime(out.LastModified),
			Hash:         aws.ToString(out.ETag),
		}
		return nil, false
	})

	return meta, err
}

// s3Error exposes the HTTP status and API message of an S3 failure to the
// classifier.
func s3Error(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	status := 0
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		status = withStatus.HTTPStatusCode()
	}

	return &ResponseError{
		StatusCode: status,
		Detail:     fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
	}
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

var _ Driver = (*S3Driver)(nil)
