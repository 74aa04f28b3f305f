// Package uploadconf loads the upload client settings from the environment.
package uploadconf

import (
	"fmt"
	"strings"
	"time"

	goenv "github.com/Netflix/go-env"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/samber/lo"
)

// Transports.
const (
	TransportHTTP = "http"
	TransportS3   = "s3"
)

var validate = validator.New()

// Secret is a config value that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// UnmarshalEnvironmentValue ...
func (s *Secret) UnmarshalEnvironmentValue(data string) error {
	*s = Secret(data)
	return nil
}

// Config ...
type Config struct {
	APIURL     string `env:"UPLOAD_API_URL,required=true" validate:"required,url"`
	APIToken   Secret `env:"UPLOAD_API_TOKEN"`
	UploaderID string `env:"UPLOAD_UPLOADER_ID" validate:"max=255"`

	Transport   string `env:"UPLOAD_TRANSPORT,default=http" validate:"oneof=http s3"`
	MaxAttempts int    `env:"UPLOAD_MAX_ATTEMPTS,default=3" validate:"min=1,max=10"`
	// Backoff is a comma separated list of durations, e.g. "1s,2s".
	Backoff          string        `env:"UPLOAD_BACKOFF"`
	AttemptTimeout   time.Duration `env:"UPLOAD_ATTEMPT_TIMEOUT,default=5m" validate:"min=0"`
	ProgressInterval time.Duration `env:"UPLOAD_PROGRESS_INTERVAL,default=100ms" validate:"min=0"`

	// Sizes accept human readable values such as "10MiB" or "512k".
	MaxFileSize     string `env:"UPLOAD_MAX_FILE_SIZE,default=10MiB"`
	MaxDocumentSize string `env:"UPLOAD_MAX_DOCUMENT_SIZE,default=25MiB"`

	S3Bucket          string `env:"UPLOAD_S3_BUCKET" validate:"required_if=Transport s3"`
	S3Region          string `env:"UPLOAD_S3_REGION" validate:"required_if=Transport s3"`
	S3Endpoint        string `env:"UPLOAD_S3_ENDPOINT" validate:"omitempty,url"`
	S3KeyPrefix       string `env:"UPLOAD_S3_KEY_PREFIX"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey Secret `env:"AWS_SECRET_ACCESS_KEY"`
}

// Load reads and validates the config from envRepo.
func Load(envRepo env.Repository) (Config, error) {
	es, err := goenv.EnvironToEnvSet(envRepo.List())
	if err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	var c Config
	if err := goenv.Unmarshal(es, &c); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Limits(); err != nil {
		return Config{}, err
	}
	if _, err := c.BackoffSchedule(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Limits returns the validation limits with the configured sizes.
func (c Config) Limits() (transfer.Limits, error) {
	limits := transfer.DefaultLimits()

	fileSize, err := units.RAMInBytes(c.MaxFileSize)
	if err != nil {
		return transfer.Limits{}, fmt.Errorf("invalid UPLOAD_MAX_FILE_SIZE: %w", err)
	}
	documentSize, err := units.RAMInBytes(c.MaxDocumentSize)
	if err != nil {
		return transfer.Limits{}, fmt.Errorf("invalid UPLOAD_MAX_DOCUMENT_SIZE: %w", err)
	}

	limits.MaxFileSize = fileSize
	limits.MaxDocumentSize = documentSize
	return limits, nil
}

// BackoffSchedule parses Backoff. It returns nil if Backoff is empty.
func (c Config) BackoffSchedule() ([]time.Duration, error) {
	parts := lo.Compact(lo.Map(strings.Split(c.Backoff, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if len(parts) == 0 {
		return nil, nil
	}

	schedule := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("invalid UPLOAD_BACKOFF: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid UPLOAD_BACKOFF: negative duration %s", p)
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

// Print logs the config with secrets redacted.
func (c Config) Print(logger log.Logger) {
	logger.Infof("Config:")
	logger.Printf("- APIURL: %s", c.APIURL)
	logger.Printf("- APIToken: %s", c.APIToken)
	logger.Printf("- UploaderID: %s", c.UploaderID)
	logger.Printf("- Transport: %s", c.Transport)
	logger.Printf("- MaxAttempts: %d", c.MaxAttempts)
	logger.Printf("- Backoff: %s", c.Backoff)
	logger.Printf("- AttemptTimeout: %s", c.AttemptTimeout)
	logger.Printf("- MaxFileSize: %s", c.MaxFileSize)
	logger.Printf("- MaxDocumentSize: %s", c.MaxDocumentSize)
	if c.Transport == TransportS3 {
		logger.Printf("- S3Bucket: %s", c.S3Bucket)
		logger.Printf("- S3Region: %s", c.S3Region)
		logger.Printf("- S3Endpoint: %s", c.S3Endpoint)
		logger.Printf("- S3KeyPrefix: %s", c.S3KeyPrefix)
		logger.Printf("- S3SecretAccessKey: %s", c.S3SecretAccessKey)
	}
}
