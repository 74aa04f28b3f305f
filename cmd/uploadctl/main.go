// Package main is the uploadctl command line client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/llm-gateway/go-fileupload/upload"
	"github.com/llm-gateway/go-fileupload/upload/network"
	"github.com/llm-gateway/go-fileupload/uploadconf"
)

const clientName = "uploadctl"

var cli struct {
	Debug bool `kong:"help='enable debug logs'"`

	Upload   uploadCmd   `kong:"cmd,help='upload files'"`
	Validate validateCmd `kong:"cmd,help='check files against the upload limits'"`
	Info     infoCmd     `kong:"cmd,help='show what the server stores about a file'"`
	Delete   deleteCmd   `kong:"cmd,help='delete an uploaded file'"`
	Download downloadCmd `kong:"cmd,help='download an uploaded file'"`
}

type app struct {
	ctx     context.Context
	logger  log.Logger
	config  uploadconf.Config
	client  *upload.Client
	tracker analytics.Tracker
	files   fileArgs
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name(clientName),
		kong.Description("Uploads files to the file service and manages uploaded files."),
		kong.UsageOnError(),
	)

	logger := log.NewLogger()
	logger.EnableDebugLog(cli.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, env.NewRepository(), logger)
	if err != nil {
		logger.Errorf("%s", err)
		stop()
		os.Exit(1)
	}
	defer a.tracker.Wait()

	if err := kctx.Run(a); err != nil {
		logger.Errorf("%s", err)
		a.tracker.Wait()
		stop()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, envRepo env.Repository, logger log.Logger) (*app, error) {
	config, err := uploadconf.Load(envRepo)
	if err != nil {
		return nil, err
	}
	if cli.Debug {
		config.Print(logger)
	}

	limits, err := config.Limits()
	if err != nil {
		return nil, err
	}
	backoff, err := config.BackoffSchedule()
	if err != nil {
		return nil, err
	}

	credentials := uploadconf.NewCredentials(envRepo, uploadconf.TokenEnvKey, map[string]string{
		"User-Agent": clientName,
	})

	driver, err := newDriver(ctx, config, credentials, logger)
	if err != nil {
		return nil, err
	}

	api := network.NewAPIClient(retryhttp.NewClient(logger), config.APIURL, credentials, logger)
	tracker := upload.NewAnalyticsTracker(clientName, envRepo, logger)

	client := upload.NewClient(upload.ClientParams{
		Driver:         driver,
		API:            api,
		Tracker:        tracker,
		Limits:         limits,
		MaxAttempts:    config.MaxAttempts,
		Backoff:        backoff,
		AttemptTimeout: config.AttemptTimeout,
	}, logger)

	return &app{
		ctx:     ctx,
		logger:  logger,
		config:  config,
		client:  client,
		tracker: tracker,
		files: fileArgs{
			pathModifier: pathutil.NewPathModifier(),
			pathChecker:  pathutil.NewPathChecker(),
			logger:       logger,
		},
	}, nil
}

func newDriver(ctx context.Context, config uploadconf.Config, credentials network.HeaderProvider, logger log.Logger) (network.Driver, error) {
	switch config.Transport {
	case uploadconf.TransportHTTP:
		return network.NewHTTPDriver(network.HTTPDriverParams{
			BaseURL:          config.APIURL,
			Credentials:      credentials,
			ProgressInterval: config.ProgressInterval,
		}, logger), nil
	case uploadconf.TransportS3:
		s3Client, err := network.NewS3Client(ctx, network.S3ClientParams{
			Region:          config.S3Region,
			AccessKeyID:     config.S3AccessKeyID,
			SecretAccessKey: string(config.S3SecretAccessKey),
			Endpoint:        config.S3Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		return network.NewS3Driver(s3Client, network.S3DriverParams{
			Bucket:           config.S3Bucket,
			KeyPrefix:        config.S3KeyPrefix,
			ProgressInterval: config.ProgressInterval,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transport: %s", config.Transport)
	}
}
