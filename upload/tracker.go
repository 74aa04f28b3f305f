package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/llm-gateway/go-fileupload/transfer"
)

// NewAnalyticsTracker creates the default event tracker, tagging every event
// with the uploader and the environment it runs in.
func NewAnalyticsTracker(client string, envRepo env.Repository, logger log.Logger) analytics.Tracker {
	p := analytics.Properties{
		"client":      client,
		"uploader_id": envRepo.Get("UPLOAD_UPLOADER_ID"),
		"is_ci":       envRepo.Get("CI") == "true",
	}
	return analytics.NewDefaultTracker(logger, p)
}

type transferTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newTransferTracker(tracker analytics.Tracker, logger log.Logger) transferTracker {
	return transferTracker{
		tracker: tracker,
		logger:  logger,
	}
}

func (t transferTracker) logFinished(unit *transfer.Unit, duration time.Duration) {
	if t.tracker == nil {
		return
	}

	properties := analytics.Properties{
		"transfer_id":     unit.ID,
		"file_size_bytes": unit.Source.Size,
		"media_type":      unit.Source.MediaType,
		"attempts":        unit.Attempts,
		"duration_s":      duration.Truncate(time.Second).Seconds(),
	}

	switch unit.Status {
	case transfer.StatusCompleted:
		t.tracker.Enqueue("file_upload_completed", properties)
	case transfer.StatusCancelled:
		t.tracker.Enqueue("file_upload_cancelled", properties)
	case transfer.StatusFailed:
		if unit.Error != nil {
			properties["error_kind"] = string(unit.Error.Kind)
			properties["status_code"] = unit.Error.StatusCode
		}
		t.tracker.Enqueue("file_upload_failed", properties)
	default:
		t.logger.Debugf("Transfer %s finished in unexpected state: %s", unit.ID, unit.Status)
	}
}
