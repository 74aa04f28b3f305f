package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/llm-gateway/go-fileupload/upload"
	"github.com/samber/lo"
)

type uploadCmd struct {
	Paths       []string `kong:"arg,help='files or glob patterns to upload',required"`
	UploaderID  string   `kong:"help='uploader id sent with the files, overrides UPLOAD_UPLOADER_ID'"`
	MaxAttempts int      `kong:"help='attempt budget per file, overrides UPLOAD_MAX_ATTEMPTS'"`
	Concurrency int      `kong:"help='number of files uploaded at once',default='4'"`
}

func (c *uploadCmd) Run(a *app) error {
	sources := a.files.sources(a.files.expand(c.Paths))
	if len(sources) == 0 {
		return errors.New("no files to upload")
	}

	uploaderID := c.UploaderID
	if uploaderID == "" {
		uploaderID = a.config.UploaderID
	}

	transfers := lo.Map(sources, func(src transfer.Source, _ int) *transfer.Unit {
		unit := transfer.NewUnit(src)
		unit.UploaderID = uploaderID
		return unit
	})

	concurrency := c.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	st := &stats{}

	for _, unit := range transfers {
		sem <- struct{}{}
		if a.ctx.Err() != nil {
			<-sem
			break
		}

		wg.Add(1)
		go func(unit *transfer.Unit) {
			defer wg.Done()
			defer func() { <-sem }()

			progress := newProgressPrinter(unit.Source.Name, a.logger)
			_, err := a.client.Upload(a.ctx, unit, upload.UploadOptions{
				MaxAttempts: c.MaxAttempts,
				OnProgress:  progress.print,
				OnComplete:  st.update,
			})
			if err != nil {
				a.logger.Debugf("%s: %s", unit.Source.Name, err)
			}
		}(unit)
	}
	wg.Wait()

	return summarize(transfers, st, a)
}

func summarize(transfers []*transfer.Unit, st *stats, a *app) error {
	a.logger.Println()

	failed := 0
	for _, unit := range transfers {
		switch unit.Status {
		case transfer.StatusCompleted:
			a.logger.Donef("%s -> %s", unit.Source.Name, unit.ServerReference)
		case transfer.StatusCancelled:
			a.logger.Warnf("%s: cancelled", unit.Source.Name)
		case transfer.StatusFailed:
			failed++
			a.logger.Errorf("%s: %s", unit.Source.Name, unit.Error.Message)
			a.logger.Printf("  %s", unit.Error.UserAction)
		default:
			a.logger.Warnf("%s: not started", unit.Source.Name)
		}
	}

	completed, bytes, attempts := st.snapshot()
	if completed > 0 {
		a.logger.Println()
		a.logger.Printf("Uploaded %d file(s), %s in %d attempt(s), %s per file on average",
			completed, units.HumanSize(float64(bytes)), attempts, st.average().Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(transfers))
	}
	return nil
}

type progressPrinter struct {
	name    string
	logger  log.Logger
	mu      sync.Mutex
	attempt int
	last    int
}

func newProgressPrinter(name string, logger log.Logger) *progressPrinter {
	return &progressPrinter{name: name, logger: logger, last: -1}
}

// print logs every tenth percent of an attempt.
func (p *progressPrinter) print(progress transfer.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if progress.Attempt != p.attempt {
		p.attempt = progress.Attempt
		p.last = -1
	}
	if !progress.HasTotal {
		p.logger.Printf("%s: %s sent", p.name, units.HumanSize(float64(progress.BytesSent)))
		return
	}

	step := progress.Percentage / 10
	if step == p.last {
		return
	}
	p.last = step

	line := fmt.Sprintf("%s: %d%% (%s/s", p.name, progress.Percentage, units.HumanSize(progress.Throughput))
	if progress.HasRemaining && progress.Percentage < 100 {
		line += fmt.Sprintf(", %s left", progress.Remaining.Round(time.Second))
	}
	if progress.Attempt > 1 {
		line += fmt.Sprintf(", attempt %d", progress.Attempt)
	}
	p.logger.Printf("%s)", line)
}

type validateCmd struct {
	Paths []string `kong:"arg,help='files or glob patterns to check',required"`
}

func (c *validateCmd) Run(a *app) error {
	sources := a.files.sources(a.files.expand(c.Paths))
	if len(sources) == 0 {
		return errors.New("no files to check")
	}

	invalid := 0
	for _, src := range sources {
		violations := a.client.Validate(src)
		if len(violations) == 0 {
			a.logger.Donef("%s (%s, %s)", src.Name, units.HumanSize(float64(src.Size)), src.MediaType)
			continue
		}

		invalid++
		a.logger.Errorf("%s", src.Name)
		for _, v := range violations {
			a.logger.Printf("- %s", v.Message)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d files can't be uploaded", invalid, len(sources))
	}
	return nil
}

type infoCmd struct {
	Ref string `kong:"arg,help='server reference of the file',required"`
}

func (c *infoCmd) Run(a *app) error {
	meta, err := a.client.Metadata(a.ctx, c.Ref)
	if err != nil {
		return err
	}

	a.logger.Infof("%s", meta.OriginalName)
	a.logger.Printf("Stored as: %s", meta.StoredName)
	a.logger.Printf("Size: %s", meta.SizeHuman)
	a.logger.Printf("Type: %s", meta.MediaType)
	a.logger.Printf("Status: %s", meta.UploadStatus)
	a.logger.Printf("Uploaded at: %s", meta.UploadedAt)
	a.logger.Printf("Hash: %s", meta.Hash)
	a.logger.Printf("Safe: %t", meta.IsSafe)
	if meta.Encoding != "" {
		a.logger.Printf("Encoding: %s, %d lines, %d characters", meta.Encoding, meta.LineCount, meta.CharCount)
	}
	if meta.PreviewText != "" {
		a.logger.Println()
		a.logger.Printf("%s", meta.PreviewText)
	}
	return nil
}

type deleteCmd struct {
	Refs []string `kong:"arg,help='server references of the files',required"`
}

func (c *deleteCmd) Run(a *app) error {
	for _, ref := range c.Refs {
		if err := a.client.Delete(a.ctx, ref); err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
		a.logger.Donef("Deleted %s", ref)
	}
	return nil
}

type downloadCmd struct {
	Ref    string `kong:"arg,help='server reference of the file',required"`
	Output string `kong:"short='o',help='write the file to this path instead of stdout'"`
}

func (c *downloadCmd) Run(a *app) error {
	if c.Output != "" {
		if err := a.client.DownloadToFile(a.ctx, c.Ref, c.Output); err != nil {
			return err
		}
		a.logger.Donef("Saved %s to %s", c.Ref, c.Output)
		return nil
	}

	d, err := a.client.Download(a.ctx, c.Ref)
	if err != nil {
		return err
	}
	if !d.IsText() {
		return fmt.Errorf("%s is binary (%s), use --output to save it", c.Ref, d.ContentType)
	}
	_, err = os.Stdout.Write(d.Content)
	return err
}
