package network

import (
	"io"
	"time"

	"github.com/llm-gateway/go-fileupload/transfer"
)

// progressReader counts the bytes read from the source and reports them at
// most once per interval. The last sample (EOF or all bytes read) is always
// reported.
type progressReader struct {
	r          io.Reader
	total      int64
	interval   time.Duration
	onProgress ProgressFunc
	now        func() time.Time

	start    time.Time
	lastEmit time.Time
	sent     int64
	reported int64
}

func newProgressReader(r io.Reader, total int64, interval time.Duration, onProgress ProgressFunc) *progressReader {
	now := time.Now
	start := now()
	return &progressReader{
		r:          r,
		total:      total,
		interval:   interval,
		onProgress: onProgress,
		now:        now,
		start:      start,
		lastEmit:   start,
		reported:   -1,
	}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
	}

	final := err == io.EOF || (p.total >= 0 && p.sent >= p.total)
	if n > 0 || final {
		p.emit(final)
	}

	return n, err
}

// Sent returns the number of bytes read so far.
func (p *progressReader) Sent() int64 {
	return p.sent
}

func (p *progressReader) emit(force bool) {
	if p.onProgress == nil || p.sent == p.reported {
		return
	}

	now := p.now()
	if !force && p.interval > 0 && now.Sub(p.lastEmit) < p.interval {
		return
	}

	p.lastEmit = now
	p.reported = p.sent
	p.onProgress(transfer.Sample{
		BytesSent:  p.sent,
		BytesTotal: p.total,
		Elapsed:    now.Sub(p.start),
	})
}
