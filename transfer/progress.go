package transfer

import (
	"math"
	"time"
)

// Sample is a raw progress reading of a single attempt.
type Sample struct {
	BytesSent int64
	// BytesTotal is negative when the total size is not known.
	BytesTotal int64
	Elapsed    time.Duration
}

// Progress is the estimate derived from a Sample.
type Progress struct {
	Sample
	// Attempt is the 1-indexed attempt the sample belongs to. Byte counts
	// restart from zero on every attempt.
	Attempt int

	// Throughput is in bytes per second.
	Throughput float64

	// HasTotal is false when BytesTotal is unknown; Percentage and
	// Remaining are meaningless then.
	HasTotal   bool
	Percentage int
	// HasRemaining is false while the throughput is zero.
	HasRemaining bool
	Remaining    time.Duration
}

// Estimate derives percentage, throughput and remaining time from s.
func Estimate(s Sample) Progress {
	p := Progress{Sample: s}

	if secs := s.Elapsed.Seconds(); secs > 0 {
		p.Throughput = float64(s.BytesSent) / secs
	}

	if s.BytesTotal < 0 {
		return p
	}
	p.HasTotal = true

	switch {
	case s.BytesTotal == 0:
		p.Percentage = 100
	default:
		pct := math.Round(float64(s.BytesSent) / float64(s.BytesTotal) * 100)
		p.Percentage = int(math.Max(0, math.Min(100, pct)))
	}

	if p.Throughput > 0 {
		left := s.BytesTotal - s.BytesSent
		if left < 0 {
			left = 0
		}
		p.HasRemaining = true
		p.Remaining = time.Duration(float64(left) / p.Throughput * float64(time.Second))
	}

	return p
}
