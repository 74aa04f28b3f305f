package network

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func TestProgressReader_Throttles(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)}
	var samples []transfer.Sample

	reader := newProgressReader(iotest.OneByteReader(strings.NewReader("abcdef")), 6, time.Second, func(s transfer.Sample) {
		samples = append(samples, s)
	})
	reader.now = clock.now
	reader.start = clock.t
	reader.lastEmit = clock.t

	buf := make([]byte, 1)
	// first two reads fall inside the interval
	for i := 0; i < 2; i++ {
		_, err := reader.Read(buf)
		require.NoError(t, err)
	}
	assert.Empty(t, samples)

	clock.t = clock.t.Add(time.Second)
	_, err := reader.Read(buf)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(3), samples[0].BytesSent)

	_, err = io.ReadAll(reader)
	require.NoError(t, err)

	require.Len(t, samples, 2)
	assert.Equal(t, int64(6), samples[1].BytesSent)
	assert.Equal(t, int64(6), samples[1].BytesTotal)
	assert.Equal(t, int64(6), reader.Sent())
}

func TestProgressReader_Monotonic(t *testing.T) {
	var samples []transfer.Sample

	reader := newProgressReader(iotest.OneByteReader(strings.NewReader(strings.Repeat("x", 64))), -1, 0, func(s transfer.Sample) {
		samples = append(samples, s)
	})

	_, err := io.ReadAll(reader)
	require.NoError(t, err)

	require.Len(t, samples, 64)
	for i := 1; i < len(samples); i++ {
		assert.Greater(t, samples[i].BytesSent, samples[i-1].BytesSent)
		assert.GreaterOrEqual(t, samples[i].Elapsed, samples[i-1].Elapsed)
	}
	assert.Equal(t, int64(-1), samples[63].BytesTotal)
}

func TestProgressReader_EmptySource(t *testing.T) {
	var samples []transfer.Sample
	reader := newProgressReader(strings.NewReader(""), 0, time.Second, func(s transfer.Sample) {
		samples = append(samples, s)
	})

	_, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(0), samples[0].BytesSent)
	assert.Equal(t, 100, transfer.Estimate(samples[0]).Percentage)
}

func TestProgressReader_NilCallback(t *testing.T) {
	reader := newProgressReader(strings.NewReader("data"), 4, 0, nil)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
