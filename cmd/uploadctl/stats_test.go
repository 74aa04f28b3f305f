package main

import (
	"testing"
	"time"

	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/stretchr/testify/assert"
)

func finishedUnit(status transfer.Status, size int64, took time.Duration, attempts int) *transfer.Unit {
	unit := transfer.NewUnit(transfer.NewBytesSource("a.txt", make([]byte, size), "text/plain"))
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	end := start.Add(took)
	unit.StartedAt = &start
	unit.CompletedAt = &end
	unit.Status = status
	unit.Attempts = attempts
	return unit
}

func Test_stats(t *testing.T) {
	st := &stats{}
	assert.Equal(t, time.Duration(0), st.average())

	st.update(finishedUnit(transfer.StatusCompleted, 100, time.Second, 1))
	st.update(finishedUnit(transfer.StatusCompleted, 50, 3*time.Second, 2))
	st.update(finishedUnit(transfer.StatusFailed, 10, time.Minute, 3))

	completed, bytes, attempts := st.snapshot()
	assert.Equal(t, 2, completed)
	assert.Equal(t, int64(150), bytes)
	assert.Equal(t, 6, attempts)
	assert.Equal(t, 2*time.Second, st.average())
}
