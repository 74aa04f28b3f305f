package main

import (
	"sync"
	"time"

	"github.com/llm-gateway/go-fileupload/transfer"
)

// stats aggregates finished uploads. It is updated from concurrent uploads.
type stats struct {
	mu        sync.Mutex
	completed int
	bytes     int64
	sum       time.Duration
	attempts  int
}

func (s *stats) update(unit *transfer.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts += unit.Attempts
	if unit.Status != transfer.StatusCompleted || unit.StartedAt == nil || unit.CompletedAt == nil {
		return
	}
	s.completed++
	s.bytes += unit.Source.Size
	s.sum += unit.CompletedAt.Sub(*unit.StartedAt)
}

// average returns the mean duration of the completed uploads.
func (s *stats) average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed == 0 {
		return 0
	}
	return s.sum / time.Duration(s.completed)
}

func (s *stats) snapshot() (completed int, bytes int64, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.bytes, s.attempts
}
