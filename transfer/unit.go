// Package transfer holds the value types shared by the upload pipeline:
// the Transfer Unit tracking one logical file transfer, the source it reads
// from, and the pure helpers (validation, progress estimation, error
// classification) that operate on them.
package transfer

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Unit.
type Status string

// Unit lifecycle states.
const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusUploading  Status = "uploading"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further attempts will be made in this state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Metadata describes a stored file as reported by the server. The content
// fields are only populated when the server processed the file synchronously.
type Metadata struct {
	OriginalName string
	StoredName   string
	Size         int64
	SizeHuman    string
	MediaType    string
	UploadStatus string
	UploadedAt   time.Time
	Hash         string
	IsSafe       bool

	Encoding    string
	LineCount   int
	CharCount   int
	PreviewText string
}

// Unit is one logical file transfer across all of its attempts.
//
// A Unit is owned by the controller running it; callers should only read it
// from the progress and completion callbacks or after the run returns.
type Unit struct {
	ID     string
	Source Source
	Status Status

	StartedAt   *time.Time
	CompletedAt *time.Time

	ServerReference string
	Metadata        *Metadata
	Error           *ClassifiedError

	// Attempts is the number of driver attempts started so far.
	Attempts int
	// UploaderID is forwarded to the server to attribute the upload.
	UploaderID string
}

// NewUnit creates a pending Unit with a fresh identity.
func NewUnit(src Source) *Unit {
	return &Unit{
		ID:     uuid.NewString(),
		Source: src,
		Status: StatusPending,
	}
}

// Succeeded marks the unit completed with the server assigned reference.
func (u *Unit) Succeeded(reference string, meta *Metadata, at time.Time) {
	u.Status = StatusCompleted
	u.ServerReference = reference
	u.Metadata = meta
	u.Error = nil
	u.CompletedAt = &at
}

// Failed marks the unit failed with its final classified error.
func (u *Unit) Failed(err *ClassifiedError, at time.Time) {
	u.Status = StatusFailed
	u.ServerReference = ""
	u.Metadata = nil
	u.Error = err
	u.CompletedAt = &at
}

// Cancelled marks the unit cancelled. Cancellation is not an error.
func (u *Unit) Cancelled(at time.Time) {
	u.Status = StatusCancelled
	u.ServerReference = ""
	u.Metadata = nil
	u.Error = nil
	u.CompletedAt = &at
}
