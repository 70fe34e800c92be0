package jobs

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a transcription job.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition enforces the job state machine edges.
// uploaded -> processing -> completed|failed; uploaded may also fail directly
// (e.g. the job could not be scheduled). Nothing leaves a terminal state.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusUploaded:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// predecessors returns the states from which a transition to s is allowed.
func predecessors(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusUploaded, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Kind selects the pipeline a job runs through.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Job is the record kept for one uploaded media file.
type Job struct {
	ID               string    // UUIDv4, the only external handle
	OriginalFilename string    // as sent by the client
	ContentType      string    // resolved media type (audio/*, video/*)
	Kind             Kind      // audio or video pipeline
	Status           Status    // current state
	SourcePath       string    // stored upload
	TranscriptPath   *string   // set together with StatusCompleted
	FailureReason    *string   // last pipeline error, operator facing
	CreatedAt        time.Time // creation time
	UpdatedAt        time.Time // last status transition
}

// StatusUpdate is the single mutation applied to a job after creation.
type StatusUpdate struct {
	Status         Status
	TranscriptPath *string // only honoured with StatusCompleted
	FailureReason  string  // only honoured with StatusFailed
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store defines persistence for Jobs and their lifecycle.
// Implementations must apply UpdateStatus atomically per job.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
	ListStale(ctx context.Context, statuses []Status, olderThan time.Time) ([]*Job, error)
	Close() error
}

// validateUpdate checks the parts of an update that do not depend on the stored row.
func validateUpdate(update StatusUpdate) error {
	if !update.Status.Valid() || update.Status == StatusUploaded {
		return ErrInvalidTransition
	}
	if update.TranscriptPath != nil && update.Status != StatusCompleted {
		return ErrInvalidTransition
	}
	if update.Status == StatusCompleted && (update.TranscriptPath == nil || *update.TranscriptPath == "") {
		return ErrInvalidTransition
	}
	return nil
}

// apply mutates job with update; the caller has validated the transition.
func apply(job *Job, update StatusUpdate, now time.Time) {
	job.Status = update.Status
	job.UpdatedAt = now
	if update.Status == StatusCompleted && update.TranscriptPath != nil {
		p := *update.TranscriptPath
		job.TranscriptPath = &p
	}
	if update.Status == StatusFailed && update.FailureReason != "" {
		r := update.FailureReason
		job.FailureReason = &r
	}
}
