package status

import (
	"context"
	"log/slog"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/storage"
)

const (
	MessageUploaded    = "File is uploaded and waiting to be processed."
	MessageProcessing  = "File is currently being processed."
	MessageFailed      = "Processing failed. Please check server logs for details."
	MessageCompleted   = "Processing completed successfully."
	MessageUnavailable = "Processing completed, but the transcript result is currently unavailable."
)

// Segment is one timed span in a status response.
type Segment struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// View is the read model returned for a job.
type View struct {
	JobID    string      `json:"job_id"`
	Status   jobs.Status `json:"status"`
	Message  string      `json:"message"`
	Text     *string     `json:"text,omitempty"`
	Segments []Segment   `json:"segments,omitzero"` // [] on success, absent when unavailable
}

// Projector is read-only: it never writes to the store or the artifact.
type Projector struct {
	Log   *slog.Logger
	Store jobs.Store
}

func NewProjector(log *slog.Logger, store jobs.Store) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{Log: log, Store: store}
}

// GetStatus returns jobs.ErrJobNotFound for unknown ids. An unloadable
// artifact degrades a completed view instead of failing the call.
func (p *Projector) GetStatus(ctx context.Context, id string) (View, error) {
	job, err := p.Store.GetJob(ctx, id)
	if err != nil {
		return View{}, err
	}
	v := View{JobID: job.ID, Status: job.Status}

	switch job.Status {
	case jobs.StatusUploaded:
		v.Message = MessageUploaded
	case jobs.StatusProcessing:
		v.Message = MessageProcessing
	case jobs.StatusFailed:
		v.Message = MessageFailed
	case jobs.StatusCompleted:
		p.completed(job, &v)
	default:
		p.Log.Warn("job has unknown status", common.LogKeyJobID, job.ID, common.LogKeyStatus, job.Status)
		v.Message = MessageProcessing
	}
	return v, nil
}

func (p *Projector) completed(job *jobs.Job, v *View) {
	if job.TranscriptPath == nil || *job.TranscriptPath == "" {
		p.Log.Error("completed job without transcript path", common.LogKeyJobID, job.ID)
		v.Message = MessageUnavailable
		return
	}
	tr, err := storage.LoadTranscript(*job.TranscriptPath)
	if err != nil {
		p.Log.Error("transcript unavailable", common.LogKeyJobID, job.ID, common.LogKeyPath, *job.TranscriptPath, common.LogKeyErr, err)
		v.Message = MessageUnavailable
		return
	}

	text := tr.Text
	v.Message = MessageCompleted
	v.Text = &text
	v.Segments = make([]Segment, len(tr.Segments))
	for i, s := range tr.Segments {
		v.Segments[i] = Segment{Index: s.Index, StartTime: s.StartTime, EndTime: s.EndTime, Text: s.Text}
	}
}
