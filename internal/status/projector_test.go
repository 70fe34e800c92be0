package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/storage"
)

func newProjector(t *testing.T) (*Projector, *jobs.SQLiteStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := jobs.NewSQLiteStore(filepath.Join(root, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewProjector(slog.New(slog.NewTextHandler(io.Discard, nil)), store), store, root
}

func addJob(t *testing.T, store jobs.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateJob(context.Background(), &jobs.Job{ID: id, Kind: jobs.KindAudio, SourcePath: "/a.wav", ContentType: "audio/wav"}))
}

func complete(t *testing.T, store jobs.Store, root, id string) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(root, "transcripts", id+".json")
	require.NoError(t, storage.WriteTranscript(path, &storage.Transcript{
		JobID: id,
		Text:  "hello world",
		Segments: []storage.Segment{
			{Index: 0, StartTime: 0, EndTime: 1, Text: "hello"},
			{Index: 1, StartTime: 1, EndTime: 2, Text: "world"},
		},
	}))
	require.NoError(t, store.UpdateStatus(ctx, id, jobs.StatusUpdate{Status: jobs.StatusProcessing}))
	require.NoError(t, store.UpdateStatus(ctx, id, jobs.StatusUpdate{Status: jobs.StatusCompleted, TranscriptPath: &path}))
	return path
}

func TestGetStatus_NotFound(t *testing.T) {
	p, _, _ := newProjector(t)
	_, err := p.GetStatus(context.Background(), "missing")
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestGetStatus_NonTerminalAndFailedMessages(t *testing.T) {
	p, store, _ := newProjector(t)
	ctx := context.Background()
	addJob(t, store, "j")

	v, err := p.GetStatus(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, View{JobID: "j", Status: jobs.StatusUploaded, Message: MessageUploaded}, v)

	require.NoError(t, store.UpdateStatus(ctx, "j", jobs.StatusUpdate{Status: jobs.StatusProcessing}))
	v, err = p.GetStatus(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, MessageProcessing, v.Message)
	require.Nil(t, v.Text)

	require.NoError(t, store.UpdateStatus(ctx, "j", jobs.StatusUpdate{Status: jobs.StatusFailed, FailureReason: "boom"}))
	v, err = p.GetStatus(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, v.Status)
	require.Equal(t, MessageFailed, v.Message)
	require.Nil(t, v.Text)
	require.Empty(t, v.Segments)
}

func TestGetStatus_CompletedEmbedsTranscript(t *testing.T) {
	p, store, root := newProjector(t)
	addJob(t, store, "c")
	complete(t, store, root, "c")

	v, err := p.GetStatus(context.Background(), "c")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, v.Status)
	require.Equal(t, MessageCompleted, v.Message)
	require.NotNil(t, v.Text)
	require.Equal(t, "hello world", *v.Text)
	require.Equal(t, []Segment{
		{Index: 0, StartTime: 0, EndTime: 1, Text: "hello"},
		{Index: 1, StartTime: 1, EndTime: 2, Text: "world"},
	}, v.Segments)
}

func TestGetStatus_DeletedArtifactDegrades(t *testing.T) {
	p, store, root := newProjector(t)
	addJob(t, store, "d")
	path := complete(t, store, root, "d")
	require.NoError(t, os.Remove(path))

	v, err := p.GetStatus(context.Background(), "d")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, v.Status)
	require.Equal(t, MessageUnavailable, v.Message)
	require.Nil(t, v.Text)
	require.Empty(t, v.Segments)
}

func TestGetStatus_CorruptArtifactDegrades(t *testing.T) {
	p, store, root := newProjector(t)
	addJob(t, store, "e")
	path := complete(t, store, root, "e")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	v, err := p.GetStatus(context.Background(), "e")
	require.NoError(t, err)
	require.Equal(t, MessageUnavailable, v.Message)
	require.Nil(t, v.Text)
}

func TestGetStatus_Idempotent(t *testing.T) {
	p, store, root := newProjector(t)
	addJob(t, store, "i")
	complete(t, store, root, "i")

	first, err := p.GetStatus(context.Background(), "i")
	require.NoError(t, err)
	second, err := p.GetStatus(context.Background(), "i")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestGetStatus_EmptyTranscriptKeepsSegmentsKey(t *testing.T) {
	p, store, root := newProjector(t)
	ctx := context.Background()
	addJob(t, store, "silent")
	path := filepath.Join(root, "transcripts", "silent.json")
	require.NoError(t, storage.WriteTranscript(path, &storage.Transcript{JobID: "silent"}))
	require.NoError(t, store.UpdateStatus(ctx, "silent", jobs.StatusUpdate{Status: jobs.StatusProcessing}))
	require.NoError(t, store.UpdateStatus(ctx, "silent", jobs.StatusUpdate{Status: jobs.StatusCompleted, TranscriptPath: &path}))

	v, err := p.GetStatus(ctx, "silent")
	require.NoError(t, err)
	require.Equal(t, MessageCompleted, v.Message)
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	require.Equal(t, "", body["text"])
	require.Equal(t, []any{}, body["segments"])

	// the degraded view carries neither key
	require.NoError(t, os.Remove(path))
	v, err = p.GetStatus(ctx, "silent")
	require.NoError(t, err)
	data, err = json.Marshal(v)
	require.NoError(t, err)
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(data, &body))
	require.NotContains(t, body, "text")
	require.NotContains(t, body, "segments")
}
