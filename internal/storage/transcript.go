package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrArtifactWrite = errors.New("transcript artifact write failed")
	ErrArtifactRead  = errors.New("transcript artifact read failed")
)

// Segment is one timed span of a transcript; times are in seconds.
type Segment struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// Transcript is the JSON artifact stored for a completed job.
type Transcript struct {
	JobID     string    `json:"job_id"`
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteTranscript stores t at path atomically: a temp file in the same
// directory is written, synced and then renamed over path.
func WriteTranscript(path string, t *Transcript) error {
	if t == nil {
		return fmt.Errorf("%w: nil transcript", ErrArtifactWrite)
	}
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrArtifactWrite, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: ensure dir: %v", ErrArtifactWrite, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrArtifactWrite, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("%w: write: %v", ErrArtifactWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: sync: %v", ErrArtifactWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close: %v", ErrArtifactWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrArtifactWrite, err)
	}
	return nil
}

// LoadTranscript reads and decodes the artifact at path. Missing, unreadable
// or malformed files all yield ErrArtifactRead.
func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactRead, err)
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrArtifactRead, filepath.Base(path), err)
	}
	if t.JobID == "" {
		return nil, fmt.Errorf("%w: %s has no job_id", ErrArtifactRead, filepath.Base(path))
	}
	return &t, nil
}
