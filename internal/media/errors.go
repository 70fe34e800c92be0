package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExtraction matches every *ExtractionError via errors.Is.
var ErrExtraction = errors.New("audio extraction failed")

const stderrTailLimit = 400

// ExtractionError reports a failed ffmpeg run together with the command
// diagnostics.
type ExtractionError struct {
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("extraction: %s", e.Message)
	}
	msg := fmt.Sprintf("extraction: %s (cmd=%s exit=%d)", e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
	if tail := stderrTail(e.CommandLog.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// stderrTail keeps the last meaningful part of a tool's stderr, which is
// where ffmpeg prints the actual failure.
func stderrTail(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) <= stderrTailLimit {
		return s
	}
	s = s[len(s)-stderrTailLimit:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return "..." + s
}
