package processor

import "errors"

// Pipeline failure classes. Each ends up as the failure_reason of a failed
// job; none of them escapes the background path.
var (
	ErrEngineUnavailable = errors.New("transcription engine unavailable")
	ErrMissingSourceFile = errors.New("source media file missing")
	ErrTranscription     = errors.New("transcription failed")
	ErrUnknownKind       = errors.New("unknown job kind")
	ErrPanic             = errors.New("pipeline panic")
)
