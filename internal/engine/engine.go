package engine

import (
	"context"
	"strings"
)

// Engine converts an audio file into text with timed segments.
// Implementations must honour ctx cancellation.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (Result, error)
}

// Options tune a single transcription.
type Options struct {
	// Language is a BCP-47-ish hint such as "en"; empty means detect.
	Language string
}

// Segment is a timed span of recognised speech; times are in seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Result is what an engine returns for one file.
type Result struct {
	Text     string
	Language string
	Segments []Segment
}

// NormalizeLanguage maps "auto" and empty values to "" (engine detects).
func NormalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// JoinSegments builds the full text from segments when an engine only
// returns timed spans.
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
