package mock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/engine"
)

const defaultText = "This is a mock transcript."

// Engine returns a canned transcript after an optional delay. Useful for
// local runs and tests without a speech model.
type Engine struct {
	delay time.Duration
	text  string
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg config.MockSettings) *Engine {
	text := cfg.Text
	if text == "" {
		text = defaultText
	}
	return &Engine{delay: cfg.Delay, text: text}
}

func (e *Engine) Transcribe(ctx context.Context, audioPath string, opts engine.Options) (engine.Result, error) {
	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	if _, err := os.Stat(audioPath); err != nil {
		return engine.Result{}, fmt.Errorf("open audio: %w", err)
	}

	lang := engine.NormalizeLanguage(opts.Language)
	if lang == "" {
		lang = "en"
	}
	return engine.Result{
		Text:     e.text,
		Language: lang,
		Segments: []engine.Segment{{Start: 0, End: 1, Text: e.text}},
	}, nil
}
