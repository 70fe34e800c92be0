// Package provider builds the configured transcription engine.
package provider

import (
	"fmt"
	"strings"

	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/engine"
	"github.com/jo-hoe/mediascribe/internal/engine/mock"
	"github.com/jo-hoe/mediascribe/internal/engine/openai"
	"github.com/jo-hoe/mediascribe/internal/engine/whispercpp"
)

// New constructs the engine named by cfg.Engine.Provider. Callers treat an
// error as "engine unavailable" rather than a fatal startup failure.
func New(cfg *config.Config) (engine.Engine, error) {
	switch strings.ToLower(cfg.Engine.Provider) {
	case "mock", "":
		return mock.New(cfg.Engine.Mock), nil
	case "whispercpp":
		e, err := whispercpp.New(cfg.Engine.Whisper, cfg.Extractor)
		if err != nil {
			return nil, fmt.Errorf("init whispercpp engine: %w", err)
		}
		return e, nil
	case "openai":
		c, err := openai.New(cfg.Engine.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("init openai engine: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported engine provider %q", cfg.Engine.Provider)
	}
}
