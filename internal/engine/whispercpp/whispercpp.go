package whispercpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/engine"
	"github.com/jo-hoe/mediascribe/internal/media"
)

// Converter turns arbitrary input audio into the WAV format whisper.cpp reads.
type Converter interface {
	ToWAV(ctx context.Context, inputPath, outputPath string) error
}

// Engine runs the whisper.cpp CLI once per file and parses its JSON output.
type Engine struct {
	binary    string
	model     string
	threads   int
	converter Converter // nil skips normalisation
	runner    media.Runner
	mkdirTemp func(dir, pattern string) (string, error)
}

var _ engine.Engine = (*Engine)(nil)

// New checks that the binary and model exist before returning an engine.
func New(cfg config.WhisperSettings, extractor config.ExtractorConfig) (*Engine, error) {
	binary := cfg.BinaryPath
	if binary == "" {
		binary = common.WhisperExecutable
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp binary %q: %w", binary, err)
	}
	model, err := resolveModelPath(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	var conv Converter
	if cfg.Normalize {
		conv = media.NewFFmpeg(extractor)
	}
	return NewWithRunner(resolved, model, cfg.Threads, conv, media.ExecRunner{}), nil
}

// NewWithRunner builds an engine without probing the filesystem.
func NewWithRunner(binary, model string, threads int, conv Converter, runner media.Runner) *Engine {
	return &Engine{
		binary:    binary,
		model:     model,
		threads:   threads,
		converter: conv,
		runner:    runner,
		mkdirTemp: os.MkdirTemp,
	}
}

func (e *Engine) Transcribe(ctx context.Context, audioPath string, opts engine.Options) (engine.Result, error) {
	workDir, err := e.mkdirTemp("", "mediascribe-whisper-*")
	if err != nil {
		return engine.Result{}, fmt.Errorf("create workspace: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	input := audioPath
	if e.converter != nil {
		input = filepath.Join(workDir, "input-16k-mono.wav")
		if err := e.converter.ToWAV(ctx, audioPath, input); err != nil {
			return engine.Result{}, fmt.Errorf("normalize audio: %w", err)
		}
	}

	outBase := filepath.Join(workDir, "transcript")
	args := buildArgs(e.model, input, outBase, opts.Language, e.threads)
	log, err := e.runner.Run(ctx, e.binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return engine.Result{}, ctxErr
		}
		return engine.Result{}, fmt.Errorf("whisper.cpp failed (exit=%d): %w: %s", log.ExitCode, err, lastLine(log.Stderr))
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return engine.Result{}, fmt.Errorf("whisper.cpp completed but JSON output is missing: %w", err)
	}
	return parseOutput(data)
}

func buildArgs(model, audio, outBase, language string, threads int) []string {
	args := []string{
		"-m", model,
		"-f", audio,
		"-of", outBase,
		"-oj",
		"-np",
	}
	if lang := engine.NormalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

// whisperOutput is the subset of whisper.cpp's -oj document we read.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseOutput(data []byte) (engine.Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return engine.Result{}, fmt.Errorf("parse whisper.cpp output: %w", err)
	}
	segs := make([]engine.Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		segs = append(segs, engine.Segment{
			Start: float64(t.Offsets.From) / 1000,
			End:   float64(t.Offsets.To) / 1000,
			Text:  text,
		})
	}
	return engine.Result{
		Text:     engine.JoinSegments(segs),
		Language: out.Result.Language,
		Segments: segs,
	}, nil
}

// resolveModelPath accepts a model file or a directory holding .bin/.gguf
// models, in which case the first by name is used.
func resolveModelPath(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", errors.New("whisper model path is required")
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("cannot access model path %s: %w", p, err)
	}
	if !info.IsDir() {
		return p, nil
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory %s: %w", p, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".bin", ".gguf":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in %s", p)
	}
	sort.Strings(names)
	return filepath.Join(p, names[0]), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
