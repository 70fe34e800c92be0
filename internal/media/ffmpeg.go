package media

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/config"
)

// Extractor pulls the audio track out of a video file.
type Extractor interface {
	ExtractAudio(ctx context.Context, videoPath, outputPath string) error
}

// FFmpeg implements Extractor with the ffmpeg CLI.
type FFmpeg struct {
	path       string
	codec      string
	sampleRate int
	channels   int
	runner     Runner
	stat       func(name string) (os.FileInfo, error)
}

var _ Extractor = (*FFmpeg)(nil)

func NewFFmpeg(cfg config.ExtractorConfig) *FFmpeg {
	return NewFFmpegWithRunner(cfg, ExecRunner{})
}

// NewFFmpegWithRunner builds an FFmpeg that executes through runner.
func NewFFmpegWithRunner(cfg config.ExtractorConfig, runner Runner) *FFmpeg {
	f := &FFmpeg{
		path:       cfg.FFmpegPath,
		codec:      cfg.AudioCodec,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		runner:     runner,
		stat:       os.Stat,
	}
	if f.path == "" {
		f.path = common.FFmpegExecutable
	}
	if f.codec == "" {
		f.codec = "pcm_s16le"
	}
	return f
}

// ExtractAudio writes the first audio stream of videoPath to outputPath.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, outputPath string) error {
	return f.convert(ctx, videoPath, outputPath, f.codec, f.sampleRate, f.channels)
}

// ToWAV converts any audio or video input into 16 kHz mono PCM WAV, the
// input format whisper.cpp expects.
func (f *FFmpeg) ToWAV(ctx context.Context, inputPath, outputPath string) error {
	return f.convert(ctx, inputPath, outputPath, "pcm_s16le", 16000, 1)
}

func (f *FFmpeg) convert(ctx context.Context, in, out, codec string, rate, channels int) error {
	if _, err := f.stat(in); err != nil {
		return &ExtractionError{Message: "cannot access input media: " + in, Err: err}
	}
	args := buildArgs(in, out, codec, rate, channels)
	log, err := f.runner.Run(ctx, f.path, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		_ = os.Remove(out)
		return &ExtractionError{Message: "ffmpeg audio extraction failed", CommandLog: log, Err: err}
	}
	if fi, err := f.stat(out); err != nil || fi.Size() == 0 {
		if err == nil {
			err = errors.New("empty output")
		}
		_ = os.Remove(out)
		return &ExtractionError{Message: "ffmpeg completed but output file is missing", CommandLog: log, Err: err}
	}
	return nil
}

func buildArgs(in, out, codec string, rate, channels int) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", in,
		"-vn",
	}
	if channels > 0 {
		args = append(args, "-ac", strconv.Itoa(channels))
	}
	if rate > 0 {
		args = append(args, "-ar", strconv.Itoa(rate))
	}
	return append(args, "-c:a", codec, out)
}
