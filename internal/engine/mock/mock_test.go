package mock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/engine"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(p, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMockEngine_Transcribe(t *testing.T) {
	e := New(config.MockSettings{Text: "hello there"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := e.Transcribe(ctx, writeAudio(t), engine.Options{Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if res.Text != "hello there" || res.Language != "de" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "hello there" {
		t.Fatalf("unexpected segments: %+v", res.Segments)
	}
}

func TestMockEngine_DefaultsLanguage(t *testing.T) {
	res, err := New(config.MockSettings{}).Transcribe(context.Background(), writeAudio(t), engine.Options{Language: "auto"})
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if res.Language != "en" || res.Text != defaultText {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestMockEngine_MissingFile(t *testing.T) {
	_, err := New(config.MockSettings{}).Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"), engine.Options{})
	if err == nil {
		t.Fatalf("expected error for missing audio")
	}
}

func TestMockEngine_RespectsContextCancel(t *testing.T) {
	e := New(config.MockSettings{Delay: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Transcribe(ctx, writeAudio(t), engine.Options{}); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
