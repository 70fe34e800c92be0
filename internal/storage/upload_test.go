package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestUploader_SaveWritesFile(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "audio", "id.wav")
	n, err := NewUploader().Save(dst, bytes.NewReader([]byte("RIFFdata")))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n != 8 {
		t.Fatalf("n = %d, want 8", n)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("saved file not found: %v", err)
	}
	if string(got) != "RIFFdata" {
		t.Fatalf("content = %q", got)
	}
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Fatalf("partial file should be gone, stat err = %v", err)
	}
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("connection reset")
	}
	n := min(len(p), r.after)
	for i := range n {
		p[i] = 'x'
	}
	r.after -= n
	return n, nil
}

func TestUploader_FailedCopyLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "id.mp4")
	_, err := NewUploader().Save(dst, &failingReader{after: 1024})
	if err == nil {
		t.Fatalf("expected copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir after failure, found %d entries", len(entries))
	}
}

func TestUploader_RefusesExistingPartial(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "id.wav")
	if err := os.WriteFile(dst+".part", []byte("other writer"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewUploader().Save(dst, io.LimitReader(bytes.NewReader(nil), 0)); err == nil {
		t.Fatalf("expected error when partial file exists")
	}
}

func TestPickExtension(t *testing.T) {
	cases := []struct {
		mediaType, name, want string
	}{
		{"audio/wav", "talk.WAV", ".wav"},
		{"video/mp4", "clip.mp4", ".mp4"},
		{"audio/mpeg", "noext", ".mp3"},
		{"application/x-unknown-thing", "noext", ".bin"},
		{"audio/wav", "weird.ext with space", ".wav"},
	}
	for _, c := range cases {
		if got := PickExtension(c.mediaType, c.name); got != c.want {
			t.Errorf("PickExtension(%q, %q) = %q, want %q", c.mediaType, c.name, got, c.want)
		}
	}
}

func TestTypeByExtension(t *testing.T) {
	cases := map[string]string{
		".wav":  "audio/wav",
		".MP3":  "audio/mpeg",
		".m4a":  "audio/mp4",
		".mp4":  "video/mp4",
		".mkv":  "video/x-matroska",
		".webm": "video/webm",
		"":      "",
	}
	for ext, want := range cases {
		if got := TypeByExtension(ext); got != want {
			t.Errorf("TypeByExtension(%q) = %q, want %q", ext, got, want)
		}
	}
}

func TestLayout_Paths(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	if err := l.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	for _, dir := range []string{"audio", "video", filepath.Join("audio", "temp"), "transcripts"} {
		if fi, err := os.Stat(filepath.Join(root, dir)); err != nil || !fi.IsDir() {
			t.Fatalf("missing dir %s: %v", dir, err)
		}
	}
	if got, want := l.AudioPath("j", ".wav"), filepath.Join(root, "audio", "j.wav"); got != want {
		t.Fatalf("AudioPath = %s, want %s", got, want)
	}
	if got, want := l.VideoPath("j", ".mp4"), filepath.Join(root, "video", "j.mp4"); got != want {
		t.Fatalf("VideoPath = %s, want %s", got, want)
	}
	if got, want := l.TempAudioPath("j", ".wav"), filepath.Join(root, "audio", "temp", "j.wav"); got != want {
		t.Fatalf("TempAudioPath = %s, want %s", got, want)
	}
	if got, want := l.TranscriptPath("j"), filepath.Join(root, "transcripts", "j.json"); got != want {
		t.Fatalf("TranscriptPath = %s, want %s", got, want)
	}
}
