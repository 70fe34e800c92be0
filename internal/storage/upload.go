package storage

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Uploader streams uploads to disk. Data lands in "<path>.part" first and is
// renamed into place only after a successful fsync, so a stored path always
// refers to a complete file.
type Uploader struct {
	// BufferSize is the copy buffer; 0 uses io.Copy's default.
	BufferSize int
}

func NewUploader() *Uploader {
	return &Uploader{BufferSize: 256 * 1024}
}

// Save writes r to path and returns the number of bytes written. On any
// error nothing is left at path or at the partial path.
func (u *Uploader) Save(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("ensure upload dir: %w", err)
	}
	part := path + ".part"
	dst, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	fail := func(err error) (int64, error) {
		_ = dst.Close()
		_ = os.Remove(part)
		return 0, err
	}

	var n int64
	if u.BufferSize > 0 {
		n, err = io.CopyBuffer(dst, r, make([]byte, u.BufferSize))
	} else {
		n, err = io.Copy(dst, r)
	}
	if err != nil {
		return fail(fmt.Errorf("copy upload: %w", err))
	}
	if err := dst.Sync(); err != nil {
		return fail(fmt.Errorf("sync upload: %w", err))
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("rename upload: %w", err)
	}
	return n, nil
}

var reSafeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// mediaExtensions covers the common audio/video types; the host mime table is
// consulted for anything else.
var mediaExtensions = map[string]string{
	"audio/wav":        ".wav",
	"audio/x-wav":      ".wav",
	"audio/wave":       ".wav",
	"audio/mpeg":       ".mp3",
	"audio/mp4":        ".m4a",
	"audio/x-m4a":      ".m4a",
	"audio/aac":        ".aac",
	"audio/ogg":        ".ogg",
	"audio/flac":       ".flac",
	"audio/x-flac":     ".flac",
	"audio/webm":       ".webm",
	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
	"video/webm":       ".webm",
	"video/x-msvideo":  ".avi",
	"video/mpeg":       ".mpeg",
}

// PickExtension chooses the stored file extension: the client's extension
// when it looks sane, otherwise one registered for mediaType, otherwise ".bin".
func PickExtension(mediaType, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if reSafeExt.MatchString(ext) {
		return ext
	}
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if ext, ok := mediaExtensions[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// TypeByExtension maps a file extension to an audio/video media type, or ""
// when unknown.
func TypeByExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "" {
		return ""
	}
	for _, mt := range []string{"audio/wav", "audio/mpeg", "audio/mp4", "audio/aac", "audio/ogg", "audio/flac",
		"video/mp4", "video/quicktime", "video/x-matroska", "video/webm", "video/x-msvideo", "video/mpeg"} {
		if mediaExtensions[mt] == ext {
			return mt
		}
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		base, _, _ := strings.Cut(mt, ";")
		return strings.TrimSpace(base)
	}
	return ""
}
