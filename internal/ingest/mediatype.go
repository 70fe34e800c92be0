package ingest

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/storage"
)

// sniffLen matches mimetype's default read limit.
const sniffLen = 3072

func family(kind jobs.Kind) string {
	if kind == jobs.KindVideo {
		return common.MimeFamilyVideo
	}
	return common.MimeFamilyAudio
}

// isGeneric reports whether mt says nothing about the actual content.
func isGeneric(mt string) bool {
	switch mt {
	case "", common.ContentTypeOctet, common.ContentTypeBinary:
		return true
	}
	return false
}

func baseType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(raw); err == nil {
		return strings.ToLower(mt)
	}
	base, _, _ := strings.Cut(raw, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// resolveMediaType picks the media type of an upload: the declared type,
// else the filename extension, else a sniff of the first bytes. It returns
// a reader that still yields the complete body.
func resolveMediaType(kind jobs.Kind, declared, filename string, body io.Reader) (string, io.Reader, error) {
	want := family(kind)
	mt := baseType(declared)

	if isGeneric(mt) {
		mt = storage.TypeByExtension(filepath.Ext(filename))
	}
	if mt == "" {
		br := bufio.NewReaderSize(body, sniffLen)
		head, err := br.Peek(sniffLen)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return "", nil, fmt.Errorf("read upload head: %w", err)
		}
		mt = baseType(mimetype.Detect(head).String())
		body = br
	}

	if !strings.HasPrefix(mt, want) {
		if mt == "" {
			mt = "unknown"
		}
		return "", nil, fmt.Errorf("%w: %s is not %s*", ErrInvalidMediaType, mt, want)
	}
	return mt, body, nil
}
