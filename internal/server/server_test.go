package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/ingest"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/status"
	"github.com/jo-hoe/mediascribe/internal/storage"
)

const validID = "0b7d4f5e-3c2a-4e8f-9a61-2f4c1d8e7b90"

type fakeIngester struct {
	got  ingest.Upload
	body []byte
	err  error
}

func (f *fakeIngester) Ingest(_ context.Context, up ingest.Upload) (ingest.Receipt, error) {
	f.got = up
	data, err := io.ReadAll(up.Body)
	if err != nil {
		return ingest.Receipt{}, fmt.Errorf("%w: %w", ingest.ErrStorageWrite, err)
	}
	f.body = data
	if f.err != nil {
		return ingest.Receipt{JobID: validID}, f.err
	}
	return ingest.Receipt{JobID: validID, Filename: up.Filename, ContentType: up.ContentType, Size: int64(len(data))}, nil
}

type fakeStatus struct {
	views map[string]status.View
}

func (f *fakeStatus) GetStatus(_ context.Context, id string) (status.View, error) {
	v, ok := f.views[id]
	if !ok {
		return status.View{}, jobs.ErrJobNotFound
	}
	return v, nil
}

func testConfig() *config.Config {
	return &config.Config{Server: config.ServerConfig{
		Addr:          ":0",
		AppName:       "mediascribe",
		MaxUploadSize: config.ByteSize(1024 * 1024),
	}}
}

func newTestServer(cfg *config.Config, in Ingester, st StatusReader) *http.Server {
	return NewHTTPServer(&Service{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cfg:      cfg,
		Ingestor: in,
		Status:   st,
	})
}

func makeMultipart(t *testing.T, fieldName, filename, contentType string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	if err := w.WriteField("note", "ignored"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	fw, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return w.FormDataContentType(), &b
}

func do(srv *http.Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestHealthzAndRoot(t *testing.T) {
	srv := newTestServer(testConfig(), &fakeIngester{}, &fakeStatus{})

	rec := do(srv, httptest.NewRequest(http.MethodGet, common.PathHealthz, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("root status %d", rec.Code)
	}
	if body := decode(t, rec); body["message"] != "Welcome to mediascribe" {
		t.Fatalf("unexpected body: %v", body)
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status %d", rec.Code)
	}
}

func TestUploadAudio_Accepted(t *testing.T) {
	in := &fakeIngester{}
	srv := newTestServer(testConfig(), in, &fakeStatus{})

	ctype, body := makeMultipart(t, "file", "talk.mp3", "audio/mpeg", []byte("ID3 audio"))
	req := httptest.NewRequest(http.MethodPost, common.PathUploadAudio, body)
	req.Header.Set("Content-Type", ctype)
	rec := do(srv, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	if resp["status"] != common.StatusSuccess || resp["job_id"] != validID || resp["filename"] != "talk.mp3" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if resp["content_type"] != "audio/mpeg" || resp["size"] != float64(len("ID3 audio")) {
		t.Fatalf("receipt details missing: %v", resp)
	}
	if in.got.Kind != jobs.KindAudio || in.got.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected upload: %+v", in.got)
	}
	if string(in.body) != "ID3 audio" {
		t.Fatalf("body not streamed: %q", in.body)
	}
}

func TestUploadVideo_RoutesVideoKind(t *testing.T) {
	in := &fakeIngester{}
	srv := newTestServer(testConfig(), in, &fakeStatus{})

	ctype, body := makeMultipart(t, "file", "clip.mp4", "video/mp4", []byte("video"))
	req := httptest.NewRequest(http.MethodPost, common.PathUploadVideo, body)
	req.Header.Set("Content-Type", ctype)
	rec := do(srv, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if in.got.Kind != jobs.KindVideo {
		t.Fatalf("kind = %q", in.got.Kind)
	}
}

func TestUpload_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid type", fmt.Errorf("%w: text/plain", ingest.ErrInvalidMediaType), http.StatusBadRequest},
		{"storage", fmt.Errorf("%w: disk full", ingest.ErrStorageWrite), http.StatusInternalServerError},
		{"queue", fmt.Errorf("%w: %w", ingest.ErrQueueUnavailable, jobs.ErrQueueFull), http.StatusServiceUnavailable},
		{"too large", fmt.Errorf("%w: %w", ingest.ErrStorageWrite, &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(testConfig(), &fakeIngester{err: tc.err}, &fakeStatus{})
			ctype, body := makeMultipart(t, "file", "a.wav", "audio/wav", []byte("x"))
			req := httptest.NewRequest(http.MethodPost, common.PathUploadAudio, body)
			req.Header.Set("Content-Type", ctype)
			rec := do(srv, req)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
			if d, _ := decode(t, rec)["detail"].(string); d == "" {
				t.Fatalf("missing detail: %s", rec.Body.String())
			}
		})
	}
}

func TestUpload_MissingFilePart(t *testing.T) {
	in := &fakeIngester{}
	srv := newTestServer(testConfig(), in, &fakeStatus{})

	ctype, body := makeMultipart(t, "attachment", "a.wav", "audio/wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, common.PathUploadAudio, body)
	req.Header.Set("Content-Type", ctype)
	rec := do(srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if in.got.Body != nil {
		t.Fatalf("ingest must not be called")
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	srv := newTestServer(testConfig(), &fakeIngester{}, &fakeStatus{})
	req := httptest.NewRequest(http.MethodPost, common.PathUploadAudio, strings.NewReader("raw"))
	req.Header.Set("Content-Type", "audio/wav")
	if rec := do(srv, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpload_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxUploadSize = 64
	srv := newTestServer(cfg, &fakeIngester{}, &fakeStatus{})

	ctype, body := makeMultipart(t, "file", "a.wav", "audio/wav", bytes.Repeat([]byte("a"), 4096))
	req := httptest.NewRequest(http.MethodPost, common.PathUploadAudio, body)
	req.Header.Set("Content-Type", ctype)
	if rec := do(srv, req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("declared length: expected 413, got %d", rec.Code)
	}

	// unknown length is cut off while streaming
	ctype, body = makeMultipart(t, "file", "a.wav", "audio/wav", bytes.Repeat([]byte("a"), 4096))
	req = httptest.NewRequest(http.MethodPost, common.PathUploadAudio, io.NopCloser(body))
	req.ContentLength = -1
	req.Header.Set("Content-Type", ctype)
	if rec := do(srv, req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed: expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKey = "secret"
	srv := newTestServer(cfg, &fakeIngester{}, &fakeStatus{views: map[string]status.View{
		validID: {JobID: validID, Status: jobs.StatusUploaded, Message: status.MessageUploaded},
	}})

	req := httptest.NewRequest(http.MethodGet, common.PathStatus+"/"+validID, nil)
	if rec := do(srv, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, common.PathStatus+"/"+validID, nil)
	req.Header.Set(common.HeaderAPIKey, "secret")
	if rec := do(srv, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// health stays public
	if rec := do(srv, httptest.NewRequest(http.MethodGet, common.PathHealthz, nil)); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind key: %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	text := "hello"
	st := &fakeStatus{views: map[string]status.View{
		validID: {
			JobID:    validID,
			Status:   jobs.StatusCompleted,
			Message:  status.MessageCompleted,
			Text:     &text,
			Segments: []status.Segment{{Index: 0, StartTime: 0, EndTime: 1, Text: "hello"}},
		},
	}}
	srv := newTestServer(testConfig(), &fakeIngester{}, st)

	rec := do(srv, httptest.NewRequest(http.MethodGet, common.PathStatus+"/"+validID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "completed" || body["text"] != "hello" {
		t.Fatalf("unexpected body: %v", body)
	}
	if segs, ok := body["segments"].([]any); !ok || len(segs) != 1 {
		t.Fatalf("segments: %v", body["segments"])
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, common.PathStatus+"/1f0e9c1a-8b7d-4c3e-a2f1-0d9e8c7b6a54", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", rec.Code)
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, common.PathStatus+"/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: expected 400, got %d", rec.Code)
	}
}

type panicStatus struct{}

func (panicStatus) GetStatus(context.Context, string) (status.View, error) { panic("boom") }

func TestRecoveryMiddleware(t *testing.T) {
	srv := newTestServer(testConfig(), &fakeIngester{}, panicStatus{})
	rec := do(srv, httptest.NewRequest(http.MethodGet, common.PathStatus+"/"+validID, nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

type chanDispatcher struct {
	items chan jobs.WorkItem
}

func (d chanDispatcher) Enqueue(item jobs.WorkItem) error {
	select {
	case d.items <- item:
		return nil
	default:
		return jobs.ErrQueueFull
	}
}

// Upload through the real ingestor, then read the status back.
func TestUploadThenStatus(t *testing.T) {
	root := t.TempDir()
	store, err := jobs.NewSQLiteStore(filepath.Join(root, "jobs.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer func() { _ = store.Close() }()
	layout := storage.NewLayout(root)
	if err := layout.Ensure(); err != nil {
		t.Fatalf("layout: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	disp := chanDispatcher{items: make(chan jobs.WorkItem, 1)}
	srv := newTestServer(testConfig(),
		ingest.New(log, store, storage.NewUploader(), layout, disp),
		status.NewProjector(log, store))

	ctype, body := makeMultipart(t, "file", "memo.wav", "audio/wav", []byte("RIFF....WAVE"))
	req := httptest.NewRequest(http.MethodPost, common.PathUploadAudio, body)
	req.Header.Set("Content-Type", ctype)
	rec := do(srv, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	uploaded := decode(t, rec)
	id, _ := uploaded["job_id"].(string)
	if uploaded["content_type"] != "audio/wav" || uploaded["size"] != float64(len("RIFF....WAVE")) {
		t.Fatalf("unexpected receipt: %v", uploaded)
	}

	select {
	case item := <-disp.items:
		if item.JobID != id || item.Kind != jobs.KindAudio {
			t.Fatalf("unexpected work item: %+v", item)
		}
		disp.items <- item
	case <-time.After(time.Second):
		t.Fatalf("nothing dispatched")
	}

	rec = do(srv, httptest.NewRequest(http.MethodGet, common.PathStatus+"/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	resp := decode(t, rec)
	if resp["status"] != string(jobs.StatusUploaded) || resp["message"] != status.MessageUploaded {
		t.Fatalf("unexpected status: %v", resp)
	}
	if _, ok := resp["text"]; ok {
		t.Fatalf("text must be omitted before completion")
	}

	// a second upload finds the queue full and is reported as 503
	ctype, body = makeMultipart(t, "file", "memo2.wav", "audio/wav", []byte("RIFF....WAVE"))
	req = httptest.NewRequest(http.MethodPost, common.PathUploadAudio, body)
	req.Header.Set("Content-Type", ctype)
	if rec := do(srv, req); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
