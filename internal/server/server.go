package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/ingest"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/status"
	"github.com/jo-hoe/mediascribe/internal/util"
)

var errMissingFile = errors.New("multipart field \"file\" is required")

// Ingester accepts one upload and schedules its pipeline.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (ingest.Receipt, error)
}

// StatusReader projects a job record into its status view.
type StatusReader interface {
	GetStatus(ctx context.Context, id string) (status.View, error)
}

type Service struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Ingestor Ingester
	Status   StatusReader
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathRoot+"{$}", svc.handleRoot)
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc(http.MethodPost+" "+common.PathUploadAudio, svc.withCommon(svc.handleUpload(jobs.KindAudio)))
	mux.HandleFunc(http.MethodPost+" "+common.PathUploadVideo, svc.withCommon(svc.handleUpload(jobs.KindVideo)))
	mux.HandleFunc(http.MethodGet+" "+common.PathStatus+"/{job_id}", svc.withCommon(svc.handleStatus))

	return &http.Server{
		Addr:              svc.Cfg.Server.Addr,
		Handler:           loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       svc.Cfg.Server.ReadTimeout,
		WriteTimeout:      svc.Cfg.Server.WriteTimeout,
		IdleTimeout:       svc.Cfg.Server.IdleTimeout,
	}
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeDetail(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		// Enforce max body size
		if max := safeInt64(svc.Cfg.Server.MaxUploadSize); max > 0 {
			if r.ContentLength > max {
				writeDetail(w, http.StatusRequestEntityTooLarge, tooLargeDetail(max))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

func (svc *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to " + svc.Cfg.Server.AppName})
}

type uploadResponse struct {
	Status      string `json:"status"`
	JobID       string `json:"job_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func (svc *Service) handleUpload(kind jobs.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "multipart/form-data body required")
			return
		}
		part, err := filePart(mr)
		if err != nil {
			svc.writeError(w, r, err)
			return
		}
		defer func() { _ = part.Close() }()

		receipt, err := svc.Ingestor.Ingest(r.Context(), ingest.Upload{
			Kind:        kind,
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		})
		if err != nil {
			svc.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, uploadResponse{
			Status:      common.StatusSuccess,
			JobID:       receipt.JobID,
			Filename:    receipt.Filename,
			ContentType: receipt.ContentType,
			Size:        receipt.Size,
		})
	}
}

// filePart advances mr to the "file" part, skipping other form fields.
func filePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errMissingFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == common.MultipartFieldFile && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	if !util.IsValidID(id) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Invalid job id %q.", id))
		return
	}
	view, err := svc.Status.GetStatus(r.Context(), id)
	if err != nil {
		svc.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// writeError maps the domain error taxonomy to HTTP status codes.
func (svc *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeDetail(w, http.StatusRequestEntityTooLarge, tooLargeDetail(tooLarge.Limit))
	case errors.Is(err, errMissingFile):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrInvalidMediaType):
		writeDetail(w, http.StatusBadRequest, "Invalid file type. Please upload an "+kindFromPath(r.URL.Path)+" file.")
	case errors.Is(err, jobs.ErrJobNotFound):
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Job with job_id %s not found.", r.PathValue("job_id")))
	case errors.Is(err, ingest.ErrQueueUnavailable):
		svc.Log.Error("upload not scheduled", common.LogKeyErr, err)
		writeDetail(w, http.StatusServiceUnavailable, "Processing queue is unavailable, try again later.")
	case errors.Is(err, ingest.ErrStorageWrite):
		svc.Log.Error("upload not stored", common.LogKeyErr, err)
		writeDetail(w, http.StatusInternalServerError, "There was an error uploading the file.")
	case errors.Is(err, multipart.ErrMessageTooLarge):
		writeDetail(w, http.StatusRequestEntityTooLarge, err.Error())
	case isMultipartError(err):
		writeDetail(w, http.StatusBadRequest, "malformed multipart body")
	default:
		svc.Log.Error("request failed", "path", r.URL.Path, common.LogKeyErr, err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

// isMultipartError reports errors raised while parsing part headers.
func isMultipartError(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || strings.HasPrefix(err.Error(), "multipart:")
}

func kindFromPath(p string) string {
	if strings.HasSuffix(p, "/"+string(jobs.KindVideo)) {
		return string(jobs.KindVideo)
	}
	return string(jobs.KindAudio)
}

func tooLargeDetail(limit int64) string {
	return fmt.Sprintf("Upload exceeds the limit of %d bytes.", limit)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if code != 0 {
		w.WriteHeader(code)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			common.LogKeyPath, r.URL.Path,
			common.LogKeyStatus, ww.code,
			common.LogKeyDuration, time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("handler panic", common.LogKeyPath, r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				writeDetail(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
