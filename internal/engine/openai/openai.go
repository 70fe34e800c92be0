package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/engine"
)

var _ engine.Engine = (*Client)(nil)

var ErrEmptyModel = errors.New("engine.openai.model is required")

const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	authSchemeBearer    = "Bearer"

	endpointTranscriptions = "v1/audio/transcriptions"

	defaultTimeout    = 10 * time.Minute
	errorSnippetLimit = 400
)

// Client implements engine.Engine against an OpenAI-compatible
// /v1/audio/transcriptions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func New(cfg config.OpenAISettings) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("engine.openai.baseUrl %q is invalid", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrEmptyModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}, nil
}

// Transcribe streams the audio file as multipart form data and asks for the
// verbose JSON response so segments come back with timestamps.
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts engine.Options) (engine.Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return engine.Result{}, fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	u, err := url.JoinPath(c.baseURL, endpointTranscriptions)
	if err != nil {
		return engine.Result{}, fmt.Errorf("join url: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(mw, f, filepath.Base(audioPath), opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		_ = pr.Close()
		return engine.Result{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, mw.FormDataContentType())
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Result{}, ctx.Err()
		}
		return engine.Result{}, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return engine.Result{}, fmt.Errorf("transcription api status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var vr verboseResponse
	if err := json.Unmarshal(respBytes, &vr); err != nil {
		return engine.Result{}, fmt.Errorf("parse response: %w", err)
	}
	return vr.result(), nil
}

func (c *Client) writeForm(mw *multipart.Writer, audio io.Reader, filename string, opts engine.Options) error {
	fields := [][2]string{
		{"model", c.model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	if lang := engine.NormalizeLanguage(opts.Language); lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("stream audio: %w", err)
	}
	return mw.Close()
}

type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func (vr verboseResponse) result() engine.Result {
	segs := make([]engine.Segment, 0, len(vr.Segments))
	for _, s := range vr.Segments {
		segs = append(segs, engine.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	text := strings.TrimSpace(vr.Text)
	if text == "" {
		text = engine.JoinSegments(segs)
	}
	return engine.Result{Text: text, Language: vr.Language, Segments: segs}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
