package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxbotics/verba/internal/httpc"
)

const (
	openAITranscribeURL = "https://api.openai.com/v1/audio/transcriptions"
	backendOpenAI       = "openai"
)

// OpenAI transcription models.
const (
	ModelWhisper1            = "whisper-1"
	ModelGPT4oTranscribe     = "gpt-4o-transcribe"
	ModelGPT4oMiniTranscribe = "gpt-4o-mini-transcribe"
)

// OpenAI implements Transcriber against the OpenAI transcription API.
type OpenAI struct {
	apiKey   string
	model    string
	language string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger

	maxRetries int
	retryDelay time.Duration
}

// OpenAIOption configures the OpenAI transcriber.
type OpenAIOption func(*OpenAI)

// WithOpenAIModel overrides the transcription model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAI) { o.model = model }
}

// WithOpenAILanguage sets the expected language code (e.g. "en").
func WithOpenAILanguage(lang string) OpenAIOption {
	return func(o *OpenAI) { o.language = lang }
}

// WithOpenAIBaseURL overrides the API endpoint, for tests.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *OpenAI) { o.baseURL = url }
}

// WithOpenAILogger sets the structured logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(o *OpenAI) { o.logger = logger }
}

// NewOpenAI creates an online transcriber backed by the OpenAI API.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	o := &OpenAI{
		apiKey:     apiKey,
		model:      ModelWhisper1,
		baseURL:    openAITranscribeURL,
		client:     httpc.NewClient(30 * time.Second),
		logger:     slog.Default().With("component", "stt.openai"),
		maxRetries: 2,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Transcribe uploads the segment as a WAV file and returns the text.
func (o *OpenAI) Transcribe(ctx context.Context, samples []int16, sampleRate int) (*Transcript, error) {
	if len(samples) == 0 {
		return nil, WrapError(backendOpenAI, ErrEmptyAudio)
	}

	start := time.Now()
	conditioned := Condition(samples, sampleRate)
	wav := encodeWAV(conditioned, sampleRate)

	body, contentType, err := o.buildForm(wav)
	if err != nil {
		return nil, WrapError(backendOpenAI, fmt.Errorf("build form: %w", err))
	}

	resp, err := o.doWithRetry(ctx, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, o.parseError(resp)
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, WrapError(backendOpenAI, fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, WrapError(backendOpenAI, ErrEmptyTranscript)
	}

	latency := time.Since(start).Milliseconds()
	o.logger.Debug("transcribed segment",
		"samples", len(samples),
		"chars", len(out.Text),
		"latency_ms", latency,
	)

	return &Transcript{
		Text:      out.Text,
		Language:  out.Language,
		Duration:  time.Duration(len(samples)) * time.Second / time.Duration(sampleRate),
		LatencyMs: latency,
	}, nil
}

// Name identifies the backend.
func (o *OpenAI) Name() string { return backendOpenAI }

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// buildForm assembles the multipart upload body.
func (o *OpenAI) buildForm(wav []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model", o.model); err != nil {
		return nil, "", err
	}
	if o.language != "" {
		if err := w.WriteField("language", o.language); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// doWithRetry performs the upload with retry on transient failures.
func (o *OpenAI) doWithRetry(ctx context.Context, body *bytes.Buffer, contentType string) (*http.Response, error) {
	payload := body.Bytes()
	var lastErr error

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, WrapError(backendOpenAI, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := o.client.Do(req)
		if err != nil {
			lastErr = WrapError(backendOpenAI, err)
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = o.parseError(resp)
			resp.Body.Close()
			o.logger.Warn("retrying transcription",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func (o *OpenAI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Backend:    backendOpenAI,
	}
}

// Verify OpenAI implements Transcriber at compile time.
var _ Transcriber = (*OpenAI)(nil)
