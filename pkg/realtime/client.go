// Package realtime provides a client for the OpenAI Realtime API, an
// experimental speech-to-speech path that bypasses the staged pipeline.
// It is wired to the same audio layer; local capture still drives when
// audio is forwarded, the API's server VAD handles turn taking.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"

	readTimeout  = 120 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// SessionConfig describes the session sent on connect.
type SessionConfig struct {
	Instructions      string
	Voice             string
	TranscribeModel   string
	VADThreshold      float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// DefaultSessionConfig returns session defaults matching the staged
// pipeline's segmentation behavior.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Voice:             "shimmer",
		TranscribeModel:   "whisper-1",
		VADThreshold:      0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 800,
	}
}

// Callbacks are invoked from the client's read goroutine.
type Callbacks struct {
	// OnTranscript delivers user and assistant transcripts. isFinal is
	// true for completed user utterances.
	OnTranscript func(text string, isFinal bool)

	// OnAudio delivers decoded PCM16 reply audio chunks.
	OnAudio func(pcm []byte)

	// OnAudioDone fires when a reply's audio is complete.
	OnAudioDone func()

	// OnSpeechStarted fires when the server VAD hears the user, the
	// signal for barge-in.
	OnSpeechStarted func()

	// OnError delivers connection and API errors.
	OnError func(err error)
}

// Client manages the websocket connection to the Realtime API.
type Client struct {
	apiKey string
	url    string
	model  string
	logger *slog.Logger

	callbacks Callbacks

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	closed    bool
}

// Option configures a Client.
type Option func(*Client)

// WithURL overrides the websocket endpoint, for tests.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithModel overrides the realtime model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "realtime") }
}

// NewClient creates a realtime client.
func NewClient(apiKey string, callbacks Callbacks, opts ...Option) *Client {
	c := &Client{
		apiKey:    apiKey,
		url:       DefaultURL,
		model:     DefaultModel,
		callbacks: callbacks,
		logger:    slog.Default().With("component", "realtime"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the API and configures the session.
func (c *Client) Connect(cfg SessionConfig) error {
	header := map[string][]string{
		"Authorization": {"Bearer " + c.apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	ws, _, err := dialer.Dial(fmt.Sprintf("%s?model=%s", c.url, c.model), header)
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	ws.SetPingHandler(func(appData string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	go c.readLoop()
	go c.keepAlive()

	return c.configureSession(cfg)
}

// SendAudio forwards raw PCM16 capture audio to the input buffer.
func (c *Client) SendAudio(pcm []byte) error {
	return c.sendJSON(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// CancelResponse interrupts the in-flight reply, the barge-in path.
func (c *Client) CancelResponse() error {
	return c.sendJSON(map[string]string{"type": "response.cancel"})
}

// ClearInput drops buffered input audio.
func (c *Client) ClearInput() error {
	return c.sendJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

// Connected reports whether the connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}

func (c *Client) configureSession(cfg SessionConfig) error {
	return c.sendJSON(map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"modalities":          []string{"text", "audio"},
			"instructions":        cfg.Instructions,
			"voice":               cfg.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]interface{}{
				"model": cfg.TranscribeModel,
			},
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           cfg.VADThreshold,
				"prefix_padding_ms":   cfg.PrefixPaddingMs,
				"silence_duration_ms": cfg.SilenceDurationMs,
			},
		},
	})
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if c.closed || c.ws == nil {
			c.mu.Unlock()
			return
		}
		err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout))
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		ws := c.ws
		closed := c.closed
		c.mu.Unlock()
		if closed || ws == nil {
			return
		}

		ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.connected = false
			c.mu.Unlock()
			if !wasClosed && c.callbacks.OnError != nil {
				c.callbacks.OnError(err)
			}
			return
		}

		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "session.created", "session.updated":
		c.logger.Debug("session event", "type", msgType)

	case "input_audio_buffer.speech_started":
		if c.callbacks.OnSpeechStarted != nil {
			c.callbacks.OnSpeechStarted()
		}

	case "conversation.item.input_audio_transcription.completed":
		if transcript, ok := msg["transcript"].(string); ok && c.callbacks.OnTranscript != nil {
			c.callbacks.OnTranscript(transcript, true)
		}

	case "response.audio.delta":
		delta, ok := msg["delta"].(string)
		if !ok || c.callbacks.OnAudio == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(delta)
		if err != nil {
			c.logger.Warn("bad audio delta", "error", err)
			return
		}
		c.callbacks.OnAudio(pcm)

	case "response.audio.done":
		if c.callbacks.OnAudioDone != nil {
			c.callbacks.OnAudioDone()
		}

	case "response.audio_transcript.delta":
		if delta, ok := msg["delta"].(string); ok && c.callbacks.OnTranscript != nil {
			c.callbacks.OnTranscript(delta, false)
		}

	case "error":
		if errData, ok := msg["error"].(map[string]interface{}); ok {
			if errMsg, ok := errData["message"].(string); ok && c.callbacks.OnError != nil {
				c.callbacks.OnError(fmt.Errorf("realtime: API error: %s", errMsg))
			}
		}
	}
}

func (c *Client) sendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil || c.closed {
		return fmt.Errorf("realtime: not connected")
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}
