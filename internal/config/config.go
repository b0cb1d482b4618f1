// Package config loads the robot configuration from a YAML file layered
// over defaults, with secrets taken from the environment (optionally via a
// .env file).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/voxbotics/verba/pkg/audioio"
	"github.com/voxbotics/verba/pkg/connectivity"
	"github.com/voxbotics/verba/pkg/decision"
	"github.com/voxbotics/verba/pkg/segment"
	"github.com/voxbotics/verba/pkg/vad"
)

// Config is the full robot configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Audio        audioio.Config      `yaml:"audio"`
	VAD          vad.Config          `yaml:"vad"`
	Segment      segment.Config      `yaml:"segment"`
	Connectivity connectivity.Config `yaml:"connectivity"`
	Decision     decision.Config     `yaml:"decision"`

	Online       Online       `yaml:"online"`
	Offline      Offline      `yaml:"offline"`
	Conversation Conversation `yaml:"conversation"`
	Web          Web          `yaml:"web"`
}

// Online configures the API-backed stages used when the network is up.
type Online struct {
	TranscribeModel string `yaml:"transcribe_model"`
	ChatModel       string `yaml:"chat_model"`
	TTSModel        string `yaml:"tts_model"`
	TTSVoice        string `yaml:"tts_voice"`
}

// Offline configures the local stages used when the network is down.
type Offline struct {
	// WhisperModel is the path to a ggml whisper.cpp model file.
	WhisperModel string `yaml:"whisper_model"`

	// LLMProvider is "ollama" or "llamacpp".
	LLMProvider string `yaml:"llm_provider"`
	LLMModel    string `yaml:"llm_model"`
	// LLMBaseURL overrides the local server address when non-empty.
	LLMBaseURL string `yaml:"llm_base_url"`

	// PiperURL is the address of the local Piper TTS server.
	PiperURL string `yaml:"piper_url"`
}

// Conversation tunes reply generation and session behavior.
type Conversation struct {
	SystemPrompt   string        `yaml:"system_prompt"`
	Apology        string        `yaml:"apology"`
	MaxReplyTokens int           `yaml:"max_reply_tokens"`
	Temperature    float64       `yaml:"temperature"`
	MaxHistory     int           `yaml:"max_history_turns"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// Web configures the dashboard server.
type Web struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Secrets holds values that never live in the YAML file.
type Secrets struct {
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:     "info",
		Audio:        audioio.DefaultConfig(),
		VAD:          vad.DefaultConfig(),
		Segment:      segment.DefaultConfig(),
		Connectivity: connectivity.DefaultConfig(),
		Decision:     decision.DefaultConfig(),
		Online: Online{
			TranscribeModel: "whisper-1",
			ChatModel:       "gpt-4o-mini",
			TTSModel:        "tts-1",
			TTSVoice:        "shimmer",
		},
		Offline: Offline{
			WhisperModel: "models/ggml-base.en.bin",
			LLMProvider:  "ollama",
			LLMModel:     "llama3.2:3b",
			PiperURL:     "http://127.0.0.1:5000",
		},
		Conversation: Conversation{
			SystemPrompt:   "You are Verba, a friendly robot companion. Keep replies short and conversational; they will be spoken aloud.",
			Apology:        "Sorry, I had trouble coming up with an answer. Could you say that again?",
			MaxReplyTokens: 150,
			Temperature:    0.7,
			MaxHistory:     20,
			SessionTimeout: 5 * time.Minute,
		},
		Web: Web{
			Enabled: true,
			Addr:    ":8090",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadSecrets reads secrets from the environment, first loading a .env
// file if one is present next to the binary.
func LoadSecrets() (Secrets, error) {
	_ = godotenv.Load()

	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return s, fmt.Errorf("config: secrets: %w", err)
	}
	return s, nil
}

// Validate checks invariants that must hold before the pipeline starts.
// The offline stages are the safety net when the network dies, so their
// artifacts must exist at startup, not when first needed.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("config: audio: %w", err)
	}
	if c.Offline.WhisperModel == "" {
		return fmt.Errorf("config: offline.whisper_model is required")
	}
	if _, err := os.Stat(c.Offline.WhisperModel); err != nil {
		return fmt.Errorf("config: offline whisper model %s: %w", c.Offline.WhisperModel, err)
	}
	switch c.Offline.LLMProvider {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("config: offline.llm_provider %q must be ollama or llamacpp", c.Offline.LLMProvider)
	}
	if c.Offline.LLMModel == "" {
		return fmt.Errorf("config: offline.llm_model is required")
	}
	if c.Conversation.SessionTimeout < 0 {
		return fmt.Errorf("config: conversation.session_timeout must not be negative")
	}
	return nil
}
