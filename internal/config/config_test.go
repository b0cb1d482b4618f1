package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample rate = %d", cfg.Audio.SampleRate)
	}
	if cfg.Offline.LLMProvider != "ollama" {
		t.Errorf("llm provider = %q", cfg.Offline.LLMProvider)
	}
	if cfg.Conversation.SessionTimeout != 5*time.Minute {
		t.Errorf("session timeout = %v", cfg.Conversation.SessionTimeout)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verba.yaml")
	yaml := `
log_level: debug
audio:
  sample_rate: 48000
conversation:
  session_timeout: 90s
  max_reply_tokens: 80
offline:
  llm_provider: llamacpp
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample rate = %d", cfg.Audio.SampleRate)
	}
	if cfg.Conversation.SessionTimeout != 90*time.Second {
		t.Errorf("session timeout = %v", cfg.Conversation.SessionTimeout)
	}
	if cfg.Conversation.MaxReplyTokens != 80 {
		t.Errorf("max reply tokens = %d", cfg.Conversation.MaxReplyTokens)
	}
	// Untouched keys keep their defaults.
	if cfg.Offline.PiperURL != "http://127.0.0.1:5000" {
		t.Errorf("piper url = %q", cfg.Offline.PiperURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/verba.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate_RequiresWhisperModel(t *testing.T) {
	cfg := Default()
	cfg.Offline.WhisperModel = "/nonexistent/model.bin"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing model file")
	}
	if !strings.Contains(err.Error(), "whisper model") {
		t.Errorf("error = %v", err)
	}
}

func TestValidate_Passes(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.en.bin")
	if err := os.WriteFile(model, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Offline.WhisperModel = model
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.bin")
	os.WriteFile(model, []byte("stub"), 0o644)

	cfg := Default()
	cfg.Offline.WhisperModel = model
	cfg.Offline.LLMProvider = "vllm"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestLoadSecrets_ReadsEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	s, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.OpenAIAPIKey != "sk-test" {
		t.Errorf("OpenAIAPIKey = %q", s.OpenAIAPIKey)
	}
}
