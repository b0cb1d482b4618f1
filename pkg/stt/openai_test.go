package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func toneSamples(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = 8000
		} else {
			s[i] = -8000
		}
	}
	return s
}

func TestOpenAI_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != ModelWhisper1 {
			t.Errorf("model = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello robot","language":"en"}`))
	}))
	defer srv.Close()

	tr, err := NewOpenAI("test-key", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer tr.Close()

	got, err := tr.Transcribe(context.Background(), toneSamples(1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello robot" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Language != "en" {
		t.Errorf("Language = %q", got.Language)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	tr, err := NewOpenAI("wrong", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer tr.Close()

	_, err = tr.Transcribe(context.Background(), toneSamples(1600), 16000)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "bad key" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.IsRetryable() {
		t.Error("401 should not be retryable")
	}
}

func TestOpenAI_RetriesServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"text":"second try"}`))
	}))
	defer srv.Close()

	tr, err := NewOpenAI("test-key", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer tr.Close()

	got, err := tr.Transcribe(context.Background(), toneSamples(1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "second try" {
		t.Errorf("Text = %q", got.Text)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestOpenAI_EmptyRecognition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  ","language":"en"}`))
	}))
	defer srv.Close()

	tr, err := NewOpenAI("test-key", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer tr.Close()

	_, err = tr.Transcribe(context.Background(), toneSamples(1600), 16000)
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	var backendErr *BackendError
	if !errors.As(err, &backendErr) || backendErr.Backend != backendOpenAI {
		t.Errorf("error should carry the backend: %v", err)
	}
}

func TestOpenAI_EmptyAudio(t *testing.T) {
	tr, err := NewOpenAI("test-key")
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	defer tr.Close()

	_, err = tr.Transcribe(context.Background(), nil, 16000)
	if !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI(""); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}
