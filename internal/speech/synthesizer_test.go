package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

var fakeMP3 = []byte("ID3\x03\x00\x00\x00fake-mp3-frames")

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func newSynthesizer(t *testing.T, handler http.HandlerFunc) (*Synthesizer, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	return New(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "tts-1",
		Voice:   "alloy",
		Timeout: 2 * time.Second,
		TempDir: dir,
	}), dir
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir to be empty, found %d entries", len(entries))
	}
}

func TestSynthesize_Success(t *testing.T) {
	var got speechRequest
	synth, dir := newSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(fakeMP3)
	})

	audio, err := synth.Synthesize(context.Background(), "ご経歴を教えてください。")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(audio, fakeMP3) {
		t.Fatalf("audio = %q, want %q", audio, fakeMP3)
	}
	if got.Input != "ご経歴を教えてください。" || got.Voice != "alloy" || got.Model != "tts-1" {
		t.Errorf("request = %+v", got)
	}
	if got.ResponseFormat != "mp3" {
		t.Errorf("response_format = %q, want mp3", got.ResponseFormat)
	}
	assertNoTempFiles(t, dir)
}

func TestSynthesize_EmptyTextSkipsService(t *testing.T) {
	var calls atomic.Int32
	synth, _ := newSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(fakeMP3)
	})

	for _, text := range []string{"", "   ", "\n"} {
		_, err := synth.Synthesize(context.Background(), text)
		var synthErr *SynthesisError
		if !errors.As(err, &synthErr) {
			t.Fatalf("Synthesize(%q): expected *SynthesisError, got %v", text, err)
		}
		if !errors.Is(err, errEmptyText) {
			t.Errorf("Synthesize(%q): expected errEmptyText, got %v", text, err)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("service called %d times for empty text", calls.Load())
	}
}

func TestSynthesize_ServiceError(t *testing.T) {
	synth, dir := newSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	_, err := synth.Synthesize(context.Background(), "hello")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *SynthesisError, got %v", err)
	}
	if synthErr.Voice != "alloy" {
		t.Errorf("voice = %q", synthErr.Voice)
	}
	assertNoTempFiles(t, dir)
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	synth, dir := newSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
	})

	_, err := synth.Synthesize(context.Background(), "hello")
	if !errors.Is(err, errEmptyAudio) {
		t.Fatalf("expected errEmptyAudio, got %v", err)
	}
	assertNoTempFiles(t, dir)
}

func TestSynthesize_TruncatedStreamCleansUp(t *testing.T) {
	synth, dir := newSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.Write(fakeMP3)
	})

	_, err := synth.Synthesize(context.Background(), "hello")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *SynthesisError for truncated body, got %v", err)
	}
	assertNoTempFiles(t, dir)
}

func TestSynthesize_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	synth := New(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Timeout: 50 * time.Millisecond,
		TempDir: t.TempDir(),
	})
	_, err := synth.Synthesize(context.Background(), "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSynthesize_BadTempDir(t *testing.T) {
	synth, _ := newSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(fakeMP3)
	})
	synth.tempDir = "/nonexistent/speech/dir"

	_, err := synth.Synthesize(context.Background(), "hello")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *SynthesisError, got %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	synth := New(Config{})
	if synth.Voice() != "alloy" {
		t.Errorf("voice = %q", synth.Voice())
	}
	if synth.model != "tts-1" {
		t.Errorf("model = %q", synth.model)
	}
	if synth.timeout != 30*time.Second {
		t.Errorf("timeout = %v", synth.timeout)
	}
}
