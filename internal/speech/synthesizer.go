// Package speech renders reply text to MP3 audio through an
// OpenAI-compatible speech endpoint.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	errEmptyText  = errors.New("text is empty")
	errEmptyAudio = errors.New("service returned no audio")
)

// SynthesisError reports that no audio could be produced for a text.
type SynthesisError struct {
	Voice string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis with voice %q failed: %v", e.Voice, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
	// TempDir holds the per-call audio file; empty means os.TempDir().
	TempDir    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Synthesizer speaks text with one fixed voice.
type Synthesizer struct {
	client  *openai.Client
	model   openai.SpeechModel
	voice   openai.SpeechVoice
	timeout time.Duration
	tempDir string
	logger  *zap.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &Synthesizer{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   openai.SpeechModel(cfg.Model),
		voice:   openai.SpeechVoice(cfg.Voice),
		timeout: cfg.Timeout,
		tempDir: cfg.TempDir,
		logger:  cfg.Logger,
	}
}

func (s *Synthesizer) Voice() string { return string(s.voice) }

// Synthesize returns the complete MP3 rendering of text. Every failure is a
// *SynthesisError; nothing is retried.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, s.fail(errEmptyText)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, s.fail(fmt.Errorf("speech request: %w", err))
	}
	defer resp.Close()

	audio, err := s.materialize(resp)
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to read audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, s.fail(errEmptyAudio)
	}

	s.logger.Debug("speech synthesized",
		zap.String("voice", string(s.voice)),
		zap.Int("bytes", len(audio)),
		zap.Duration("latency", time.Since(start)))
	return audio, nil
}

// materialize spools body through a temporary file and returns its bytes.
// The file is removed on every path.
func (s *Synthesizer) materialize(body io.Reader) (audio []byte, err error) {
	f, err := os.CreateTemp(s.tempDir, "speech-*.mp3")
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, os.Remove(f.Name()))
		if err != nil {
			audio = nil
		}
	}()

	if _, err := io.Copy(f, body); err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Name())
}

func (s *Synthesizer) fail(err error) error {
	s.logger.Warn("speech synthesis failed", zap.String("voice", string(s.voice)), zap.Error(err))
	return &SynthesisError{Voice: string(s.voice), Err: err}
}
