package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Generation GenerationConfig `yaml:"generation"`
	Speech     SpeechConfig     `yaml:"speech"`
	Storage    StorageConfig    `yaml:"storage"`
	Persona    PersonaConfig    `yaml:"persona"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr                string   `yaml:"addr"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	DefaultConversation string   `yaml:"default_conversation"`
	// MaxConversations caps conversations held in memory at once; new ones
	// beyond it get a busy reply. ConversationTTL frees idle ones.
	MaxConversations int           `yaml:"max_conversations"`
	ConversationTTL  time.Duration `yaml:"conversation_ttl"`
}

type GenerationConfig struct {
	Provider string        `yaml:"provider"` // "googleai" | "openai"
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url,omitempty"` // openai-compatible endpoints only
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	// TokenEncoding names the tiktoken encoding used to report history size.
	// Empty disables reporting.
	TokenEncoding string `yaml:"token_encoding,omitempty"`
	// Zero leaves the provider default.
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

type SpeechConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Model   string        `yaml:"model"`
	Voice   string        `yaml:"voice"`
	Timeout time.Duration `yaml:"timeout"`
	TempDir string        `yaml:"temp_dir,omitempty"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" | "sqlite"
	Path   string `yaml:"path,omitempty"`
}

// PersonaConfig is the seed exchange every conversation starts from.
type PersonaConfig struct {
	Instruction     string `yaml:"instruction"`
	Acknowledgement string `yaml:"acknowledgement"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads the YAML file at path over Defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MENSETSU_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MENSETSU_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	if cfg.Generation.APIKey == "" {
		switch cfg.Generation.Provider {
		case ProviderGoogleAI:
			cfg.Generation.APIKey = os.Getenv("GEMINI_API_KEY")
		case ProviderOpenAI:
			cfg.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Speech.APIKey == "" {
		cfg.Speech.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("server.allowed_origins needs at least one origin"))
	}
	if cfg.Server.DefaultConversation == "" {
		errs = append(errs, errors.New("server.default_conversation is required"))
	}
	if cfg.Server.MaxConversations <= 0 {
		errs = append(errs, errors.New("server.max_conversations must be positive"))
	}
	if cfg.Server.ConversationTTL <= 0 {
		errs = append(errs, errors.New("server.conversation_ttl must be positive"))
	}
	switch cfg.Generation.Provider {
	case ProviderGoogleAI, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q is not one of %q, %q",
			cfg.Generation.Provider, ProviderGoogleAI, ProviderOpenAI))
	}
	if cfg.Generation.Model == "" {
		errs = append(errs, errors.New("generation.model is required"))
	}
	if cfg.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("generation.timeout must be positive"))
	}
	if cfg.Generation.MaxTokens < 0 {
		errs = append(errs, errors.New("generation.max_tokens must not be negative"))
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		errs = append(errs, errors.New("generation.temperature must be between 0 and 2"))
	}
	if cfg.Speech.Voice == "" {
		errs = append(errs, errors.New("speech.voice is required"))
	}
	if cfg.Speech.Timeout <= 0 {
		errs = append(errs, errors.New("speech.timeout must be positive"))
	}
	switch cfg.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if cfg.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of %q, %q",
			cfg.Storage.Driver, StorageMemory, StorageSQLite))
	}
	if strings.TrimSpace(cfg.Persona.Instruction) == "" {
		errs = append(errs, errors.New("persona.instruction is required"))
	}
	return errors.Join(errs...)
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
