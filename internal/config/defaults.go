package config

import "time"

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"

	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

const (
	defaultInstruction = "あなたはIT企業の採用面接官です。優しく、しかし鋭い質問をしてください。" +
		"返答は150文字以内の日本語で、会話形式で短く返してください。" +
		"思考プロセス（THOUGHTなど）は出力しないでください。"
	defaultAcknowledgement = "承知いたしました。あなたの経歴についてお聞かせください。"
)

// Defaults returns a config that runs an interviewer persona on Gemini with
// in-memory history, accepting browser calls from a local frontend.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8000",
			AllowedOrigins:      []string{"http://localhost:3000"},
			DefaultConversation: "default",
			MaxConversations:    20,
			ConversationTTL:     3 * time.Minute,
		},
		Generation: GenerationConfig{
			Provider:      ProviderGoogleAI,
			Model:         "gemini-2.5-flash",
			Timeout:       30 * time.Second,
			TokenEncoding: "cl100k_base",
		},
		Speech: SpeechConfig{
			Model:   "tts-1",
			Voice:   "alloy",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: StorageMemory,
			Path:   "mensetsu.db",
		},
		Persona: PersonaConfig{
			Instruction:     defaultInstruction,
			Acknowledgement: defaultAcknowledgement,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
