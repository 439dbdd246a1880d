package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atera92/mensetsu-app/internal/models"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// HistoryStore persists conversation turns. Implementations must return
// turns oldest first and store the turns of one AppendTurns call together.
type HistoryStore interface {
	AppendTurns(ctx context.Context, conversationID string, turns ...models.Turn) error
	History(ctx context.Context, conversationID string) ([]models.Turn, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Persona is the seed exchange placed in front of every conversation.
type Persona struct {
	Instruction     string
	Acknowledgement string
}

type Config struct {
	Model   llms.Model
	Store   HistoryStore
	Persona Persona
	// Timeout bounds a single generation call.
	Timeout time.Duration
	// MaxLive caps conversations holding a slot; a new conversation beyond
	// it gets ErrBusy. IdleTTL frees slots of conversations unused that long.
	MaxLive int
	IdleTTL time.Duration
	// Tokens reports history size after each turn. Optional.
	Tokens      TokenCounter
	CallOptions []llms.CallOption
	Logger      *zap.Logger
}

// SessionManager hands out sessions and makes sure each conversation has a
// single writer.
type SessionManager struct {
	model       llms.Model
	store       HistoryStore
	persona     Persona
	timeout     time.Duration
	maxLive     int
	idleTTL     time.Duration
	tokens      TokenCounter
	callOptions []llms.CallOption
	logger      *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	slots map[string]*slot
}

var errEmptyReply = errors.New("model returned no text")

func NewSessionManager(cfg Config) *SessionManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxLive <= 0 {
		cfg.MaxLive = 20
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SessionManager{
		model:       cfg.Model,
		store:       cfg.Store,
		persona:     cfg.Persona,
		timeout:     cfg.Timeout,
		maxLive:     cfg.MaxLive,
		idleTTL:     cfg.IdleTTL,
		tokens:      cfg.Tokens,
		callOptions: cfg.CallOptions,
		logger:      cfg.Logger,
		now:         time.Now,
		slots:       make(map[string]*slot),
	}
}

// Session returns the session for a conversation.
func (m *SessionManager) Session(conversationID string) *Session {
	return &Session{id: conversationID, mgr: m}
}

// SendMessage is shorthand for Session(conversationID).SendMessage.
func (m *SessionManager) SendMessage(ctx context.Context, conversationID, userText string) (string, error) {
	return m.Session(conversationID).SendMessage(ctx, userText)
}

// Reset drops the stored history of a conversation and frees its slot. It
// waits for an in-flight SendMessage on the same conversation to finish.
func (m *SessionManager) Reset(ctx context.Context, conversationID string) error {
	sl, err := m.acquire(ctx, conversationID, false)
	if err != nil {
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	defer m.release(conversationID, sl, true)

	if err := m.store.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	m.setActive(sl, false)
	m.logger.Info("conversation reset", zap.String("conversation", conversationID))
	return nil
}

// Session is one conversation with the generation model.
type Session struct {
	id  string
	mgr *SessionManager
}

// SendMessage sends userText with the full history and returns the model's
// raw reply. The user turn and the reply are recorded together only when
// generation succeeds; any failure is a *GenerationError and leaves the
// history untouched.
func (s *Session) SendMessage(ctx context.Context, userText string) (string, error) {
	sl, err := s.mgr.acquire(ctx, s.id, true)
	if err != nil {
		return "", s.fail(err)
	}
	defer s.mgr.release(s.id, sl, true)

	history, err := s.mgr.store.History(ctx, s.id)
	if err != nil {
		return "", s.fail(fmt.Errorf("failed to load history: %w", err))
	}

	messages := s.mgr.buildMessages(history, userText)

	genCtx, cancel := context.WithTimeout(ctx, s.mgr.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.mgr.model.GenerateContent(genCtx, messages, s.mgr.callOptions...)
	if err != nil {
		return "", s.fail(fmt.Errorf("failed to generate completion: %w", err))
	}
	reply := firstText(resp)
	if strings.TrimSpace(reply) == "" {
		return "", s.fail(errEmptyReply)
	}

	s.mgr.logger.Debug("generation finished",
		zap.String("conversation", s.id),
		zap.Duration("latency", time.Since(start)),
		zap.String("raw", reply))

	if err := s.mgr.store.AppendTurns(ctx, s.id,
		models.Turn{Role: models.RoleUser, Content: userText},
		models.Turn{Role: models.RoleAssistant, Content: reply},
	); err != nil {
		return "", s.fail(fmt.Errorf("failed to save turns: %w", err))
	}
	s.mgr.setActive(sl, true)

	s.mgr.reportHistorySize(s.id, append(history,
		models.Turn{Role: models.RoleUser, Content: userText},
		models.Turn{Role: models.RoleAssistant, Content: reply}))

	return reply, nil
}

func (s *Session) fail(err error) error {
	s.mgr.logger.Warn("generation failed", zap.String("conversation", s.id), zap.Error(err))
	return &GenerationError{ConversationID: s.id, Err: err}
}

func (m *SessionManager) buildMessages(history []models.Turn, userText string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+3)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, m.persona.Instruction))
	if m.persona.Acknowledgement != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, m.persona.Acknowledgement))
	}
	for _, turn := range history {
		messages = append(messages, llms.TextParts(messageType(turn.Role), turn.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, userText))
}

func messageType(role models.Role) llms.ChatMessageType {
	if role == models.RoleAssistant {
		return llms.ChatMessageTypeAI
	}
	return llms.ChatMessageTypeHuman
}

func firstText(resp *llms.ContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, choice := range resp.Choices {
		if choice != nil && choice.Content != "" {
			return choice.Content
		}
	}
	return ""
}

// reportHistorySize logs how large the conversation has grown. History is
// never trimmed.
func (m *SessionManager) reportHistorySize(conversationID string, history []models.Turn) {
	fields := []zap.Field{
		zap.String("conversation", conversationID),
		zap.Int("turns", len(history)),
	}
	if m.tokens != nil {
		total := m.tokens.Count(m.persona.Instruction) + m.tokens.Count(m.persona.Acknowledgement)
		for _, turn := range history {
			total += m.tokens.Count(turn.Content)
		}
		fields = append(fields, zap.Int("approxTokens", total))
	}
	m.logger.Info("conversation history size", fields...)
}
