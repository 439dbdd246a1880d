package db

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/atera92/mensetsu-app/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps conversations for the lifetime of the process.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	turns         map[string][]models.Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		turns:         make(map[string][]models.Turn),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateConversation(_ context.Context, title string) (*models.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = "New interview"
	}
	conv := &models.Conversation{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = conv
	out := *conv
	return &out, nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *conv
	return &out, nil
}

func (m *MemoryStore) AppendTurns(ctx context.Context, conversationID string, turns ...models.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		m.conversations[conversationID] = &models.Conversation{ID: conversationID, Title: conversationID, CreatedAt: now}
	}
	for _, turn := range turns {
		turn.CreatedAt = now
		m.turns[conversationID] = append(m.turns[conversationID], turn)
	}
	return nil
}

func (m *MemoryStore) History(_ context.Context, conversationID string) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Turn, len(m.turns[conversationID]))
	copy(out, m.turns[conversationID])
	return out, nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	delete(m.turns, id)
	return nil
}
