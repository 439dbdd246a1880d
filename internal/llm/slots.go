package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrBusy means the live conversation cap is reached.
var ErrBusy = errors.New("too many live conversations")

// slot serializes one conversation. sem holds one token; refs counts
// callers holding or waiting for it. A slot stays in the map after use only
// while the conversation is active, until it idles past the TTL or is reset.
type slot struct {
	sem    chan struct{}
	refs   int
	active bool
	used   int64 // unix nanos of the last release
}

// acquire takes the conversation's slot, waiting until ctx is done. With
// enforceCap, a conversation that has no slot yet is refused with ErrBusy
// when the cap is reached.
func (m *SessionManager) acquire(ctx context.Context, conversationID string, enforceCap bool) (*slot, error) {
	m.mu.Lock()
	sl, ok := m.slots[conversationID]
	if !ok {
		if enforceCap && len(m.slots) >= m.maxLive {
			m.evictIdleLocked()
			if len(m.slots) >= m.maxLive {
				m.mu.Unlock()
				m.logger.Warn("conversation refused, server busy",
					zap.String("conversation", conversationID),
					zap.Int("maxLive", m.maxLive))
				return nil, ErrBusy
			}
		}
		sl = &slot{sem: make(chan struct{}, 1)}
		m.slots[conversationID] = sl
	}
	sl.refs++
	m.mu.Unlock()

	select {
	case sl.sem <- struct{}{}:
		return sl, nil
	case <-ctx.Done():
		m.release(conversationID, sl, false)
		return nil, ctx.Err()
	}
}

// release gives the slot back. An inactive slot nobody else wants is
// dropped right away.
func (m *SessionManager) release(conversationID string, sl *slot, held bool) {
	if held {
		<-sl.sem
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sl.refs--
	sl.used = m.now().UnixNano()
	if sl.refs == 0 && !sl.active && m.slots[conversationID] == sl {
		delete(m.slots, conversationID)
	}
}

func (m *SessionManager) setActive(sl *slot, active bool) {
	m.mu.Lock()
	sl.active = active
	m.mu.Unlock()
}

func (m *SessionManager) evictIdleLocked() {
	cutoff := m.now().Add(-m.idleTTL).UnixNano()
	for id, sl := range m.slots {
		if sl.refs == 0 && sl.used <= cutoff {
			delete(m.slots, id)
			m.logger.Debug("idle conversation slot freed", zap.String("conversation", id))
		}
	}
}

// Live reports how many conversations currently hold a slot.
func (m *SessionManager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
