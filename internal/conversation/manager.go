package conversation

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DefaultSessionID is used by the HTTP API when the caller names no session.
const DefaultSessionID = "default"

// Manager owns the live sessions, one per conversation (HTTP client, Slack
// channel, Discord channel).
type Manager struct {
	sessions     map[string]*Session
	archive      Archive
	restoreLimit int
	mu           sync.Mutex
	logger       *zap.Logger
}

// NewManager creates a session manager. With a non-nil archive, a session
// created for an id seen in a previous run restores its last restoreLimit
// messages.
func NewManager(archive Archive, restoreLimit int, logger *zap.Logger) *Manager {
	if restoreLimit <= 0 {
		restoreLimit = 50
	}
	return &Manager{
		sessions:     make(map[string]*Session),
		archive:      archive,
		restoreLimit: restoreLimit,
		logger:       logger,
	}
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(ctx context.Context, id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := NewSession(id, m.archive, m.logger)
	if m.archive != nil {
		msgs, err := m.archive.Messages(ctx, id, m.restoreLimit)
		if err != nil {
			m.logger.Warn("restore session failed", zap.String("session", id), zap.Error(err))
		} else if len(msgs) > 0 {
			s.restore(msgs)
			m.logger.Info("restored session", zap.String("session", id), zap.Int("messages", len(msgs)))
		}
	}
	m.sessions[id] = s
	return s
}

// IDs lists the live session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
