package conversation

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Archive persists session transcripts across restarts. The system message
// is rebuilt every turn and is never archived.
type Archive interface {
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	ClearMessages(ctx context.Context, sessionID string) error
}

// Session is an ordered, append-only message list. Index 0 may hold the
// system message, which is the only mutable entry.
//
// A pipeline turn holds the turn lock for its whole duration (BeginTurn), so
// concurrent turns on one session are serialized and history append order
// matches request order.
type Session struct {
	id       string
	messages []Message
	turn     sync.Mutex
	mu       sync.RWMutex
	archive  Archive
	logger   *zap.Logger
}

// NewSession creates an empty session. archive may be nil.
func NewSession(id string, archive Archive, logger *zap.Logger) *Session {
	return &Session{id: id, archive: archive, logger: logger}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// BeginTurn acquires the session's turn lock and returns its release func.
func (s *Session) BeginTurn() func() {
	s.turn.Lock()
	return s.turn.Unlock
}

// Append adds a user or assistant message.
func (s *Session) Append(ctx context.Context, msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if s.archive != nil && msg.Role != RoleSystem {
		if err := s.archive.AppendMessage(ctx, s.id, msg); err != nil {
			s.logger.Warn("archive message failed", zap.String("session", s.id), zap.Error(err))
		}
	}
}

// Messages returns a copy of the full history.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// History returns up to limit of the most recent messages, the system
// message excluded. limit <= 0 returns all of them.
func (s *Session) History(limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rest := s.messages
	if len(rest) > 0 && rest[0].Role == RoleSystem {
		rest = rest[1:]
	}
	if limit > 0 && len(rest) > limit {
		rest = rest[len(rest)-limit:]
	}
	out := make([]Message, len(rest))
	copy(out, rest)
	return out
}

// System returns the current system message content, if any.
func (s *Session) System() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
		return s.messages[0].Content, true
	}
	return "", false
}

// SetSystem replaces the leading system message, or inserts one.
func (s *Session) SetSystem(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sys := Message{Role: RoleSystem, Content: content}
	if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
		s.messages[0] = sys
		return
	}
	s.messages = append([]Message{sys}, s.messages...)
}

// Window returns the system message (when present) followed by the last n
// other messages.
func (s *Session) Window(n int) []Message {
	s.mu.RLock()
	var sys *Message
	if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
		m := s.messages[0]
		sys = &m
	}
	s.mu.RUnlock()

	rest := s.History(n)
	if sys == nil {
		return rest
	}
	return append([]Message{*sys}, rest...)
}

// Len reports the number of messages including the system message.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear drops every message except the system message.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
		s.messages = s.messages[:1]
	} else {
		s.messages = nil
	}
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.ClearMessages(ctx, s.id); err != nil {
			s.logger.Warn("clear archived messages failed", zap.String("session", s.id), zap.Error(err))
		}
	}
}

// restore seeds the in-memory history from archived messages.
func (s *Session) restore(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}
