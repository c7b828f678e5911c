package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nyx/internal/conversation"
)

// AppendMessage stores a message in the given session's transcript.
func (s *PostgresBackend) AppendMessage(ctx context.Context, sessionID string, msg conversation.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (session_id, role, content)
		VALUES ($1, $2, $3)`,
		sessionID, string(msg.Role), msg.Content,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns the last limit messages of a session, oldest first.
func (s *PostgresBackend) Messages(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var msg conversation.Message
		var role string
		if err := rows.Scan(&role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = conversation.Role(role)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ClearMessages deletes a session's transcript.
func (s *PostgresBackend) ClearMessages(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// AppendMessage stores a message in the given session's transcript.
func (s *SQLiteBackend) AppendMessage(ctx context.Context, sessionID string, msg conversation.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, formatSQLiteTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns the last limit messages of a session, oldest first.
func (s *SQLiteBackend) Messages(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var msg conversation.Message
		var role string
		if err := rows.Scan(&role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = conversation.Role(role)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ClearMessages deletes a session's transcript.
func (s *SQLiteBackend) ClearMessages(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}
