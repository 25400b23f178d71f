package storage

import (
	"context"
	"fmt"
)

// AddMessage appends m to its conversation and returns it with ID and
// CreatedAt filled in.
func (s *Store) AddMessage(ctx context.Context, m Message) (Message, error) {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Message{}, fmt.Errorf("invalid message role %q", m.Role)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ConversationID, m.SenderID, string(m.Role), m.Content, formatTime(m.CreatedAt),
	)
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ListMessages returns the conversation's transcript ordered by timestamp,
// then insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, role, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns how many messages with role the conversation has.
func (s *Store) CountMessages(ctx context.Context, conversationID string, role Role) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = ?`, conversationID, string(role),
	).Scan(&n)
	return n, err
}
