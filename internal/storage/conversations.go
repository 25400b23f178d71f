package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateUpload inserts a conversation and its document in one transaction.
// Zero CreatedAt/UploadedAt values are set to now.
func (s *Store) CreateUpload(ctx context.Context, conv *Conversation, doc *Document) error {
	now := s.now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.Title == "" {
		conv.Title = DefaultConversationTitle
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	doc.ConversationID = conv.ID

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
			conv.ID, conv.UserID, conv.Title, formatTime(conv.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, user_id, conversation_id, title, object_name, size, format, processed, status, last_error, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.UserID, doc.ConversationID, doc.Title, doc.ObjectName, doc.Size,
			string(doc.Format), doc.Processed, string(doc.Status), doc.LastError, formatTime(doc.UploadedAt),
		); err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		return nil
	})
}

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at FROM conversations
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// SetConversationTitle replaces the conversation's title.
func (s *Store) SetConversationTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	return requireOne(res, "conversation "+id)
}

// ConversationDocumentIDs returns the ids of documents attached to the
// conversation, oldest first. With processedOnly, only fully ingested
// documents are returned.
func (s *Store) ConversationDocumentIDs(ctx context.Context, conversationID string, processedOnly bool) ([]string, error) {
	q := `SELECT id FROM documents WHERE conversation_id = ?`
	if processedOnly {
		q += ` AND processed = 1`
	}
	q += ` ORDER BY uploaded_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DocumentTitles maps each known id in ids to its document title.
func (s *Store) DocumentTitles(ctx context.Context, ids []string) (map[string]string, error) {
	titles := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title FROM documents WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}
