package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/docchat/internal/domain"
)

const documentColumns = `id, user_id, COALESCE(conversation_id, ''), title, object_name, size, format, processed, status, last_error, uploaded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var d Document
	var format, status, uploadedAt string
	err := r.Scan(&d.ID, &d.UserID, &d.ConversationID, &d.Title, &d.ObjectName, &d.Size,
		&format, &d.Processed, &status, &d.LastError, &uploadedAt)
	if err != nil {
		return Document{}, err
	}
	d.Format = domain.Format(format)
	d.Status = DocumentStatus(status)
	if d.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return Document{}, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	return d, nil
}

// GetDocument returns the document with the given id.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, err
}

// ListConversationDocuments returns every document attached to the conversation.
func (s *Store) ListConversationDocuments(ctx context.Context, conversationID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE conversation_id = ? ORDER BY uploaded_at ASC, rowid ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetDocumentStatus records an ingestion stage. lastError is stored as given;
// pass "" to clear it.
func (s *Store) SetDocumentStatus(ctx context.Context, id string, status DocumentStatus, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, last_error = ? WHERE id = ?`, string(status), lastError, id)
	if err != nil {
		return err
	}
	return requireOne(res, "document "+id)
}

// MarkProcessed flips processed on in the same update that records the
// terminal processed status.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processed = 1, status = ?, last_error = '' WHERE id = ?`, string(StatusProcessed), id)
	if err != nil {
		return err
	}
	return requireOne(res, "document "+id)
}

// ResetDocument returns the document to the uploaded state with processed off.
func (s *Store) ResetDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processed = 0, status = ?, last_error = '' WHERE id = ?`, string(StatusUploaded), id)
	if err != nil {
		return err
	}
	return requireOne(res, "document "+id)
}
