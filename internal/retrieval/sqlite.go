package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kalambet/docchat/internal/domain"
)

// Compile-time check that SQLiteStore implements ChunkStore.
var _ ChunkStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chunks in the chunks table next to the relational data.
// Embeddings are little-endian float32 blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The chunks table must already
// exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// BulkInsert adds chunks in a single transaction with a prepared statement.
func (s *SQLiteStore) BulkInsert(ctx context.Context, documentID string, chunks []NewChunk) (int, error) {
	if err := validateBatch(documentID, chunks); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.StorageErr("beginning chunk insert", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (document_id, position, content, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, domain.StorageErr("preparing chunk insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, documentID, c.Position, c.Content, encodeFloat32s(c.Embedding)); err != nil {
			tx.Rollback()
			return 0, domain.StorageErr(fmt.Sprintf("inserting chunk %d of %s", c.Position, documentID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.StorageErr("committing chunk insert", err)
	}
	return len(chunks), nil
}

// ScopeChunks returns chunks of processed documents only, so a run that is
// still writing batches stays invisible to readers.
func (s *SQLiteStore) ScopeChunks(ctx context.Context, documentIDs []string) ([]StoredChunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	args := make([]any, len(documentIDs))
	for i, id := range documentIDs {
		args[i] = id
	}
	query := `SELECT c.id, c.document_id, c.position, c.content, c.embedding
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.processed = 1 AND c.document_id IN (?` + strings.Repeat(",?", len(documentIDs)-1) + `)
		ORDER BY c.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageErr("querying chunks", err)
	}
	defer rows.Close()

	var out []StoredChunk
	for rows.Next() {
		var c StoredChunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Content, &blob); err != nil {
			return nil, domain.StorageErr("scanning chunk", err)
		}
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, domain.StorageErr(fmt.Sprintf("decoding embedding for chunk %d", c.ID), err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageErr("iterating chunks", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, domain.StorageErr("deleting chunks of "+documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StorageErr("deleting chunks of "+documentID, err)
	}
	return int(n), nil
}

func (s *SQLiteStore) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&n); err != nil {
		return 0, domain.StorageErr("counting chunks of "+documentID, err)
	}
	return n, nil
}
