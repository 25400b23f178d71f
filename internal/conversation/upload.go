package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/docchat/internal/domain"
	"github.com/kalambet/docchat/internal/objects"
	"github.com/kalambet/docchat/internal/pipeline"
	"github.com/kalambet/docchat/internal/storage"
)

// DefaultMaxUploadBytes is the largest accepted document.
const DefaultMaxUploadBytes = 10 << 20

// UploadStore is the relational state an upload writes.
type UploadStore interface {
	GetUser(ctx context.Context, id string) (storage.User, error)
	CreateUpload(ctx context.Context, conv *storage.Conversation, doc *storage.Document) error
	AddMessage(ctx context.Context, m storage.Message) (storage.Message, error)
}

// Ingester runs the ingestion pipeline for one document.
type Ingester interface {
	Ingest(ctx context.Context, documentID string) (pipeline.Result, error)
}

// UploadRequest is one document upload. Size is the declared size; zero
// means unknown and the body is measured instead.
type UploadRequest struct {
	UserID   string
	Filename string
	Size     int64
	Body     io.Reader
}

// UploadResult describes the conversation an upload created.
type UploadResult struct {
	ConversationID string `json:"conversation_id"`
	DocumentID     string `json:"document_id"`
	FileURL        string `json:"file_url"`
	Processed      bool   `json:"processed"`
}

// Uploader stores a document, opens a conversation for it and ingests it.
type Uploader struct {
	store    UploadStore
	objects  objects.Store
	ingester Ingester
	maxBytes int64
	logger   *slog.Logger
}

// NewUploader creates an Uploader. If maxBytes <= 0, DefaultMaxUploadBytes is used.
func NewUploader(store UploadStore, objs objects.Store, ingester Ingester, maxBytes int64) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Uploader{
		store:    store,
		objects:  objs,
		ingester: ingester,
		maxBytes: maxBytes,
		logger:   slog.Default(),
	}
}

// MaxBytes returns the upload size limit.
func (u *Uploader) MaxBytes() int64 { return u.maxBytes }

// Upload runs the whole upload flow. Ingestion failures are reported
// through UploadResult.Processed, not as an error.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	format, err := u.validate(ctx, req)
	if err != nil {
		return UploadResult{}, err
	}

	body := &countingReader{r: io.LimitReader(req.Body, u.maxBytes+1)}
	name, err := u.objects.Save(ctx, req.Filename, body)
	if err != nil {
		return UploadResult{}, domain.StorageErr("saving upload", err)
	}
	if body.n > u.maxBytes {
		u.discard(ctx, name)
		return UploadResult{}, domain.Validationf("file exceeds the %d byte limit", u.maxBytes)
	}

	conv := &storage.Conversation{
		ID:     uuid.New().String(),
		UserID: req.UserID,
		Title:  storage.DefaultConversationTitle,
	}
	doc := &storage.Document{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Title:      domain.Stem(req.Filename),
		ObjectName: name,
		Size:       body.n,
		Format:     format,
	}
	if err := u.store.CreateUpload(ctx, conv, doc); err != nil {
		u.discard(ctx, name)
		return UploadResult{}, domain.StorageErr("creating conversation", err)
	}

	processed := true
	res, err := u.ingester.Ingest(ctx, doc.ID)
	if err != nil {
		processed = false
		u.logger.Error("ingesting upload", "document_id", doc.ID, "error", err)
	} else {
		u.logger.Info("upload ingested", "document_id", doc.ID, "chunks", res.ChunkCount, "duration_ms", res.Duration.Milliseconds())
	}

	note := fmt.Sprintf("Document '%s' processed and ready for queries.", req.Filename)
	if !processed {
		note = fmt.Sprintf("Document '%s' could not be processed.", req.Filename)
	}
	if _, err := u.store.AddMessage(ctx, storage.Message{
		ConversationID: conv.ID,
		SenderID:       req.UserID,
		Role:           storage.RoleSystem,
		Content:        note,
	}); err != nil {
		return UploadResult{}, domain.StorageErr("saving upload note", err)
	}

	return UploadResult{
		ConversationID: conv.ID,
		DocumentID:     doc.ID,
		FileURL:        u.objects.URL(name),
		Processed:      processed,
	}, nil
}

func (u *Uploader) validate(ctx context.Context, req UploadRequest) (domain.Format, error) {
	if req.UserID == "" {
		return "", domain.Validationf("user is required")
	}
	if _, err := u.store.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.NotFoundf("user %s", req.UserID)
		}
		return "", domain.StorageErr("loading user", err)
	}
	if strings.TrimSpace(req.Filename) == "" {
		return "", domain.Validationf("filename is required")
	}
	format, err := domain.FormatFromFilename(req.Filename)
	if err != nil {
		return "", domain.Validationf("file type not allowed, allowed: %s", strings.Join(domain.AllowedExtensions, " "))
	}
	if req.Size > u.maxBytes {
		return "", domain.Validationf("file exceeds the %d byte limit", u.maxBytes)
	}
	if req.Body == nil {
		return "", domain.Validationf("file body is required")
	}
	return format, nil
}

func (u *Uploader) discard(ctx context.Context, name string) {
	if err := u.objects.Delete(context.WithoutCancel(ctx), name); err != nil {
		u.logger.Warn("deleting orphaned object", "object", name, "error", err)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
