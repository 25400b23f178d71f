// Package api exposes docchat over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docchat/internal/conversation"
	"github.com/kalambet/docchat/internal/domain"
	"github.com/kalambet/docchat/internal/ingest"
	"github.com/kalambet/docchat/internal/objects"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB
	multipartOverhead   = 1 << 20 // 1MB
	multipartMemorySize = 8 << 20
)

// Conversations runs chat turns and reads transcripts.
type Conversations interface {
	SendMessage(ctx context.Context, userID, conversationID, text string) (conversation.Turn, error)
	History(ctx context.Context, userID string) ([]storage.Conversation, error)
	Messages(ctx context.Context, userID, conversationID string) ([]storage.Message, error)
	Documents(ctx context.Context, userID, conversationID string) ([]storage.Document, error)
	Search(ctx context.Context, userID, conversationID, query string, limit int) ([]retrieval.Match, error)
}

// Uploads accepts new documents.
type Uploads interface {
	Upload(ctx context.Context, req conversation.UploadRequest) (conversation.UploadResult, error)
	MaxBytes() int64
}

// Store is the relational state the handlers read and write directly.
type Store interface {
	CreateUser(ctx context.Context, username string) (storage.User, error)
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

type AppDeps struct {
	Store         Store
	Conversations Conversations
	Uploads       Uploads
	Objects       objects.Store
	Token         string
	Logger        *slog.Logger
}

// NewHandler returns the HTTP API. Every route except /health requires the
// bearer token.
func NewHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestLogger(deps.Logger))
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/users", handleCreateUser(deps))
		r.Post("/upload", handleUpload(deps))
		r.Get("/conversations/history", handleHistory(deps))
		r.Post("/conversations/send", handleSend(deps))
		r.Get("/conversations/{id}/messages", handleMessages(deps))
		r.Get("/conversations/{id}/documents", handleDocuments(deps))
		r.Post("/documents/{id}/reingest", handleReingest(deps))
		r.Get("/files/{name}", handleFile(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func handleCreateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		u, err := deps.Store.CreateUser(r.Context(), req.Username)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt})
	}
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := deps.Uploads.MaxBytes()
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(multipartMemorySize); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, domain.Validationf("file exceeds the %d byte limit", limit))
				return
			}
			writeError(w, r, domain.Validationf("invalid multipart body: %v", err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("document")
		if err != nil {
			writeError(w, r, domain.Validationf("document file is required"))
			return
		}
		defer file.Close()

		res, err := deps.Uploads.Upload(r.Context(), conversation.UploadRequest{
			UserID:   r.FormValue("user"),
			Filename: header.Filename,
			Size:     header.Size,
			Body:     file,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

type conversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Conversations.History(r.Context(), r.URL.Query().Get("user"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]conversationResponse, len(convs))
		for i, c := range convs {
			out[i] = conversationResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// SendRequest is the body of POST /conversations/send.
type SendRequest struct {
	User         string `json:"user"`
	Conversation string `json:"conversation"`
	Message      string `json:"message"`
}

// SendResponse is the reply of POST /conversations/send.
type SendResponse struct {
	UserID            string `json:"user_id"`
	ConversationID    string `json:"conversation_id"`
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response"`
}

func handleSend(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		turn, err := deps.Conversations.SendMessage(r.Context(), req.User, req.Conversation, req.Message)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SendResponse{
			UserID:            req.User,
			ConversationID:    req.Conversation,
			UserMessage:       turn.UserMessage.Content,
			AssistantResponse: turn.AssistantMessage.Content,
		})
	}
}

type messageResponse struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func handleMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Conversations.Messages(r.Context(), r.URL.Query().Get("user"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]messageResponse, len(msgs))
		for i, m := range msgs {
			out[i] = messageResponse{ID: m.ID, Role: string(m.Role), SenderID: m.SenderID, Content: m.Content, CreatedAt: m.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type documentResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Format     string    `json:"format"`
	Size       int64     `json:"size"`
	Processed  bool      `json:"processed"`
	Status     string    `json:"status"`
	LastError  string    `json:"last_error,omitempty"`
	FileURL    string    `json:"file_url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func handleDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Conversations.Documents(r.Context(), r.URL.Query().Get("user"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = documentResponse{
				ID:         d.ID,
				Title:      d.Title,
				Format:     string(d.Format),
				Size:       d.Size,
				Processed:  d.Processed,
				Status:     string(d.Status),
				LastError:  d.LastError,
				FileURL:    deps.Objects.URL(d.ObjectName),
				UploadedAt: d.UploadedAt,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleReingest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetDocument(r.Context(), id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				err = domain.NotFoundf("document %s", id)
			}
			writeError(w, r, err)
			return
		}

		jobID, err := ingest.Enqueue(r.Context(), deps.Store, id)
		if err != nil {
			writeError(w, r, domain.StorageErr("enqueueing reingest", err))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": "queued",
		})
	}
}

func handleFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		rc, err := deps.Objects.Open(r.Context(), name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", objects.ContentType(name))
		if _, err := io.Copy(w, rc); err != nil {
			deps.Logger.Warn("streaming object", "object", name, "error", err)
		}
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return domain.Validationf("content type must be application/json")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

// errString renders an error for tool results.
func errString(err error) string {
	_, errType := errorStatus(err)
	if errType == "api_error" {
		return "internal error"
	}
	return fmt.Sprintf("%s: %v", errType, err)
}
