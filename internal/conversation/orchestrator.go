// Package conversation runs chat turns grounded on a conversation's
// documents and handles document uploads that start a conversation.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kalambet/docchat/internal/composer"
	"github.com/kalambet/docchat/internal/domain"
	"github.com/kalambet/docchat/internal/llm"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

const (
	// DefaultTopK is the number of chunks retrieved per turn.
	DefaultTopK = 3

	// FallbackReply is stored as the assistant message when the LLM fails.
	FallbackReply = "Error processing request. Please try again later."

	titleLength = 30
)

// Store is the relational state a conversation needs.
type Store interface {
	GetUser(ctx context.Context, id string) (storage.User, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]storage.Conversation, error)
	SetConversationTitle(ctx context.Context, id, title string) error
	ConversationDocumentIDs(ctx context.Context, conversationID string, processedOnly bool) ([]string, error)
	ListConversationDocuments(ctx context.Context, conversationID string) ([]storage.Document, error)
	AddMessage(ctx context.Context, m storage.Message) (storage.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]storage.Message, error)
	CountMessages(ctx context.Context, conversationID string, role storage.Role) (int, error)
}

// Retriever finds the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope []string, topK int) ([]retrieval.Match, error)
}

// Turn is the pair of messages one SendMessage call appends.
type Turn struct {
	UserMessage      storage.Message
	AssistantMessage storage.Message
	Matches          []retrieval.Match
}

// Orchestrator runs conversation turns.
type Orchestrator struct {
	store     Store
	retriever Retriever
	composer  *composer.Composer
	llm       llm.Completer
	topK      int
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. If topK <= 0, DefaultTopK is used.
func NewOrchestrator(store Store, retriever Retriever, comp *composer.Composer, completer llm.Completer, topK int) *Orchestrator {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if comp == nil {
		comp = composer.New(0)
	}
	return &Orchestrator{
		store:     store,
		retriever: retriever,
		composer:  comp,
		llm:       completer,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// SendMessage stores the user's message, answers it from the
// conversation's processed documents and stores the reply. LLM failures
// produce FallbackReply instead of an error.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, conversationID, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, domain.Validationf("message is required")
	}
	conv, err := o.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return Turn{}, err
	}

	userMsg, err := o.store.AddMessage(ctx, storage.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		Role:           storage.RoleUser,
		Content:        text,
	})
	if err != nil {
		return Turn{}, domain.StorageErr("saving user message", err)
	}
	if err := o.maybeRetitle(ctx, conv, text); err != nil {
		o.logger.Warn("updating conversation title", "conversation_id", conv.ID, "error", err)
	}

	matches := o.retrieve(ctx, conv.ID, text)
	prompt := o.composer.Prompt(text, matches)

	reply, err := o.llm.Complete(ctx, composer.SystemPrompt, prompt)
	if err != nil {
		o.logger.Error("llm completion failed", "conversation_id", conv.ID, "error", err)
		reply = FallbackReply
	}

	assistantMsg, err := o.store.AddMessage(ctx, storage.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		Role:           storage.RoleAssistant,
		Content:        reply,
	})
	if err != nil {
		return Turn{}, domain.StorageErr("saving assistant message", err)
	}

	return Turn{UserMessage: userMsg, AssistantMessage: assistantMsg, Matches: matches}, nil
}

// retrieve returns the matches for text, or none if retrieval fails.
func (o *Orchestrator) retrieve(ctx context.Context, conversationID, text string) []retrieval.Match {
	scope, err := o.store.ConversationDocumentIDs(ctx, conversationID, true)
	if err != nil {
		o.logger.Error("loading conversation scope", "conversation_id", conversationID, "error", err)
		return nil
	}
	matches, err := o.retriever.Retrieve(ctx, text, scope, o.topK)
	if err != nil {
		o.logger.Error("retrieval failed", "conversation_id", conversationID, "error", err)
		return nil
	}
	return matches
}

// maybeRetitle replaces the default title with the start of the first
// user message.
func (o *Orchestrator) maybeRetitle(ctx context.Context, conv storage.Conversation, text string) error {
	if conv.Title != "" && conv.Title != storage.DefaultConversationTitle {
		return nil
	}
	n, err := o.store.CountMessages(ctx, conv.ID, storage.RoleUser)
	if err != nil {
		return err
	}
	if n != 1 {
		return nil
	}
	return o.store.SetConversationTitle(ctx, conv.ID, Title(text))
}

// Title returns the first 30 characters of text.
func Title(text string) string {
	r := []rune(text)
	if len(r) > titleLength {
		r = r[:titleLength]
	}
	return string(r)
}

// History returns the user's conversations, newest first.
func (o *Orchestrator) History(ctx context.Context, userID string) ([]storage.Conversation, error) {
	if err := o.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	convs, err := o.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, domain.StorageErr("listing conversations", err)
	}
	return convs, nil
}

// Messages returns the conversation transcript in order.
func (o *Orchestrator) Messages(ctx context.Context, userID, conversationID string) ([]storage.Message, error) {
	conv, err := o.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, domain.StorageErr("listing messages", err)
	}
	return msgs, nil
}

// Documents lists the conversation's documents with their ingestion state.
func (o *Orchestrator) Documents(ctx context.Context, userID, conversationID string) ([]storage.Document, error) {
	conv, err := o.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	docs, err := o.store.ListConversationDocuments(ctx, conv.ID)
	if err != nil {
		return nil, domain.StorageErr("listing documents", err)
	}
	return docs, nil
}

// Search retrieves up to limit chunks from the conversation's processed
// documents without running a turn.
func (o *Orchestrator) Search(ctx context.Context, userID, conversationID, query string, limit int) ([]retrieval.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.Validationf("query is required")
	}
	if limit <= 0 {
		limit = o.topK
	}
	conv, err := o.ownedConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	scope, err := o.store.ConversationDocumentIDs(ctx, conv.ID, true)
	if err != nil {
		return nil, domain.StorageErr("loading conversation scope", err)
	}
	return o.retriever.Retrieve(ctx, query, scope, limit)
}

func (o *Orchestrator) requireUser(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.Validationf("user is required")
	}
	_, err := o.store.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotFoundf("user %s", userID)
	}
	if err != nil {
		return domain.StorageErr("loading user", err)
	}
	return nil
}

// ownedConversation loads the conversation and hides it from other users.
func (o *Orchestrator) ownedConversation(ctx context.Context, userID, conversationID string) (storage.Conversation, error) {
	if err := o.requireUser(ctx, userID); err != nil {
		return storage.Conversation{}, err
	}
	if conversationID == "" {
		return storage.Conversation{}, domain.Validationf("conversation is required")
	}
	conv, err := o.store.GetConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && conv.UserID != userID) {
		return storage.Conversation{}, domain.NotFoundf("conversation %s", conversationID)
	}
	if err != nil {
		return storage.Conversation{}, domain.StorageErr("loading conversation", err)
	}
	return conv, nil
}
