package storage

import (
	"time"

	"github.com/kalambet/docchat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = domain.ErrNotFound

// DefaultConversationTitle is the title given to a conversation at upload.
const DefaultConversationTitle = "New Conversation"

type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
}

// DocumentStatus is a stage of the ingestion state machine.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusExtracting DocumentStatus = "extracting"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusPersisting DocumentStatus = "persisting"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID             string
	UserID         string
	ConversationID string
	Title          string
	ObjectName     string
	Size           int64
	Format         domain.Format
	Processed      bool
	Status         DocumentStatus
	LastError      string
	UploadedAt     time.Time
}

// Role is the author kind of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	Role           Role
	Content        string
	CreatedAt      time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
