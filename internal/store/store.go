// ABOUTME: Store interfaces and data types for conversations, attachments, usage and scores
// ABOUTME: Defines the persistence contract consumed by the agent and the HTTP gateway

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/parley/internal/transcript"
)

// Common errors
var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateConversation = errors.New("conversation already exists")
	ErrInvalidRating         = errors.New("invalid rating")
)

// Conversation is one chat with both of its transcripts.
type Conversation struct {
	ID               string
	Title            string
	TitleLocked      bool // set when the user chose the title
	CollectionID     string
	UIMessages       []transcript.UIMessage
	ModelMessages    []transcript.ModelMessage
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Turn is what one successful run appends to a conversation.
type Turn struct {
	UIMessages    []transcript.UIMessage
	ModelMessages []transcript.ModelMessage
	Usage         *TurnUsage
}

// AttachmentStatus is set by the external scanning pipeline.
type AttachmentStatus string

const (
	AttachmentPending    AttachmentStatus = "pending"
	AttachmentAnalyzing  AttachmentStatus = "analyzing"
	AttachmentReady      AttachmentStatus = "ready"
	AttachmentSuspicious AttachmentStatus = "suspicious"
)

// Attachment is an uploaded file stored in the blob store.
type Attachment struct {
	ID             string
	ConversationID string
	StorageKey     string
	Name           string
	ContentType    string
	Size           int64
	Status         AttachmentStatus
	CreatedAt      time.Time
}

// TurnUsage is token accounting for one persisted assistant message.
type TurnUsage struct {
	ID             string
	ConversationID string
	MessageID      string
	Model          string
	InputTokens    int
	OutputTokens   int
	Requests       int
	CreatedAt      time.Time
}

// UsageFilter narrows GetUsageStats.
type UsageFilter struct {
	ConversationID *string
	Model          *string
	Since          *time.Time
	Until          *time.Time
}

// UsageStats is aggregated usage.
type UsageStats struct {
	TotalInput   int64 `json:"total_input"`
	TotalOutput  int64 `json:"total_output"`
	TotalTokens  int64 `json:"total_tokens"`
	RequestCount int64 `json:"request_count"`
	TurnCount    int64 `json:"turn_count"`
}

// Rating is a categorical judgement of an assistant message.
type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
	RatingNeutral  Rating = "neutral"
)

// Valid reports whether r is a known rating.
func (r Rating) Valid() bool {
	switch r {
	case RatingPositive, RatingNegative, RatingNeutral:
		return true
	}
	return false
}

// Score is a user rating of one assistant message.
type Score struct {
	MessageID      string
	ConversationID string
	Rating         Rating
	CreatedAt      time.Time
}

// ConversationStore persists conversations and their transcripts.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	// GetConversation returns ErrNotFound if the conversation doesn't exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// AppendTurn atomically appends to both transcripts and adds usage.
	AppendTurn(ctx context.Context, id string, turn *Turn) error
	// BindCollection sets the retrieval collection if none is bound yet and
	// returns the collection that is bound afterwards.
	BindCollection(ctx context.Context, id, collectionID string) (string, error)
	// SetTitle stores a generated title unless the user chose one.
	SetTitle(ctx context.Context, id, title string) error
	// RenameConversation stores a user-chosen title and locks it.
	RenameConversation(ctx context.Context, id, title string) error
}

// AttachmentStore exposes attachment records. The core only reads them.
type AttachmentStore interface {
	CreateAttachment(ctx context.Context, a *Attachment) error
	GetAttachment(ctx context.Context, id string) (*Attachment, error)
	GetAttachmentByKey(ctx context.Context, storageKey string) (*Attachment, error)
	UpdateAttachmentStatus(ctx context.Context, id string, status AttachmentStatus) error
}

// UsageStore records per-turn token usage.
type UsageStore interface {
	GetConversationUsage(ctx context.Context, conversationID string) ([]*TurnUsage, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// ScoreStore records ratings of assistant messages.
type ScoreStore interface {
	// SaveScore returns ErrNotFound if no persisted turn produced the message.
	SaveScore(ctx context.Context, score *Score) error
	GetScore(ctx context.Context, messageID string) (*Score, error)
}

// Store is everything the server persists.
type Store interface {
	ConversationStore
	AttachmentStore
	UsageStore
	ScoreStore
	Close() error
}
