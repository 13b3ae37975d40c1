// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/2389/parley/internal/transcript"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	attachments   map[string]*Attachment   // keyed by attachment ID
	usage         []*TurnUsage
	scores        map[string]*Score // keyed by message ID

	// AppendErr, when set, is returned by AppendTurn.
	AppendErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		attachments:   make(map[string]*Attachment),
		scores:        make(map[string]*Score),
	}
}

func copyConversation(c *Conversation) *Conversation {
	cp := *c
	cp.UIMessages = append([]transcript.UIMessage(nil), c.UIMessages...)
	cp.ModelMessages = append([]transcript.ModelMessage(nil), c.ModelMessages...)
	return &cp
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
		conv.UpdatedAt = conv.CreatedAt
	}
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// AppendTurn appends a turn to both transcripts.
func (m *MockStore) AppendTurn(ctx context.Context, id string, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.UIMessages = append(c.UIMessages, turn.UIMessages...)
	c.ModelMessages = append(c.ModelMessages, turn.ModelMessages...)
	c.UpdatedAt = time.Now()
	if turn.Usage != nil {
		c.PromptTokens += turn.Usage.InputTokens
		c.CompletionTokens += turn.Usage.OutputTokens
		u := *turn.Usage
		u.ConversationID = id
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now()
		}
		m.usage = append(m.usage, &u)
	}
	return nil
}

// BindCollection binds collectionID unless one is already bound.
func (m *MockStore) BindCollection(ctx context.Context, id, collectionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return "", ErrNotFound
	}
	if c.CollectionID == "" {
		c.CollectionID = collectionID
	}
	return c.CollectionID, nil
}

// SetTitle stores a generated title unless the title is locked.
func (m *MockStore) SetTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conversations[id]; ok && !c.TitleLocked {
		c.Title = title
	}
	return nil
}

// RenameConversation stores a user-chosen title and locks it.
func (m *MockStore) RenameConversation(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	c.TitleLocked = true
	return nil
}

// CreateAttachment stores an attachment record.
func (m *MockStore) CreateAttachment(ctx context.Context, a *Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Status == "" {
		a.Status = AttachmentPending
	}
	cp := *a
	m.attachments[a.ID] = &cp
	return nil
}

// GetAttachment retrieves an attachment by ID.
func (m *MockStore) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attachments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAttachmentByKey retrieves an attachment by storage key.
func (m *MockStore) GetAttachmentByKey(ctx context.Context, storageKey string) (*Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.attachments {
		if a.StorageKey == storageKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateAttachmentStatus records a scan outcome.
func (m *MockStore) UpdateAttachmentStatus(ctx context.Context, id string, status AttachmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attachments[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	return nil
}

// GetConversationUsage returns the usage records of a conversation.
func (m *MockStore) GetConversationUsage(ctx context.Context, conversationID string) ([]*TurnUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TurnUsage
	for _, u := range m.usage {
		if u.ConversationID == conversationID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetUsageStats aggregates usage records.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	for _, u := range m.usage {
		if filter.ConversationID != nil && u.ConversationID != *filter.ConversationID {
			continue
		}
		if filter.Model != nil && u.Model != *filter.Model {
			continue
		}
		if filter.Since != nil && u.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !u.CreatedAt.Before(*filter.Until) {
			continue
		}
		stats.TotalInput += int64(u.InputTokens)
		stats.TotalOutput += int64(u.OutputTokens)
		stats.RequestCount += int64(u.Requests)
		stats.TurnCount++
	}
	stats.TotalTokens = stats.TotalInput + stats.TotalOutput
	return &stats, nil
}

// SaveScore records a rating for a message produced by a stored turn.
func (m *MockStore) SaveScore(ctx context.Context, score *Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !score.Rating.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRating, score.Rating)
	}
	for _, u := range m.usage {
		if u.MessageID == score.MessageID {
			cp := *score
			cp.ConversationID = u.ConversationID
			m.scores[score.MessageID] = &cp
			return nil
		}
	}
	return ErrNotFound
}

// GetScore returns the rating of a message.
func (m *MockStore) GetScore(ctx context.Context, messageID string) (*Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scores[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
