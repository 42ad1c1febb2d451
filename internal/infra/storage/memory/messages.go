package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"campus-messaging/internal/domain/chat"
)

// ErrDuplicateMessage is returned when an insert reuses a stored id.
var ErrDuplicateMessage = errors.New("memory: duplicate message id")

// MessageRepository keeps messages in memory. Not suitable for production.
type MessageRepository struct {
	mu    sync.RWMutex
	items []chat.Message
	byID  map[string]struct{}
}

// NewMessageRepository builds an empty repository.
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{byID: make(map[string]struct{})}
}

// Query returns matching messages ordered by (SentAt, ID).
func (r *MessageRepository) Query(ctx context.Context, q chat.MessageQuery) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]chat.Message, 0)
	for _, m := range r.items {
		if q.Matches(m) {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()
	chat.SortMessages(out)
	return out, nil
}

// Insert appends m, assigning an id when it has none.
func (r *MessageRepository) Insert(ctx context.Context, m chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.SentAt = m.SentAt.UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.ID]; ok {
		return chat.Message{}, ErrDuplicateMessage
	}
	r.byID[m.ID] = struct{}{}
	r.items = append(r.items, m)
	return m, nil
}

// Len returns the number of stored messages.
func (r *MessageRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
