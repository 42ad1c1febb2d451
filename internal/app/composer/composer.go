package composer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"campus-messaging/internal/domain/chat"
)

// Composer sends messages into one thread on behalf of a fixed viewer. It never
// touches the thread's feed: the stored row reaches the feed through the
// store's subscription like any other message.
type Composer struct {
	store  chat.MessageStore
	viewer string
	key    chat.ThreadKey
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	draft   string
	sending bool
}

// New builds a composer for viewer writing to the thread key. now may be nil.
func New(store chat.MessageStore, viewer string, key chat.ThreadKey, now func() time.Time, logger *slog.Logger) *Composer {
	if now == nil {
		now = time.Now
	}
	return &Composer{store: store, viewer: viewer, key: key, now: now, logger: logger}
}

// Send validates body, stores it and returns the stored message. Invalid input is
// rejected with a *chat.ValidationError before any store call; a failed insert
// returns a *chat.StoreWriteError and keeps body as the draft for a retry.
func (c *Composer) Send(ctx context.Context, body string) (chat.Message, error) {
	trimmed := strings.TrimSpace(body)
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return chat.Message{}, chat.ErrSendInProgress
	}
	c.draft = body
	if err := c.validate(trimmed); err != nil {
		c.mu.Unlock()
		return chat.Message{}, err
	}
	c.sending = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	stored, err := c.store.InsertMessage(ctx, chat.Message{
		SenderID:   c.viewer,
		ReceiverID: c.key.CounterpartID,
		ListingID:  c.key.ListingID,
		Body:       trimmed,
		SentAt:     c.now().UTC(),
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("send message failed", "thread", c.key.String(), "viewer", c.viewer, "error", err)
		}
		return chat.Message{}, &chat.StoreWriteError{Err: err}
	}

	c.mu.Lock()
	if c.draft == body {
		c.draft = ""
	}
	c.mu.Unlock()
	return stored, nil
}

// Draft returns the text currently held by the composer.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft replaces the held text.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// Sending reports whether an insert is in flight.
func (c *Composer) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

func (c *Composer) validate(body string) error {
	if body == "" {
		return &chat.ValidationError{Err: chat.ErrEmptyBody}
	}
	if c.viewer == "" || c.key.CounterpartID == "" || c.key.ListingID == "" {
		return &chat.ValidationError{Err: chat.ErrMissingParty}
	}
	if c.key.CounterpartID == c.viewer {
		return &chat.ValidationError{Err: chat.ErrSelfChat}
	}
	return nil
}
