package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"campus-messaging/internal/app/composer"
	"campus-messaging/internal/app/inbox"
	"campus-messaging/internal/app/messenger"
	"campus-messaging/internal/domain/chat"
)

// ChatHTTP exposes the request/response chat endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
}

// ChatHandler serves one-shot reads and writes against the message store.
type ChatHandler struct {
	Store      chat.MessageStore
	Aggregator inbox.Aggregator
	Now        func() time.Time
	Logger     *slog.Logger
}

// ListConversations returns the viewer's conversation list.
func (h ChatHandler) ListConversations(c *gin.Context) {
	viewer, ok := requireViewer(c)
	if !ok {
		return
	}
	conversations, err := inbox.List(c.Request.Context(), h.Store, h.Aggregator, viewer)
	if err != nil {
		respondChatError(c, h.Logger, err, "list conversations", "viewer", viewer)
		return
	}
	c.JSON(http.StatusOK, conversationList{Items: toConversationDTOs(conversations)})
}

// ListMessages returns the thread history ordered by send time.
func (h ChatHandler) ListMessages(c *gin.Context) {
	viewer, ok := requireViewer(c)
	if !ok {
		return
	}
	key, err := threadKeyParam(c, viewer)
	if err != nil {
		respondChatError(c, h.Logger, err, "list messages", "viewer", viewer)
		return
	}
	messages, err := h.Store.QueryMessages(c.Request.Context(), chat.ThreadQuery(key, viewer))
	if err != nil {
		respondChatError(c, h.Logger, &chat.StoreQueryError{Op: "history", Err: err}, "list messages", "viewer", viewer, "thread", key.String())
		return
	}
	c.JSON(http.StatusOK, messageList{Items: toMessageDTOs(messages)})
}

// SendMessage stores a message from the viewer to the thread counterpart.
func (h ChatHandler) SendMessage(c *gin.Context) {
	viewer, ok := requireViewer(c)
	if !ok {
		return
	}
	key, err := threadKeyParam(c, viewer)
	if err != nil {
		respondChatError(c, h.Logger, err, "send message", "viewer", viewer)
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	stored, err := composer.New(h.Store, viewer, key, h.Now, h.Logger).Send(c.Request.Context(), req.Body)
	if err != nil {
		respondChatError(c, h.Logger, err, "send message", "viewer", viewer, "thread", key.String())
		return
	}
	c.JSON(http.StatusCreated, toMessageDTO(stored))
}

func threadKeyParam(c *gin.Context, viewer string) (chat.ThreadKey, error) {
	key := chat.ThreadKey{
		ListingID:     strings.TrimSpace(c.Param("listing_id")),
		CounterpartID: strings.TrimSpace(c.Param("peer_id")),
	}
	return key, validateKey(key, viewer)
}

func validateKey(key chat.ThreadKey, viewer string) error {
	if key.ListingID == "" || key.CounterpartID == "" {
		return &chat.ValidationError{Err: chat.ErrMissingParty}
	}
	if key.CounterpartID == viewer {
		return &chat.ValidationError{Err: chat.ErrSelfChat}
	}
	return nil
}

// classifyError maps the chat error taxonomy onto an HTTP status and a stable
// code shared by REST responses and WebSocket error frames.
func classifyError(err error) (int, string) {
	var (
		writeErr *chat.StoreWriteError
		queryErr *chat.StoreQueryError
		subErr   *chat.SubscriptionError
	)
	switch {
	case chat.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, chat.ErrSendInProgress):
		return http.StatusConflict, "send_in_progress"
	case errors.Is(err, messenger.ErrThreadNotOpen):
		return http.StatusConflict, "thread_not_open"
	case errors.As(err, &writeErr):
		return http.StatusBadGateway, "store_write"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.As(err, &queryErr):
		return http.StatusBadGateway, "store_query"
	case errors.As(err, &subErr):
		return http.StatusServiceUnavailable, "subscription"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondChatError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	status, code := classifyError(err)
	if logger != nil && status >= http.StatusInternalServerError {
		logger.Error("chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	message := "messaging unavailable"
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}

var _ ChatHTTP = ChatHandler{}
