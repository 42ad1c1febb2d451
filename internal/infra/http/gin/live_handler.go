package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campus-messaging/internal/app/feed"
	"campus-messaging/internal/app/inbox"
	"campus-messaging/internal/app/messenger"
	"campus-messaging/internal/domain/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 8 * 1024
	outboundBuffer = 32
)

// LiveHTTP exposes the WebSocket session endpoint.
type LiveHTTP interface {
	Serve(c *gin.Context)
}

// LiveHandler upgrades a request into a session driven by a messenger.View.
type LiveHandler struct {
	Store          chat.MessageStore
	Aggregator     inbox.Aggregator
	Feed           feed.Options
	Now            func() time.Time
	AllowedOrigins []string
	Logger         *slog.Logger
}

type clientFrame struct {
	Type      string `json:"type"`
	ListingID string `json:"listing_id"`
	PeerID    string `json:"peer_id"`
	Body      string `json:"body"`
}

type serverFrame struct {
	Type          string            `json:"type"`
	ListingID     string            `json:"listing_id,omitempty"`
	PeerID        string            `json:"peer_id,omitempty"`
	State         string            `json:"state,omitempty"`
	Entries       []messageDTO      `json:"entries,omitempty"`
	Conversations []conversationDTO `json:"conversations,omitempty"`
	Stale         bool              `json:"stale,omitempty"`
	Code          string            `json:"code,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Serve runs one session until the client disconnects. Every subscription the
// session opened is released on return.
func (h LiveHandler) Serve(c *gin.Context) {
	viewer, ok := requireViewer(c)
	if !ok {
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", "viewer", viewer, "error", err)
		}
		return
	}
	view, err := messenger.NewView(h.Store, h.Aggregator, viewer, messenger.Options{Feed: h.Feed, Now: h.Now, Logger: h.Logger})
	if err != nil {
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &liveSession{
		conn:     conn,
		view:     view,
		out:      make(chan serverFrame, outboundBuffer),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[chat.ThreadKey]context.CancelFunc),
		logger:   h.Logger,
	}
	if h.Logger != nil {
		h.Logger.Info("live session opened", "viewer", viewer)
	}
	defer func() {
		cancel()
		view.Close()
		_ = conn.Close()
		if h.Logger != nil {
			h.Logger.Info("live session closed", "viewer", viewer)
		}
	}()

	go s.writePump()
	if err := view.Start(ctx); err != nil {
		s.sendError(err)
	}
	go s.watchInbox()
	s.readPump()
}

func (h LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type liveSession struct {
	conn   *websocket.Conn
	view   *messenger.View
	out    chan serverFrame
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[chat.ThreadKey]context.CancelFunc
}

func (s *liveSession) readPump() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.logger != nil {
				s.logger.Warn("websocket read failed", "viewer", s.view.Viewer(), "error", err)
			}
			return
		}
		s.handle(frame)
	}
}

func (s *liveSession) handle(frame clientFrame) {
	key := chat.ThreadKey{ListingID: strings.TrimSpace(frame.ListingID), CounterpartID: strings.TrimSpace(frame.PeerID)}
	switch frame.Type {
	case "open":
		th, err := s.view.Select(s.ctx, key)
		if th == nil {
			s.sendError(err)
			return
		}
		s.watchThread(th)
		s.send(threadFrame(th.Feed.Snapshot()))
	case "close":
		s.stopWatching(key)
		s.view.Deselect(key)
	case "send":
		if _, err := s.view.Send(s.ctx, key, frame.Body); err != nil {
			s.sendError(err)
		}
	default:
		s.send(serverFrame{Type: "error", Code: "unknown_frame", Error: "unknown frame type " + frame.Type})
	}
}

func (s *liveSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.cancel()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

func (s *liveSession) watchInbox() {
	in := s.view.Inbox()
	s.send(inboxFrame(in))
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-in.Changes():
			s.send(inboxFrame(in))
		}
	}
}

func (s *liveSession) watchThread(th *messenger.Thread) {
	s.mu.Lock()
	if _, ok := s.watchers[th.Key]; ok {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.watchers[th.Key] = cancel
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-th.Feed.Changes():
				s.send(threadFrame(th.Feed.Snapshot()))
			}
		}
	}()
}

func (s *liveSession) stopWatching(key chat.ThreadKey) {
	s.mu.Lock()
	cancel, ok := s.watchers[key]
	delete(s.watchers, key)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *liveSession) send(frame serverFrame) {
	select {
	case s.out <- frame:
	case <-s.ctx.Done():
	}
}

func (s *liveSession) sendError(err error) {
	if err == nil {
		return
	}
	_, code := classifyError(err)
	s.send(serverFrame{Type: "error", Code: code, Error: err.Error()})
}

func threadFrame(snap feed.Snapshot) serverFrame {
	frame := serverFrame{
		Type:      "thread",
		ListingID: snap.Key.ListingID,
		PeerID:    snap.Key.CounterpartID,
		State:     snap.State.String(),
		Entries:   toMessageDTOs(snap.Entries),
	}
	if snap.Err != nil {
		_, frame.Code = classifyError(snap.Err)
		frame.Error = snap.Err.Error()
	}
	return frame
}

func inboxFrame(in *inbox.Inbox) serverFrame {
	frame := serverFrame{
		Type:          "inbox",
		Conversations: toConversationDTOs(in.Conversations()),
		Stale:         in.Stale(),
	}
	if err := in.Err(); err != nil {
		_, frame.Code = classifyError(err)
		frame.Error = err.Error()
	}
	return frame
}

var _ LiveHTTP = LiveHandler{}
