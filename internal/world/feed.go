package world

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const feedWriteTimeout = time.Second

// Feed streams chat messages to websocket subscribers as JSON text frames.
// Wire it to a Memory world with mem.OnChat(feed.Publish).
type Feed struct {
	mu          sync.Mutex
	subscribers map[*feedSubscriber]struct{}
	closed      bool
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

type feedSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *feedSubscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewFeed creates a feed with no subscribers.
func NewFeed(logger *zap.Logger) *Feed {
	return &Feed{
		subscribers: make(map[*feedSubscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and keeps the subscriber registered until
// the connection drops.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("chat feed upgrade failed", zap.Error(err))
		return
	}

	sub := &feedSubscriber{conn: conn}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed")
		_ = conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()

	f.logger.Debug("chat feed subscriber joined", zap.String("remote", r.RemoteAddr))

	// The feed is one-way; reading only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.drop(sub)
}

// Publish sends a message to every subscriber. Subscribers that fail to
// accept the write are dropped.
func (f *Feed) Publish(msg ChatMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("failed to encode chat message", zap.Error(err))
		return
	}

	f.mu.Lock()
	subs := make([]*feedSubscriber, 0, len(f.subscribers))
	for sub := range f.subscribers {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			f.logger.Debug("dropping chat feed subscriber", zap.Error(err))
			f.drop(sub)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Close disconnects every subscriber and refuses new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	subs := f.subscribers
	f.subscribers = make(map[*feedSubscriber]struct{})
	f.mu.Unlock()

	for sub := range subs {
		sub.conn.Close()
	}
}

func (f *Feed) drop(sub *feedSubscriber) {
	f.mu.Lock()
	_, ok := f.subscribers[sub]
	delete(f.subscribers, sub)
	f.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}
