package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zchat/internal/pubsub"
	"zchat/internal/ws"
)

const (
	dialTimeout = 10 * time.Second
	writeWait   = 10 * time.Second
)

// Conn is a subscription socket whose events are applied to a Cache.
type Conn struct {
	sock   *websocket.Conn
	cache  *Cache
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   map[string]pubsub.Topic
	failed map[string]string
}

// Dial connects to the gateway at url (ws:// or wss://) with a bearer token.
func Dial(ctx context.Context, url, token string, cache *Cache, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return &Conn{
		sock:   conn,
		cache:  cache,
		logger: logger,
		subs:   make(map[string]pubsub.Topic),
		failed: make(map[string]string),
	}, nil
}

// Subscribe opens a subscription and returns its id. conversationID is
// required for the message topics and ignored otherwise.
func (c *Conn) Subscribe(topic pubsub.Topic, conversationID string) (string, error) {
	c.mu.Lock()
	c.nextID++
	id := strconv.Itoa(c.nextID)
	c.subs[id] = topic
	c.mu.Unlock()

	frame := ws.ClientFrame{Type: ws.FrameSubscribe, ID: id, Topic: topic}
	if topic.ConversationScoped() {
		frame.ConversationID = conversationID
	}
	if err := c.write(frame); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

// SubscribeConversations opens the three conversation-list topics.
func (c *Conn) SubscribeConversations() error {
	for _, topic := range []pubsub.Topic{
		pubsub.TopicConversationCreated,
		pubsub.TopicConversationUpdated,
		pubsub.TopicConversationDeleted,
	} {
		if _, err := c.Subscribe(topic, ""); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) Unsubscribe(id string) error {
	return c.write(ws.ClientFrame{Type: ws.FrameUnsubscribe, ID: id})
}

// Active reports whether subscription id is still open.
func (c *Conn) Active(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	return ok
}

// Failure returns the error message the gateway sent for id, if any.
func (c *Conn) Failure(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.failed[id]
	return msg, ok
}

// Run reads frames until ctx ends or the socket fails.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.sock.Close() })
	defer stop()

	for {
		var frame ws.ServerFrame
		if err := c.sock.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.handle(frame)
	}
}

func (c *Conn) handle(frame ws.ServerFrame) {
	switch frame.Type {
	case ws.FrameEvent:
		if frame.Payload == nil {
			return
		}
		c.cache.Apply(*frame.Payload)
	case ws.FrameComplete:
		c.mu.Lock()
		delete(c.subs, frame.ID)
		c.mu.Unlock()
	case ws.FrameError:
		c.mu.Lock()
		if frame.ID != "" {
			delete(c.subs, frame.ID)
			c.failed[frame.ID] = frame.Message
		}
		c.mu.Unlock()
		c.logger.Warn("gateway error",
			slog.String("subscription", frame.ID),
			slog.String("message", frame.Message),
		)
	}
}

func (c *Conn) write(frame ws.ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteJSON(frame)
}

// Close sends a normal close frame and releases the socket.
func (c *Conn) Close() error {
	_ = c.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.sock.Close()
}
