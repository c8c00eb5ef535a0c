package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"zchat/internal/domain"
	"zchat/internal/pubsub"
	"zchat/internal/security"
)

// Subscriber opens filtered subscriptions on the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, topic pubsub.Topic, filter pubsub.Filter) (*pubsub.Subscription, error)
}

// Authenticator resolves a bearer token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Membership reports current conversation membership.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Gateway upgrades authenticated requests to websocket sessions and bridges
// client subscriptions to the bus.
type Gateway struct {
	bus      Subscriber
	auth     Authenticator
	members  Membership
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewGateway(bus Subscriber, auth Authenticator, members Membership, hub *Hub, allowedOrigins []string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Gateway{
		bus:     bus,
		auth:    auth,
		members: members,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     makeCheckOrigin(allowedOrigins),
			Subprotocols:    []string{"bearer"},
		},
	}
}

func (g *Gateway) Hub() *Hub {
	return g.hub
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.upgrader.CheckOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	token := extractToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	user, err := g.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := NewConnection(user.ID, wsConn)
	g.hub.Register(conn)
	conn.Start()

	// The request context ends with the handler; sessions outlive it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s := &session{
		gw:     g,
		conn:   conn,
		userID: user.ID,
		ctx:    ctx,
		subs:   make(map[string]*activeSub),
		logger: g.logger.With(slog.String("user_id", user.ID), slog.String("conn_id", conn.ID)),
	}
	s.logger.Debug("websocket connected")

	go func() {
		defer func() {
			cancel()
			g.hub.Unregister(conn)
			conn.Close(websocket.CloseNormalClosure, "")
			s.logger.Debug("websocket disconnected")
		}()
		if err := s.watchMembership(); err != nil {
			s.logger.Warn("membership watch failed", slog.String("error", err.Error()))
			return
		}
		go func() {
			<-conn.Done()
			cancel()
		}()
		if err := conn.readFrames(s.handle); err != nil &&
			websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			s.logger.Debug("websocket read ended", slog.String("error", err.Error()))
		}
	}()
}

type activeSub struct {
	sub            *pubsub.Subscription
	conversationID string
}

type session struct {
	gw     *Gateway
	conn   *Connection
	userID string
	ctx    context.Context
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*activeSub
}

func (s *session) handle(frame ClientFrame) {
	switch frame.Type {
	case FrameSubscribe:
		if err := s.subscribe(frame); err != nil {
			_ = s.conn.Send(ServerFrame{Type: FrameError, ID: frame.ID, Message: err.Error()})
		}
	case FrameUnsubscribe:
		s.mu.Lock()
		active, ok := s.subs[frame.ID]
		s.mu.Unlock()
		if !ok {
			_ = s.conn.Send(ServerFrame{Type: FrameError, ID: frame.ID, Message: "unknown subscription"})
			return
		}
		active.sub.Close()
	default:
		_ = s.conn.Send(ServerFrame{Type: FrameError, ID: frame.ID, Message: "unknown frame type"})
	}
}

func (s *session) subscribe(frame ClientFrame) error {
	if frame.ID == "" {
		return errors.New("subscription id required")
	}
	if !frame.Topic.Valid() {
		return errors.New("unknown topic")
	}
	convID := ""
	if frame.Topic.ConversationScoped() {
		if frame.ConversationID == "" {
			return errors.New("conversation_id required")
		}
		ok, err := s.gw.members.IsParticipant(s.ctx, frame.ConversationID, s.userID)
		if err != nil {
			s.logger.Error("membership check failed", slog.String("error", err.Error()))
			return errors.New("internal error")
		}
		if !ok {
			return errors.New("not a participant")
		}
		convID = frame.ConversationID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[frame.ID]; exists {
		return errors.New("subscription id already in use")
	}
	sub, err := s.gw.bus.Subscribe(s.ctx, frame.Topic, pubsub.ForTopic(frame.Topic, s.userID, convID))
	if err != nil {
		return errors.New("subscription unavailable")
	}
	active := &activeSub{sub: sub, conversationID: convID}
	s.subs[frame.ID] = active
	go s.forward(frame.ID, active)
	return nil
}

func (s *session) forward(id string, active *activeSub) {
	topic := active.sub.Topic()
	for ev := range active.sub.C() {
		if err := s.conn.Send(ServerFrame{Type: FrameEvent, ID: id, Topic: topic, Payload: &ev}); err != nil {
			active.sub.Close()
		}
	}

	s.mu.Lock()
	if s.subs[id] == active {
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if errors.Is(active.sub.Err(), pubsub.ErrSlowConsumer) {
		_ = s.conn.Send(ServerFrame{Type: FrameError, ID: id, Message: "subscription dropped: too slow"})
		return
	}
	_ = s.conn.Send(ServerFrame{Type: FrameComplete, ID: id})
}

// watchMembership ends message subscriptions of conversations the user
// leaves or that are deleted.
func (s *session) watchMembership() error {
	removed, err := s.gw.bus.Subscribe(s.ctx, pubsub.TopicConversationUpdated, func(ev pubsub.Event) bool {
		for _, id := range ev.RemovedUserIDs {
			if id == s.userID {
				return true
			}
		}
		return false
	})
	if err != nil {
		return err
	}
	deleted, err := s.gw.bus.Subscribe(s.ctx, pubsub.TopicConversationDeleted, pubsub.ConversationDeletedFor(s.userID))
	if err != nil {
		removed.Close()
		return err
	}
	for _, sub := range []*pubsub.Subscription{removed, deleted} {
		go func(sub *pubsub.Subscription) {
			for ev := range sub.C() {
				s.revoke(ev.ConversationID())
			}
			if errors.Is(sub.Err(), pubsub.ErrSlowConsumer) {
				s.conn.Close(websocket.CloseTryAgainLater, "membership watch dropped")
			}
		}(sub)
	}
	return nil
}

func (s *session) revoke(conversationID string) {
	s.mu.Lock()
	var victims []*activeSub
	for _, active := range s.subs {
		if active.conversationID == conversationID {
			victims = append(victims, active)
		}
	}
	s.mu.Unlock()

	for _, active := range victims {
		active.sub.Close()
	}
}

func extractToken(r *http.Request) string {
	if token, err := security.BearerToken(r.Header.Get("Authorization")); err == nil {
		return token
	}
	// Browsers cannot set headers on the upgrade request, so the token may
	// ride in the subprotocol list as "bearer, <token>".
	parts := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	if len(parts) == 2 && strings.TrimSpace(parts[0]) == "bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func makeCheckOrigin(allowed []string) func(*http.Request) bool {
	normalized := normalizeOrigins(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := normalized["*"]; ok {
			return true
		}
		_, ok := normalized[normalizeOrigin(origin)]
		return ok
	}
}

func normalizeOrigins(origins []string) map[string]struct{} {
	out := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			out["*"] = struct{}{}
			continue
		}
		if n := normalizeOrigin(o); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func normalizeOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
