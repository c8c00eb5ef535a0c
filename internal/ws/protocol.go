package ws

import "zchat/internal/pubsub"

// Frame types exchanged on the subscription socket.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameEvent       = "event"
	FrameComplete    = "complete"
	FrameError       = "error"
)

// ClientFrame is sent by clients. ConversationID is required for the
// message topics.
type ClientFrame struct {
	Type           string       `json:"type"`
	ID             string       `json:"id"`
	Topic          pubsub.Topic `json:"topic,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
}

// ServerFrame is sent by the gateway. ID names the subscription the frame
// belongs to; it is empty for connection-level errors.
type ServerFrame struct {
	Type    string        `json:"type"`
	ID      string        `json:"id,omitempty"`
	Topic   pubsub.Topic  `json:"topic,omitempty"`
	Payload *pubsub.Event `json:"payload,omitempty"`
	Message string        `json:"message,omitempty"`
}
