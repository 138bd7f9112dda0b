package domain

import "time"

const (
	EventMessageSent           = "message.sent"
	EventMessageStatus         = "message.status"
	EventConversationDelivered = "conversation.delivered"
)

// Event is the record published to the event stream after a store mutation.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Status         Status    `json:"status,omitempty"`
	Count          int64     `json:"count,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	At             time.Time `json:"at"`
}
