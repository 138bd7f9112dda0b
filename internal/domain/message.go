package domain

import "time"

type Message struct {
	ID             string    `bson:"_id" json:"_id"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	SenderID       string    `bson:"sender" json:"sender"`
	ReceiverID     string    `bson:"receiver" json:"receiver"`
	Text           string    `bson:"text,omitempty" json:"text,omitempty"`
	Media          string    `bson:"media,omitempty" json:"media,omitempty"`
	Status         Status    `bson:"status" json:"status"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updatedAt"`
}

// OrderKey is the position of a message in listing order (createdAt, then
// _id). Times are kept at millisecond precision, which is what Mongo stores.
func OrderKey(m *Message) (time.Time, string) {
	return m.CreatedAt.Truncate(time.Millisecond), m.ID
}

// NotOlder reports whether position (at, id) sorts at or after (curAt, curID).
func NotOlder(at time.Time, id string, curAt time.Time, curID string) bool {
	if !at.Equal(curAt) {
		return at.After(curAt)
	}
	return id >= curID
}

// NewMessage holds the fields a caller supplies when sending.
type NewMessage struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Text           string
	Media          string
}
