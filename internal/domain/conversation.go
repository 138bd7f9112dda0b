package domain

import (
	"sort"
	"time"
)

type Conversation struct {
	ID            string    `bson:"_id" json:"_id"`
	Participants  []string  `bson:"participants" json:"participants"`
	PairKey       string    `bson:"pair_key" json:"-"`
	LastMessageID string    `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	LastMessageAt time.Time `bson:"last_message_at,omitempty" json:"-"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}

// ConversationView is a Conversation with its last message resolved.
type ConversationView struct {
	ID           string    `json:"_id"`
	Participants []string  `json:"participants"`
	LastMessage  *Message  `json:"lastMessage"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (c *Conversation) View(last *Message) ConversationView {
	return ConversationView{
		ID:           c.ID,
		Participants: c.Participants,
		LastMessage:  last,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// HasParticipant reports whether userID is one of the two members.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// PairKey returns the order-insensitive key of a participant pair.
func PairKey(a, b string) string {
	p := SortedPair(a, b)
	return p[0] + "|" + p[1]
}

func SortedPair(a, b string) []string {
	p := []string{a, b}
	sort.Strings(p)
	return p
}
