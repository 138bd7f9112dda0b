package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/apperrors"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
)

var ErrNotFound = fmt.Errorf("record %w", apperrors.ErrNotFound)

type MessageStore interface {
	InsertMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	GetMessagesByIDs(ctx context.Context, ids []string) (map[string]*domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
	// AdvanceStatus moves the message to status only when its current status is
	// lower. It returns the message as stored afterwards and whether it changed.
	AdvanceStatus(ctx context.Context, id string, status domain.Status, at time.Time) (*domain.Message, bool, error)
	// MarkDelivered flips every sent message addressed to receiverID in the conversation.
	MarkDelivered(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error)
}

type ConversationStore interface {
	// FindOrCreateConversation is atomic per unordered pair.
	FindOrCreateConversation(ctx context.Context, userA, userB string, at time.Time) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)
	// SetLastMessage points the conversation at m unless it already points at
	// a newer message. It reports whether the pointer moved.
	SetLastMessage(ctx context.Context, m *domain.Message, at time.Time) (bool, error)
}

type Repository interface {
	MessageStore
	ConversationStore
}
