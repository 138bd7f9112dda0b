package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/apperrors"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/metrics"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/repository"
)

// Outbound realtime event names.
const (
	EventNewMessage            = "newMessage"
	EventMessageUpdated        = "messageUpdated"
	EventConversationDelivered = "conversationDelivered"
	EventUserStatusChanged     = "userStatusChanged"
)

// Broadcaster publishes an event to a conversation room.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// EventPublisher ships domain events to the event stream.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// PresenceChecker answers whether a user holds a connection on this instance.
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// RemotePresence answers for users connected to other instances.
type RemotePresence interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type Deps struct {
	Repo           repository.Repository
	Presence       PresenceChecker
	RemotePresence RemotePresence // optional
	Broadcaster    Broadcaster    // optional
	Events         EventPublisher // optional
	Logger         *zap.Logger
	Now            func() time.Time
}

// ChatService owns every write to messages and conversations. Both the REST
// API and the realtime channel go through it.
type ChatService struct {
	repo   repository.Repository
	pres   PresenceChecker
	remote RemotePresence
	bc     Broadcaster
	events EventPublisher
	log    *zap.Logger
	now    func() time.Time
}

func NewChatService(d Deps) *ChatService {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ChatService{
		repo:   d.Repo,
		pres:   d.Presence,
		remote: d.RemotePresence,
		bc:     d.Broadcaster,
		events: d.Events,
		log:    d.Logger,
		now:    d.Now,
	}
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", apperrors.ErrBadRequest, msg)
}

func notAllowed(actor, messageID string) error {
	return fmt.Errorf("%w: %s may not act on message %s", apperrors.ErrUnauthorized, actor, messageID)
}

func (s *ChatService) CreateConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, badRequest("senderId and receiverId are required")
	}
	if userA == userB {
		return nil, badRequest("a conversation needs two distinct users")
	}
	return s.repo.FindOrCreateConversation(ctx, userA, userB, s.now())
}

// ListConversations returns the user's conversations with lastMessage resolved.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, badRequest("userId is required")
	}
	convs, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		if c.LastMessageID != "" {
			ids = append(ids, c.LastMessageID)
		}
	}
	last, err := s.repo.GetMessagesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.View(last[c.LastMessageID]))
	}
	return out, nil
}

func (s *ChatService) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, badRequest("conversationId is required")
	}
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, conversationID)
}

// SaveMessage persists a new message with status sent and moves the
// conversation's lastMessage pointer to it. It is the only place messages are
// created.
func (s *ChatService) SaveMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	if in.ConversationID == "" || in.SenderID == "" || in.ReceiverID == "" {
		return nil, badRequest("conversationId, senderId and receiverId are required")
	}
	if in.SenderID == in.ReceiverID {
		return nil, badRequest("senderId and receiverId must differ")
	}
	if strings.TrimSpace(in.Text) == "" && in.Media == "" {
		return nil, badRequest("text or media is required")
	}

	conv, err := s.repo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(in.SenderID) || !conv.HasParticipant(in.ReceiverID) {
		return nil, badRequest("sender and receiver must be the conversation participants")
	}

	now := s.now()
	m := &domain.Message{
		ID:             newMessageID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Text:           in.Text,
		Media:          in.Media,
		Status:         domain.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	if _, err := s.repo.SetLastMessage(ctx, m, now); err != nil {
		return nil, fmt.Errorf("set last message: %w", err)
	}
	return m, nil
}

// SendMessage saves the message, marks it delivered right away when the
// receiver is connected, then notifies the conversation room.
func (s *ChatService) SendMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	m, err := s.SaveMessage(ctx, in)
	if err != nil {
		return nil, err
	}
	m, _ = s.deliverIfOnline(ctx, m)

	s.broadcast(ctx, m.ConversationID, EventNewMessage, m)
	s.emit(ctx, domain.Event{
		Type:           domain.EventMessageSent,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		UserID:         m.SenderID,
		Status:         m.Status,
		Message:        m,
		At:             s.now(),
	})
	return m, nil
}

// RelayMessage re-announces a message that is already stored, e.g. one
// persisted over REST before the client pushed it on its socket. A non-empty
// actor must be the message's sender.
func (s *ChatService) RelayMessage(ctx context.Context, messageID, actor string) (*domain.Message, error) {
	if messageID == "" {
		return nil, badRequest("message id is required")
	}
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if actor != "" && actor != m.SenderID {
		return nil, notAllowed(actor, m.ID)
	}
	moved, err := s.repo.SetLastMessage(ctx, m, s.now())
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		s.log.Warn("relayed message belongs to unknown conversation", zap.String("message_id", m.ID), zap.String("conversation_id", m.ConversationID))
	case err != nil:
		return nil, err
	case !moved:
		s.log.Debug("relayed message is older than lastMessage", zap.String("message_id", m.ID))
	}

	m, upgraded := s.deliverIfOnline(ctx, m)
	if upgraded {
		s.broadcast(ctx, m.ConversationID, EventMessageUpdated, m)
	}
	s.broadcast(ctx, m.ConversationID, EventNewMessage, m)
	return m, nil
}

// UpdateStatus advances a message's status. Writes that would move it
// backwards or keep it where it is return the message unchanged. A non-empty
// actor must be the message's receiver.
func (s *ChatService) UpdateStatus(ctx context.Context, messageID, status, actor string) (*domain.Message, error) {
	if messageID == "" {
		return nil, badRequest("messageId is required")
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if err := s.requireReceiver(ctx, messageID, actor); err != nil {
		return nil, err
	}
	m, _, err := s.advance(ctx, messageID, st)
	return m, err
}

// MarkRead is the per-message read acknowledgement. A non-empty actor must be
// the message's receiver.
func (s *ChatService) MarkRead(ctx context.Context, messageID, actor string) (*domain.Message, error) {
	if messageID == "" {
		return nil, badRequest("messageId is required")
	}
	if err := s.requireReceiver(ctx, messageID, actor); err != nil {
		return nil, err
	}
	m, _, err := s.advance(ctx, messageID, domain.StatusRead)
	return m, err
}

// requireReceiver is a no-op for an empty actor. Sender and receiver never
// change after insert, so the check does not race with the status write.
func (s *ChatService) requireReceiver(ctx context.Context, messageID, actor string) error {
	if actor == "" {
		return nil
	}
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.ReceiverID != actor {
		return notAllowed(actor, messageID)
	}
	return nil
}

// MarkConversationDelivered flips every sent message addressed to userID in
// the conversation to delivered and tells the room.
func (s *ChatService) MarkConversationDelivered(ctx context.Context, conversationID, userID string) (int64, error) {
	if conversationID == "" || userID == "" {
		return 0, badRequest("conversationId and userId are required")
	}
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return 0, err
	}
	now := s.now()
	n, err := s.repo.MarkDelivered(ctx, conversationID, userID, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.StatusTransitions.WithLabelValues(string(domain.StatusDelivered)).Add(float64(n))
		s.emit(ctx, domain.Event{
			Type:           domain.EventConversationDelivered,
			ConversationID: conversationID,
			UserID:         userID,
			Status:         domain.StatusDelivered,
			Count:          n,
			At:             now,
		})
	}
	s.broadcast(ctx, conversationID, EventConversationDelivered, map[string]string{"conversationId": conversationID})
	return n, nil
}

// IsOnline checks the local registry first, then the shared mirror if any.
func (s *ChatService) IsOnline(ctx context.Context, userID string) bool {
	if s.pres != nil && s.pres.IsOnline(userID) {
		return true
	}
	if s.remote == nil {
		return false
	}
	ok, err := s.remote.IsOnline(ctx, userID)
	if err != nil {
		s.log.Warn("remote presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

func (s *ChatService) advance(ctx context.Context, messageID string, st domain.Status) (*domain.Message, bool, error) {
	m, changed, err := s.repo.AdvanceStatus(ctx, messageID, st, s.now())
	if err != nil {
		return nil, false, err
	}
	if !changed {
		s.log.Debug("status write ignored", zap.String("message_id", messageID), zap.String("current", string(m.Status)), zap.String("requested", string(st)))
		return m, false, nil
	}
	metrics.StatusTransitions.WithLabelValues(string(st)).Inc()
	s.broadcast(ctx, m.ConversationID, EventMessageUpdated, m)
	s.emit(ctx, domain.Event{
		Type:           domain.EventMessageStatus,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Status:         m.Status,
		At:             m.UpdatedAt,
	})
	return m, true, nil
}

// deliverIfOnline upgrades a sent message to delivered when its receiver is
// connected. Failures leave the message as it was.
func (s *ChatService) deliverIfOnline(ctx context.Context, m *domain.Message) (*domain.Message, bool) {
	if m.Status != domain.StatusSent || !s.IsOnline(ctx, m.ReceiverID) {
		return m, false
	}
	upd, changed, err := s.repo.AdvanceStatus(ctx, m.ID, domain.StatusDelivered, s.now())
	if err != nil {
		s.log.Warn("presence delivery upgrade failed", zap.String("message_id", m.ID), zap.Error(err))
		return m, false
	}
	if changed {
		metrics.StatusTransitions.WithLabelValues(string(domain.StatusDelivered)).Inc()
	}
	return upd, changed
}

func (s *ChatService) broadcast(ctx context.Context, room, event string, payload any) {
	if s.bc == nil {
		return
	}
	if err := s.bc.Publish(ctx, room, event, payload); err != nil {
		s.log.Warn("broadcast failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

func (s *ChatService) emit(ctx context.Context, evt domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, evt.ConversationID, evt); err != nil {
		s.log.Warn("event publish failed", zap.String("type", evt.Type), zap.Error(err))
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
