package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/apperrors"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/hub"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/metrics"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/presence"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/service"
)

// Inbound realtime event names.
const (
	EventUserOnline                = "userOnline"
	EventCheckUserStatus           = "checkUserStatus"
	EventJoinConversation          = "joinConversation"
	EventLeaveConversation         = "leaveConversation"
	EventSendMessage               = "sendMessage"
	EventMessageRead               = "messageRead"
	EventMarkConversationDelivered = "markConversationDelivered"
)

type ChatService interface {
	SendMessage(ctx context.Context, in domain.NewMessage) (*domain.Message, error)
	RelayMessage(ctx context.Context, messageID, actor string) (*domain.Message, error)
	MarkRead(ctx context.Context, messageID, actor string) (*domain.Message, error)
	MarkConversationDelivered(ctx context.Context, conversationID, userID string) (int64, error)
	IsOnline(ctx context.Context, userID string) bool
}

type Registry interface {
	MarkOnline(userID, handle string)
	MarkOffline(handle string) string
}

// PresenceToucher keeps a shared presence entry alive while the connection is active.
type PresenceToucher interface {
	Touch(ctx context.Context, userID, handle string) error
}

// Session is one connection's view: its hub client plus the user the auth
// layer vouched for, if any.
type Session struct {
	Client     *hub.Client
	AuthUserID string
}

type Dispatcher struct {
	hub     *hub.Hub
	chat    ChatService
	reg     Registry
	toucher PresenceToucher
	log     *zap.Logger
	timeout time.Duration
}

func NewDispatcher(h *hub.Hub, chat ChatService, reg Registry, log *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{hub: h, chat: chat, reg: reg, log: log, timeout: timeout}
}

// WithToucher is optional; set before serving connections.
func (d *Dispatcher) WithToucher(t PresenceToucher) *Dispatcher {
	d.toucher = t
	return d
}

func (d *Dispatcher) Connect(s *Session) {
	d.hub.Register(s.Client)
}

// Disconnect releases the connection's presence entry and room memberships.
func (d *Dispatcher) Disconnect(s *Session) {
	if user := d.reg.MarkOffline(s.Client.ID); user != "" {
		d.log.Debug("user offline", zap.String("user_id", user), zap.String("conn_id", s.Client.ID))
	}
	d.hub.Unregister(s.Client)
}

// Handle processes one inbound event. Failures are logged and never
// propagate to the connection.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, env hub.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.dispatch(ctx, s, env)
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		result = "not_found"
		d.log.Debug("realtime event target not found", zap.String("event", env.Event), zap.Error(err))
	case errors.Is(err, apperrors.ErrBadRequest), errors.Is(err, apperrors.ErrUnauthorized):
		result = "rejected"
		d.log.Warn("dropping realtime event", zap.String("event", env.Event), zap.String("conn_id", s.Client.ID), zap.Error(err))
	default:
		result = "error"
		d.log.Error("realtime event failed", zap.String("event", env.Event), zap.String("conn_id", s.Client.ID), zap.Error(err))
	}
	metrics.WSEvents.WithLabelValues(env.Event, result).Inc()
	d.Heartbeat(ctx, s)
}

// Heartbeat refreshes the shared presence entry of the session's user.
func (d *Dispatcher) Heartbeat(ctx context.Context, s *Session) {
	if d.toucher == nil {
		return
	}
	user := s.Client.UserID()
	if user == "" {
		return
	}
	if err := d.toucher.Touch(ctx, user, s.Client.ID); err != nil {
		d.log.Debug("presence touch failed", zap.String("user_id", user), zap.Error(err))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Session, env hub.Envelope) error {
	switch env.Event {
	case EventUserOnline:
		return d.userOnline(s, env.Data)
	case EventCheckUserStatus:
		return d.checkUserStatus(ctx, s, env)
	case EventJoinConversation:
		id, err := decodeID(env.Data, "conversationId")
		if err != nil {
			return badPayload(err)
		}
		d.hub.Join(id, s.Client)
		return nil
	case EventLeaveConversation:
		id, err := decodeID(env.Data, "conversationId")
		if err != nil {
			return badPayload(err)
		}
		d.hub.Leave(id, s.Client)
		return nil
	case EventSendMessage:
		return d.sendMessage(ctx, s, env.Data)
	case EventMessageRead:
		var p readPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return badPayload(err)
		}
		_, err := d.chat.MarkRead(ctx, p.MessageID, s.AuthUserID)
		return err
	case EventMarkConversationDelivered:
		var p deliveredPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return badPayload(err)
		}
		if err := d.checkActor(s, p.UserID); err != nil {
			return err
		}
		_, err := d.chat.MarkConversationDelivered(ctx, p.ConversationID, p.UserID)
		return err
	default:
		return fmt.Errorf("%w: unknown event %q", apperrors.ErrBadRequest, env.Event)
	}
}

func (d *Dispatcher) userOnline(s *Session, data json.RawMessage) error {
	userID, err := decodeID(data, "userId")
	if err != nil {
		return badPayload(err)
	}
	if err := d.checkActor(s, userID); err != nil {
		return err
	}
	s.Client.SetUserID(userID)
	d.reg.MarkOnline(userID, s.Client.ID)
	return nil
}

func (d *Dispatcher) checkUserStatus(ctx context.Context, s *Session, env hub.Envelope) error {
	userID, err := decodeID(env.Data, "userId")
	if err != nil {
		return badPayload(err)
	}
	return d.hub.SendTo(s.Client, EventCheckUserStatus, env.Ack, presenceStatus{
		UserID:   userID,
		IsOnline: d.chat.IsOnline(ctx, userID),
	})
}

func (d *Dispatcher) sendMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return badPayload(err)
	}
	if id := firstNonEmpty(p.ID, p.MessageID); id != "" {
		_, err := d.chat.RelayMessage(ctx, id, s.AuthUserID)
		return err
	}

	in := domain.NewMessage{
		ConversationID: string(p.ConversationID),
		SenderID:       firstNonEmpty(p.SenderID, p.Sender),
		ReceiverID:     firstNonEmpty(p.ReceiverID, p.Receiver),
		Text:           p.Text,
		Media:          p.Media,
	}
	if err := d.checkActor(s, in.SenderID); err != nil {
		return err
	}
	if _, err := d.chat.SendMessage(ctx, in); err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues("realtime").Inc()
	return nil
}

// checkActor enforces that an authenticated connection only acts as its own user.
func (d *Dispatcher) checkActor(s *Session, userID string) error {
	if s.AuthUserID != "" && userID != s.AuthUserID {
		return fmt.Errorf("%w: connection is authenticated as another user", apperrors.ErrUnauthorized)
	}
	return nil
}

func badPayload(err error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
}

type presenceStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// PresenceNotifier broadcasts registry changes to every connected client and
// keeps the online gauge current. Notifications are serialized and a
// transition the registry has already moved past is dropped, so the last
// broadcast for a user always matches the registry.
func PresenceNotifier(h *hub.Hub, reg *presence.Registry, log *zap.Logger) presence.Notifier {
	var mu sync.Mutex
	return presence.NotifierFunc(func(userID, _ string, online bool) {
		mu.Lock()
		defer mu.Unlock()
		metrics.OnlineUsers.Set(float64(reg.OnlineCount()))
		if reg.IsOnline(userID) != online {
			log.Debug("dropping stale presence change", zap.String("user_id", userID), zap.Bool("online", online))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.BroadcastAll(ctx, service.EventUserStatusChanged, presenceStatus{UserID: userID, IsOnline: online}); err != nil {
			log.Warn("presence broadcast failed", zap.String("user_id", userID), zap.Error(err))
		}
	})
}
