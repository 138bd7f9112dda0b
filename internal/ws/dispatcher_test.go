package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/hub"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/presence"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/repository"
	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/service"
)

type harness struct {
	hub  *hub.Hub
	reg  *presence.Registry
	repo *repository.MemoryStore
	svc  *service.ChatService
	disp *Dispatcher
	conv *domain.Conversation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop()
	h := &harness{
		hub:  hub.NewHub(log),
		reg:  presence.NewRegistry(),
		repo: repository.NewMemoryStore(),
	}
	h.reg.AddNotifier(PresenceNotifier(h.hub, h.reg, log))
	h.svc = service.NewChatService(service.Deps{
		Repo:        h.repo,
		Presence:    h.reg,
		Broadcaster: h.hub,
		Logger:      log,
	})
	h.disp = NewDispatcher(h.hub, h.svc, h.reg, log, time.Second)

	conv, err := h.svc.CreateConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	h.conv = conv
	return h
}

func (h *harness) connect(authUser string) *Session {
	s := &Session{Client: hub.NewClient(uuid.NewString(), 32), AuthUserID: authUser}
	h.disp.Connect(s)
	return s
}

func (h *harness) emit(t *testing.T, s *Session, event string, data any, ack string) {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	h.disp.Handle(context.Background(), s, hub.Envelope{Event: event, Data: b, Ack: ack})
}

// drain returns every frame queued for s.
func drain(t *testing.T, s *Session) []hub.Envelope {
	t.Helper()
	var out []hub.Envelope
	for {
		select {
		case frame := <-s.Client.Send:
			var env hub.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func events(envs []hub.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

func TestUserOnlineBroadcastsToEveryone(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	b := h.connect("")

	h.emit(t, a, EventUserOnline, "alice", "")

	assert.True(t, h.reg.IsOnline("alice"))
	for _, s := range []*Session{a, b} {
		got := drain(t, s)
		require.Len(t, got, 1)
		assert.Equal(t, service.EventUserStatusChanged, got[0].Event)
		assert.JSONEq(t, `{"userId":"alice","isOnline":true}`, string(got[0].Data))
	}
}

func TestCheckUserStatusRepliesOnlyToAsker(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	b := h.connect("")
	h.emit(t, b, EventUserOnline, "bob", "")
	drain(t, a)
	drain(t, b)

	h.emit(t, a, EventCheckUserStatus, "bob", "7")

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Ack)
	assert.JSONEq(t, `{"userId":"bob","isOnline":true}`, string(got[0].Data))
	assert.Empty(t, drain(t, b))
}

func TestSendMessageWithBothOnline(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	b := h.connect("")
	h.emit(t, a, EventUserOnline, "alice", "")
	h.emit(t, b, EventUserOnline, "bob", "")
	h.emit(t, a, EventJoinConversation, h.conv.ID, "")
	h.emit(t, b, EventJoinConversation, map[string]string{"conversationId": h.conv.ID}, "")
	drain(t, a)
	drain(t, b)

	h.emit(t, a, EventSendMessage, map[string]string{
		"conversationId": h.conv.ID, "senderId": "alice", "receiverId": "bob", "text": "hi",
	}, "")

	for _, s := range []*Session{a, b} {
		got := drain(t, s)
		require.Len(t, got, 1)
		assert.Equal(t, service.EventNewMessage, got[0].Event)
		var m domain.Message
		require.NoError(t, json.Unmarshal(got[0].Data, &m))
		assert.Equal(t, domain.StatusDelivered, m.Status)
		assert.Equal(t, "hi", m.Text)
	}
}

func TestOfflineReceiverThenBulkDelivery(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	h.emit(t, a, EventUserOnline, "alice", "")
	h.emit(t, a, EventJoinConversation, h.conv.ID, "")
	h.emit(t, a, EventSendMessage, map[string]string{
		"conversationId": h.conv.ID, "sender": "alice", "receiver": "bob", "text": "hi",
	}, "")

	msgs, err := h.repo.ListMessages(context.Background(), h.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)
	drain(t, a)

	b := h.connect("")
	h.emit(t, b, EventUserOnline, "bob", "")
	h.emit(t, b, EventJoinConversation, h.conv.ID, "")
	h.emit(t, b, EventMarkConversationDelivered, map[string]string{"conversationId": h.conv.ID, "userId": "bob"}, "")

	msgs, err = h.repo.ListMessages(context.Background(), h.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status)

	got := drain(t, a)
	assert.Equal(t, []string{service.EventUserStatusChanged, service.EventConversationDelivered}, events(got))
	assert.JSONEq(t, `{"conversationId":"`+h.conv.ID+`"}`, string(got[1].Data))
}

func TestMessageReadBroadcastsUpdate(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	h.emit(t, a, EventJoinConversation, h.conv.ID, "")
	m, err := h.svc.SaveMessage(context.Background(), domain.NewMessage{
		ConversationID: h.conv.ID, SenderID: "alice", ReceiverID: "bob", Text: "hi",
	})
	require.NoError(t, err)

	h.emit(t, a, EventMessageRead, map[string]string{"messageId": m.ID, "conversationId": h.conv.ID}, "")

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, service.EventMessageUpdated, got[0].Event)
	var upd domain.Message
	require.NoError(t, json.Unmarshal(got[0].Data, &upd))
	assert.Equal(t, domain.StatusRead, upd.Status)
}

func TestRelayOfStoredMessage(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	b := h.connect("")
	h.emit(t, b, EventUserOnline, "bob", "")
	h.emit(t, a, EventJoinConversation, h.conv.ID, "")
	m, err := h.svc.SaveMessage(context.Background(), domain.NewMessage{
		ConversationID: h.conv.ID, SenderID: "alice", ReceiverID: "bob", Text: "from rest",
	})
	require.NoError(t, err)
	drain(t, a)

	h.emit(t, a, EventSendMessage, map[string]any{
		"_id": m.ID, "conversationId": h.conv.ID, "receiver": map[string]string{"_id": "bob"},
	}, "")

	assert.Equal(t, []string{service.EventMessageUpdated, service.EventNewMessage}, events(drain(t, a)))
	msgs, err := h.repo.ListMessages(context.Background(), h.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestStaleDisconnectKeepsNewConnection(t *testing.T) {
	h := newHarness(t)
	old := h.connect("")
	h.emit(t, old, EventUserOnline, "bob", "")
	fresh := h.connect("")
	h.emit(t, fresh, EventUserOnline, "bob", "")

	h.disp.Disconnect(old)

	assert.True(t, h.reg.IsOnline("bob"))
	handle, _ := h.reg.Handle("bob")
	assert.Equal(t, fresh.Client.ID, handle)

	h.disp.Disconnect(fresh)
	assert.False(t, h.reg.IsOnline("bob"))
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	b := h.connect("")
	h.emit(t, b, EventUserOnline, "bob", "")
	drain(t, a)

	h.disp.Disconnect(b)

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"userId":"bob","isOnline":false}`, string(got[0].Data))
}

func TestLatePresenceChangeIsNotBroadcast(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	notify := PresenceNotifier(h.hub, h.reg, zap.NewNop())

	h.reg.MarkOnline("bob", "h-2")
	drain(t, a)

	// offline for an older connection arriving after bob reconnected
	notify.PresenceChanged("bob", "h-1", false)
	assert.Empty(t, drain(t, a))

	require.Equal(t, "bob", h.reg.MarkOffline("h-2"))
	drain(t, a)
	notify.PresenceChanged("bob", "h-2", true)
	assert.Empty(t, drain(t, a))

	notify.PresenceChanged("bob", "h-2", false)
	got := drain(t, a)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"userId":"bob","isOnline":false}`, string(got[0].Data))
}

func TestBadEventsAreSwallowed(t *testing.T) {
	h := newHarness(t)
	a := h.connect("")
	h.emit(t, a, EventJoinConversation, h.conv.ID, "")

	h.disp.Handle(context.Background(), a, hub.Envelope{Event: "bogus"})
	h.disp.Handle(context.Background(), a, hub.Envelope{Event: EventSendMessage, Data: json.RawMessage(`[1,2]`)})
	h.emit(t, a, EventSendMessage, map[string]string{"conversationId": "missing", "senderId": "alice", "receiverId": "bob", "text": "x"}, "")
	h.emit(t, a, EventMessageRead, map[string]string{"messageId": "missing"}, "")
	h.emit(t, a, EventUserOnline, map[string]string{}, "")

	assert.Empty(t, drain(t, a))
	assert.Equal(t, 0, h.reg.OnlineCount())
}

func TestAuthenticatedConnectionCannotActAsSomeoneElse(t *testing.T) {
	h := newHarness(t)
	a := h.connect("alice")
	h.emit(t, a, EventJoinConversation, h.conv.ID, "")

	h.emit(t, a, EventUserOnline, "bob", "")
	assert.False(t, h.reg.IsOnline("bob"))

	h.emit(t, a, EventSendMessage, map[string]string{
		"conversationId": h.conv.ID, "senderId": "bob", "receiverId": "alice", "text": "spoof",
	}, "")
	msgs, err := h.repo.ListMessages(context.Background(), h.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	h.emit(t, a, EventUserOnline, "alice", "")
	assert.True(t, h.reg.IsOnline("alice"))
}

func TestAuthenticatedConnectionCannotAckOrRelayOthersMessages(t *testing.T) {
	h := newHarness(t)
	mallory := h.connect("mallory")
	h.emit(t, mallory, EventJoinConversation, h.conv.ID, "")
	bob := h.connect("bob")
	h.emit(t, bob, EventUserOnline, "bob", "")
	m, err := h.svc.SaveMessage(context.Background(), domain.NewMessage{
		ConversationID: h.conv.ID, SenderID: "alice", ReceiverID: "bob", Text: "hi",
	})
	require.NoError(t, err)
	drain(t, mallory)

	h.emit(t, mallory, EventMessageRead, map[string]string{"messageId": m.ID}, "")
	h.emit(t, mallory, EventSendMessage, map[string]string{"_id": m.ID}, "")

	assert.Empty(t, drain(t, mallory))
	stored, err := h.repo.GetMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)

	h.emit(t, bob, EventJoinConversation, h.conv.ID, "")
	h.emit(t, bob, EventMessageRead, map[string]string{"messageId": m.ID}, "")
	stored, err = h.repo.GetMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, stored.Status)
}

type touchRecorder struct{ users []string }

func (r *touchRecorder) Touch(_ context.Context, userID, _ string) error {
	r.users = append(r.users, userID)
	return nil
}

func TestActivityRefreshesSharedPresence(t *testing.T) {
	h := newHarness(t)
	rec := &touchRecorder{}
	h.disp.WithToucher(rec)
	a := h.connect("")

	h.emit(t, a, EventJoinConversation, h.conv.ID, "")
	h.emit(t, a, EventUserOnline, "alice", "")
	h.emit(t, a, EventJoinConversation, h.conv.ID, "")

	assert.Equal(t, []string{"alice", "alice"}, rec.users)
}

func TestDecodeID(t *testing.T) {
	id, err := decodeID(json.RawMessage(`"c1"`), "conversationId")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	id, err = decodeID(json.RawMessage(`{"userId":{"_id":"u1"}}`), "userId")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	_, err = decodeID(json.RawMessage(`{}`), "userId")
	assert.Error(t, err)
	_, err = decodeID(nil, "userId")
	assert.Error(t, err)
}
