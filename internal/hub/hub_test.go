package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decode(t *testing.T, frame []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestPublishReachesOnlyRoomMembers(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewClient("a", 4)
	b := NewClient("b", 4)
	h.Register(a)
	h.Register(b)
	h.Join("conv-1", a)

	require.NoError(t, h.Publish(context.Background(), "conv-1", "newMessage", map[string]string{"text": "hi"}))

	require.Len(t, a.Send, 1)
	assert.Empty(t, b.Send)
	env := decode(t, <-a.Send)
	assert.Equal(t, "newMessage", env.Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Data))
}

func TestBroadcastAllReachesEveryClient(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewClient("a", 4)
	b := NewClient("b", 4)
	h.Register(a)
	h.Register(b)

	require.NoError(t, h.BroadcastAll(context.Background(), "userStatusChanged", map[string]any{"userId": "u1", "isOnline": true}))
	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 1)
}

func TestSendToRepliesWithAck(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewClient("a", 4)
	b := NewClient("b", 4)
	h.Register(a)
	h.Register(b)

	require.NoError(t, h.SendTo(a, "checkUserStatus", "42", map[string]any{"userId": "u1", "isOnline": false}))
	require.Len(t, a.Send, 1)
	assert.Empty(t, b.Send)
	assert.Equal(t, "42", decode(t, <-a.Send).Ack)
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(zap.NewNop())
	slow := NewClient("slow", 1)
	h.Register(slow)
	h.Join("r", slow)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish(context.Background(), "r", "newMessage", i))
	}
	assert.Len(t, slow.Send, 1)
}

func TestUnregisterLeavesRoomsAndClosesSend(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewClient("a", 4)
	h.Register(a)
	h.Join("r1", a)
	h.Join("r2", a)
	assert.Equal(t, 1, h.RoomSize("r1"))

	h.Unregister(a)
	h.Unregister(a)

	assert.Equal(t, 0, h.RoomSize("r1"))
	assert.Equal(t, 0, h.RoomSize("r2"))
	assert.Equal(t, 0, h.ClientCount())
	_, open := <-a.Send
	assert.False(t, open)

	// publishing after close must not panic
	require.NoError(t, h.Publish(context.Background(), "r1", "newMessage", nil))
	require.NoError(t, h.SendTo(a, "x", "", nil))
}

func TestJoinRequiresRegistration(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewClient("a", 1)
	h.Join("r", a)
	assert.Equal(t, 0, h.RoomSize("r"))
}

func TestLeave(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewClient("a", 1)
	h.Register(a)
	h.Join("r", a)
	h.Leave("r", a)
	assert.Equal(t, 0, h.RoomSize("r"))
}

func TestPublishForwardsToRelay(t *testing.T) {
	h := NewHub(zap.NewNop())
	var gotRoom string
	var gotFrame []byte
	h.PublishToOtherInstances = func(_ context.Context, room string, frame []byte) error {
		gotRoom, gotFrame = room, frame
		return nil
	}

	require.NoError(t, h.Publish(context.Background(), "conv-9", "conversationDelivered", map[string]string{"conversationId": "conv-9"}))
	assert.Equal(t, "conv-9", gotRoom)
	assert.Equal(t, "conversationDelivered", decode(t, gotFrame).Event)

	h.PublishToOtherInstances = func(context.Context, string, []byte) error { return errors.New("redis down") }
	assert.Error(t, h.Publish(context.Background(), "conv-9", "x", nil))
}

func TestDeliverLocalDoesNotRelay(t *testing.T) {
	h := NewHub(zap.NewNop())
	called := false
	h.PublishToOtherInstances = func(context.Context, string, []byte) error { called = true; return nil }
	a := NewClient("a", 1)
	h.Register(a)

	h.DeliverLocal("", []byte(`{"event":"x"}`))
	assert.Len(t, a.Send, 1)
	assert.False(t, called)
}
