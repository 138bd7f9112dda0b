package redis

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// RelayMessage is what instances exchange over the relay channel. Room ""
// addresses every client.
type RelayMessage struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// LocalDeliverer receives frames published by other instances.
type LocalDeliverer interface {
	DeliverLocal(room string, frame []byte)
}

type Relay struct {
	store   *Store
	channel string
	origin  string
	log     *zap.Logger
}

func NewRelay(store *Store, channel, origin string, log *zap.Logger) *Relay {
	return &Relay{store: store, channel: channel, origin: origin, log: log}
}

// Publish matches hub.PublishToOtherInstances.
func (r *Relay) Publish(ctx context.Context, room string, frame []byte) error {
	b, err := json.Marshal(RelayMessage{Origin: r.origin, Room: room, Frame: frame})
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, r.channel, b)
}

// Run subscribes to the relay channel and hands foreign frames to dst until
// ctx is done.
func (r *Relay) Run(ctx context.Context, dst LocalDeliverer) {
	pubsub := r.store.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.log.Warn("redis relay subscription closed")
				return
			}
			r.Handle([]byte(msg.Payload), dst)
		}
	}
}

// Handle delivers one relay payload, skipping this instance's own frames.
func (r *Relay) Handle(payload []byte, dst LocalDeliverer) {
	var m RelayMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		r.log.Debug("malformed relay payload", zap.Error(err))
		return
	}
	if m.Origin == r.origin {
		return
	}
	dst.DeliverLocal(m.Room, m.Frame)
}
