package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store mirrors presence into Redis so other instances can answer presence
// queries, and carries the pub/sub channel used for cross-instance fan-out.
// Keys used:
// - <prefix>:presence:<userID> -> connection handle, expires after ttl
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// deletes the presence key only if it still holds the closing handle
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshes the ttl while the key holds the handle, and re-creates a key that
// expired under a live connection; a key owned by another handle is left alone
var touchScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if not cur then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

func NewStore(r *redis.Client, prefix string, ttl time.Duration, log *zap.Logger) *Store {
	return &Store{client: r, prefix: prefix, ttl: ttl, log: log}
}

// Connect pings addr with exponential backoff before returning the client.
func Connect(ctx context.Context, opts *redis.Options, maxElapsed time.Duration, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(opts)
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn("redis ping failed, retrying", zap.Error(err), zap.Duration("next", next))
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (s *Store) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *Store) SetOnline(ctx context.Context, userID, handle string) error {
	return s.client.Set(ctx, s.presenceKey(userID), handle, s.ttl).Err()
}

// SetOffline clears the user's key unless a newer connection owns it.
func (s *Store) SetOffline(ctx context.Context, userID, handle string) error {
	return releaseScript.Run(ctx, s.client, []string{s.presenceKey(userID)}, handle).Err()
}

// Touch extends the ttl of a live connection, writing the key again if it
// already expired.
func (s *Store) Touch(ctx context.Context, userID, handle string) error {
	return touchScript.Run(ctx, s.client, []string{s.presenceKey(userID)}, handle, s.ttl.Milliseconds()).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PresenceChanged writes registry transitions through to Redis. Errors are
// logged; the local registry stays authoritative.
func (s *Store) PresenceChanged(userID, handle string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if online {
		err = s.SetOnline(ctx, userID, handle)
	} else {
		err = s.SetOffline(ctx, userID, handle)
	}
	if err != nil {
		s.log.Warn("presence mirror write failed", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
}

// PubSub publish/subscribe to channel for cross-instance broadcast
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.client.Subscribe(ctx, channel)
}
