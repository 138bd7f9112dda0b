package redis

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordHook answers every command itself so no server is needed.
type recordHook struct{ args [][]any }

func (h *recordHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *recordHook) ProcessHook(_ redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		h.args = append(h.args, cmd.Args())
		if c, ok := cmd.(*redis.Cmd); ok {
			c.SetVal(int64(1))
		}
		return nil
	}
}

func (h *recordHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestTouchSendsHandleAndTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	hook := &recordHook{}
	client.AddHook(hook)
	s := NewStore(client, "chat", 90*time.Second, zap.NewNop())

	require.NoError(t, s.Touch(context.Background(), "bob", "conn-1"))

	require.Len(t, hook.args, 1)
	args := hook.args[0]
	assert.Equal(t, "evalsha", strings.ToLower(args[0].(string)))
	assert.Equal(t, touchScript.Hash(), args[1])
	assert.Equal(t, []any{"chat:presence:bob", "conn-1", int64(90000)}, args[3:])
}

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestTouchRecreatesExpiredKey(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	s := NewStore(client, "chat-test-"+time.Now().Format("150405.000"), time.Minute, zap.NewNop())
	key := s.presenceKey("bob")
	defer client.Del(ctx, key)

	require.NoError(t, s.SetOnline(ctx, "bob", "conn-1"))
	require.NoError(t, client.Del(ctx, key).Err())

	require.NoError(t, s.Touch(ctx, "bob", "conn-1"))
	got, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got)
	ttl, err := client.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.SetOnline(ctx, "bob", "conn-2"))
	require.NoError(t, s.Touch(ctx, "bob", "conn-1"))
	got, err = client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "conn-2", got)
}
