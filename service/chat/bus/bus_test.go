package bus

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"MarketChat/service/natsx"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, b Bus, ctx context.Context) chan Envelope {
	ch := make(chan Envelope, 8)
	require.NoError(t, b.StartForwarder(ctx, func(env Envelope) { ch <- env }))
	return ch
}

func recv(t *testing.T, ch chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no envelope")
	}
	return Envelope{}
}

// checkFanOut 每个订阅者都能收到同一帧
func checkFanOut(t *testing.T, pub Bus, subs ...Bus) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chans := make([]chan Envelope, 0, len(subs))
	for _, s := range subs {
		chans = append(chans, collect(t, s, ctx))
	}

	frame := json.RawMessage(`{"event":"chat:message","data":{"text":"hi"}}`)
	require.NoError(t, pub.Publish(ctx, Envelope{Origin: "n1", UserID: "u1", Frame: frame}))
	for _, ch := range chans {
		env := recv(t, ch)
		assert.Equal(t, "n1", env.Origin)
		assert.Equal(t, "u1", env.UserID)
		assert.JSONEq(t, string(frame), string(env.Frame))
	}
}

func TestLocalBus(t *testing.T) {
	b := NewLocalBus()
	checkFanOut(t, b, b, b)

	assert.Error(t, b.StartForwarder(context.Background(), nil))

	// 订阅 ctx 结束后不再回调
	ctx, cancel := context.WithCancel(context.Background())
	ch := collect(t, b, ctx)
	cancel()
	assert.Eventually(t, func() bool {
		_ = b.Publish(context.Background(), Envelope{UserID: "u"})
		select {
		case <-ch:
			return false
		default:
			return true
		}
	}, time.Second, 10*time.Millisecond)

	done, stop := context.WithCancel(context.Background())
	stop()
	assert.Error(t, b.Publish(done, Envelope{}))
	require.NoError(t, b.Close())
}

// 回调里再订阅：发布按快照遍历，不持锁回调
func TestLocalBusSubscribeDuringPublish(t *testing.T) {
	b := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var first, late int
	require.NoError(t, b.StartForwarder(ctx, func(Envelope) {
		first++
		if first == 1 {
			require.NoError(t, b.StartForwarder(ctx, func(Envelope) { late++ }))
		}
	}))

	require.NoError(t, b.Publish(context.Background(), Envelope{UserID: "u"}))
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, late, "added after the snapshot")

	require.NoError(t, b.Publish(context.Background(), Envelope{UserID: "u"}))
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, late)
}

// 需要真实 redis：REDIS_ADDR=localhost:6379
func TestRedisBus(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()
	channel := "marketchat.relay.test." + time.Now().Format("150405.000000")

	a, err := NewRedisBus(rdb, channel)
	require.NoError(t, err)
	b, err := NewRedisBus(rdb, channel)
	require.NoError(t, err)
	checkFanOut(t, a, a, b)

	_, err = NewRedisBus(nil, "")
	assert.Error(t, err)
}

// 需要真实 nats：NATS_URL=nats://localhost:4222
func TestNatsBus(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	mk := func(name string) Bus {
		c, err := natsx.NewNatsxClient(natsx.NatsxConfig{Servers: []string{url}, Name: name})
		require.NoError(t, err)
		b, err := NewNatsBus(c, "marketchat.relay.test")
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}
	a, b := mk("node-a"), mk("node-b")
	checkFanOut(t, a, a, b)
}
