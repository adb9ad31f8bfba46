package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/protocol"
)

// =============================================================================
// 🧪 总线测试
// =============================================================================

type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) handle(_ context.Context, _ string, payload []byte) {
	c.mu.Lock()
	c.payloads = append(c.payloads, string(payload))
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	b, err := NewRedisBus(cfg, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = b.Close()
		mr.Close()
	})
	return mr, b
}

func busesUnderTest(t *testing.T) map[string]Bus {
	_, rb := setupTestRedis(t)
	mb := NewMemoryBus(zap.NewNop())
	t.Cleanup(func() { _ = mb.Close() })
	return map[string]Bus{"redis": rb, "memory": mb}
}

func TestBus_PublishSubscribe(t *testing.T) {
	for name, b := range busesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &collector{}
			sub, err := b.Subscribe(ctx, "agent:writer:inbox", c.handle)
			require.NoError(t, err)
			defer sub.Unsubscribe()

			for _, p := range []string{"one", "two", "three"} {
				require.NoError(t, b.Publish(ctx, "agent:writer:inbox", []byte(p)))
			}

			require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, []string{"one", "two", "three"}, c.snapshot())
		})
	}
}

func TestBus_NoSubscriberDrops(t *testing.T) {
	for name, b := range busesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Publish(ctx, "agent:ghost:inbox", []byte("lost")))

			c := &collector{}
			sub, err := b.Subscribe(ctx, "agent:ghost:inbox", c.handle)
			require.NoError(t, err)
			defer sub.Unsubscribe()

			require.NoError(t, b.Publish(ctx, "agent:ghost:inbox", []byte("kept")))
			require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, []string{"kept"}, c.snapshot())
		})
	}
}

func TestBus_HandlerPanicKeepsSubscription(t *testing.T) {
	for name, b := range busesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &collector{}
			sub, err := b.Subscribe(ctx, "t", func(ctx context.Context, topic string, payload []byte) {
				if string(payload) == "boom" {
					panic("boom")
				}
				c.handle(ctx, topic, payload)
			})
			require.NoError(t, err)
			defer sub.Unsubscribe()

			require.NoError(t, b.Publish(ctx, "t", []byte("boom")))
			require.NoError(t, b.Publish(ctx, "t", []byte("after")))
			require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	mb := NewMemoryBus(nil)
	defer mb.Close()

	c := &collector{}
	sub, err := mb.Subscribe(context.Background(), "t", c.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, mb.Subscribers("t"))

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, mb.Subscribers("t"))
	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription goroutine still running")
	}

	require.NoError(t, mb.Publish(context.Background(), "t", []byte("x")))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.snapshot())
}

func TestBus_ClosedErrors(t *testing.T) {
	_, rb := setupTestRedis(t)
	require.NoError(t, rb.Close())
	assert.ErrorIs(t, rb.Publish(context.Background(), "t", []byte("x")), ErrClosed)

	mb := NewMemoryBus(nil)
	require.NoError(t, mb.Close())
	assert.ErrorIs(t, mb.Publish(context.Background(), "t", []byte("x")), ErrClosed)
	_, err := mb.Subscribe(context.Background(), "t", func(context.Context, string, []byte) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, mb.Ping(context.Background()), ErrClosed)
}

func TestNewRedisBus_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond
	_, err := NewRedisBus(cfg, nil)
	assert.Error(t, err)
}

// =============================================================================
// 🧪 Messenger 测试
// =============================================================================

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveBusMessage(direction, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[direction+":"+kind]++
}

func (o *countingObserver) get(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

func TestMessenger_WrapsUserSessionPayloads(t *testing.T) {
	mb := NewMemoryBus(nil)
	defer mb.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []protocol.Message
	obs := &countingObserver{}
	sub, err := SubscribeMessages(ctx, mb, protocol.UserTopic("main"), func(_ context.Context, _ string, msg protocol.Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}, obs)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	m := NewMessenger(mb, "writer", nil)
	m.SetObserver(obs)
	require.NoError(t, m.SendText(ctx, protocol.UserTopic("main"), "draft ready"))
	require.NoError(t, m.Send(ctx, protocol.UserTopic("main"), &protocol.NaturalResponse{FromAgent: "writer", Response: "hi"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ev, ok := got[0].(*protocol.UserEvent)
	require.True(t, ok)
	assert.Equal(t, "writer", ev.Sender)
	assert.Equal(t, "draft ready", ev.Content)
	assert.NotZero(t, ev.Timestamp)

	wrapped, ok := got[1].(*protocol.UserEvent)
	require.True(t, ok)
	assert.Contains(t, wrapped.Content, "natural_conversation_response")

	assert.Equal(t, 2, obs.get("out:user_event"))
	assert.Equal(t, 2, obs.get("in:user_event"))
}

func TestMessenger_SendToAgent(t *testing.T) {
	mb := NewMemoryBus(nil)
	defer mb.Close()
	ctx := context.Background()

	got := make(chan protocol.Message, 1)
	sub, err := SubscribeMessages(ctx, mb, protocol.InboxTopic("writer"), func(_ context.Context, _ string, msg protocol.Message) {
		got <- msg
	}, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	m := NewMessenger(mb, "assistant", zap.NewNop())
	assert.Equal(t, "assistant", m.Sender())
	require.NoError(t, m.SendToAgent(ctx, "writer", &protocol.Delegation{
		FromAgent: "assistant",
		Task:      protocol.TaskPayload{Task: "draft", TotalSubtasks: 1},
		ReplyTo:   protocol.InboxTopic("assistant"),
	}))

	select {
	case msg := <-got:
		d, ok := msg.(*protocol.Delegation)
		require.True(t, ok)
		assert.Equal(t, "draft", d.Task.Task)
	case <-time.After(2 * time.Second):
		t.Fatal("delegation not delivered")
	}
}
