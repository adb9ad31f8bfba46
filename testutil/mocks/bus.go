// RecordingBus 记录每次发布的总线包装。
//
// 包装任意 bus.Bus（通常是 bus.MemoryBus），转发调用的同时保存
// 发布记录，方便断言发往某个 topic 的消息。
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/protocol"
)

// Publication 单次发布记录
type Publication struct {
	Topic   string
	Payload []byte
}

// Message 解码后的消息
func (p Publication) Message() protocol.Message {
	return protocol.Decode(p.Payload)
}

// RecordingBus 是记录发布的 bus.Bus
type RecordingBus struct {
	inner bus.Bus

	mu        sync.Mutex
	published []Publication
	failing   map[string]bool
}

var _ bus.Bus = (*RecordingBus)(nil)

// NewRecordingBus 包装 inner
func NewRecordingBus(inner bus.Bus) *RecordingBus {
	return &RecordingBus{inner: inner, failing: make(map[string]bool)}
}

// FailTopic 让发往 topic 的发布返回错误
func (r *RecordingBus) FailTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[topic] = true
}

// Publish 实现 bus.Bus
func (r *RecordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	if r.failing[topic] {
		r.mu.Unlock()
		return errors.New("publish refused by test")
	}
	r.published = append(r.published, Publication{Topic: topic, Payload: append([]byte(nil), payload...)})
	r.mu.Unlock()
	return r.inner.Publish(ctx, topic, payload)
}

// Subscribe 实现 bus.Bus
func (r *RecordingBus) Subscribe(ctx context.Context, topic string, h bus.Handler) (bus.Subscription, error) {
	return r.inner.Subscribe(ctx, topic, h)
}

// Ping 实现 bus.Bus
func (r *RecordingBus) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

// Close 实现 bus.Bus
func (r *RecordingBus) Close() error {
	return r.inner.Close()
}

// Published 返回全部发布记录
func (r *RecordingBus) Published() []Publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Publication(nil), r.published...)
}

// Messages 返回发往 topic 的解码消息
func (r *RecordingBus) Messages(topic string) []protocol.Message {
	var out []protocol.Message
	for _, p := range r.Published() {
		if p.Topic == topic {
			out = append(out, p.Message())
		}
	}
	return out
}

// Texts 返回发往 user_session topic 的文本内容
func (r *RecordingBus) Texts(topic string) []string {
	var out []string
	for _, m := range r.Messages(topic) {
		switch v := m.(type) {
		case *protocol.UserEvent:
			out = append(out, v.Content)
		case *protocol.Text:
			out = append(out, v.Body)
		}
	}
	return out
}

// Count 返回发往 topic 的消息数
func (r *RecordingBus) Count(topic string) int {
	return len(r.Messages(topic))
}

// Reset 清空记录
func (r *RecordingBus) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = nil
}
