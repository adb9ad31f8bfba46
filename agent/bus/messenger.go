package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/protocol"
)

// Messenger publishes typed messages on behalf of one agent. Anything sent to
// a user_session topic is wrapped as {sender, content, timestamp}.
type Messenger struct {
	bus      Bus
	sender   string
	logger   *zap.Logger
	observer Observer
}

// NewMessenger binds b to the agent called sender.
func NewMessenger(b Bus, sender string, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		bus:    b,
		sender: sender,
		logger: logger.With(zap.String("component", "messenger"), zap.String("agent", sender)),
	}
}

// SetObserver installs a traffic observer.
func (m *Messenger) SetObserver(o Observer) {
	m.observer = o
}

// Sender returns the agent name messages are sent as.
func (m *Messenger) Sender() string {
	return m.sender
}

// Bus returns the underlying transport.
func (m *Messenger) Bus() Bus {
	return m.bus
}

// Send publishes msg to topic.
func (m *Messenger) Send(ctx context.Context, topic string, msg protocol.Message) error {
	if protocol.IsUserTopic(topic) {
		if ev, ok := msg.(*protocol.UserEvent); ok {
			return m.publish(ctx, topic, ev)
		}
		payload, err := protocol.Encode(msg)
		if err != nil {
			return err
		}
		return m.publish(ctx, topic, &protocol.UserEvent{Sender: m.sender, Content: string(payload)})
	}
	return m.publish(ctx, topic, msg)
}

// SendText publishes plain text to topic.
func (m *Messenger) SendText(ctx context.Context, topic, text string) error {
	if protocol.IsUserTopic(topic) {
		return m.publish(ctx, topic, &protocol.UserEvent{Sender: m.sender, Content: text})
	}
	return m.publish(ctx, topic, &protocol.Text{Body: text})
}

// SendToAgent publishes msg to the named agent's inbox.
func (m *Messenger) SendToAgent(ctx context.Context, agent string, msg protocol.Message) error {
	return m.Send(ctx, protocol.InboxTopic(agent), msg)
}

func (m *Messenger) publish(ctx context.Context, topic string, msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	if err := m.bus.Publish(ctx, topic, payload); err != nil {
		m.logger.Warn("send failed", zap.String("topic", topic), zap.String("kind", string(msg.Kind())), zap.Error(err))
		return err
	}
	if m.observer != nil {
		m.observer.ObserveBusMessage("out", string(msg.Kind()))
	}
	m.logger.Debug("sent", zap.String("topic", topic), zap.String("kind", string(msg.Kind())))
	return nil
}

// MessageHandler receives decoded messages.
type MessageHandler func(ctx context.Context, topic string, msg protocol.Message)

// SubscribeMessages subscribes to topic and decodes each payload once before
// handing it to h.
func SubscribeMessages(ctx context.Context, b Bus, topic string, h MessageHandler, observer Observer) (Subscription, error) {
	return b.Subscribe(ctx, topic, func(ctx context.Context, topic string, payload []byte) {
		msg := protocol.Decode(payload)
		if observer != nil {
			observer.ObserveBusMessage("in", string(msg.Kind()))
		}
		h(ctx, topic, msg)
	})
}
