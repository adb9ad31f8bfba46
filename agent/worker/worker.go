// Package worker implements a runbook-driven agent process: it executes
// delegated subtasks, holds natural conversations, runs assigned actions and
// answers the structured peer protocol.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/collaboration"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/agent/runtime"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

const instrumentationName = "github.com/BaSui01/agentmesh/agent/worker"

// Fixed replies.
const (
	TaskFailedText     = "Error: Unable to process the task. Please check the task description and try again."
	RequestFailedText  = "Error: Unable to process the request. Please try again."
	EmptyResponseText  = "I processed your request but have no response."
	AcknowledgedText   = "Acknowledged."
	userSender         = "user"
	unknownSender      = "unknown"
	greetingPreviewLen = 50
)

// aiSenders are answered with a completion; anyone else gets a short
// acknowledgement so agent chatter cannot loop.
var aiSenders = map[string]bool{
	types.AssistantName: true,
	"coordinator":       true,
	"orchestrator":      true,
	userSender:          true,
}

var greetings = map[string]bool{"hello": true, "hi": true, "greetings": true, "hey": true}

// Config tunes a Worker.
type Config struct {
	DefaultUserTopic string
	DedupWindow      time.Duration
	DedupCapacity    int
}

// ConfigFrom derives a Config from the mesh section of the process config.
func ConfigFrom(m config.MeshConfig) Config {
	session := m.SessionID
	if session == "" {
		session = "main"
	}
	return Config{
		DefaultUserTopic: protocol.UserTopic(session),
		DedupWindow:      m.DedupWindow,
		DedupCapacity:    m.DedupCapacity,
	}
}

// Observer is told about suppressed duplicate messages.
type Observer interface {
	ObserveDedupSuppressed()
}

// Worker is a runbook-driven agent.
type Worker struct {
	rt        *runtime.Runtime
	completer llm.Completer
	cfg       Config
	dedup     *collaboration.Dedup
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu        sync.Mutex
	contexts  map[string]map[string]any
	workflows map[string]map[string]any
	results   map[string]string
	active    int
	finished  int
}

// New creates a Worker on top of rt.
func New(rt *runtime.Runtime, completer llm.Completer, cfg Config) *Worker {
	if cfg.DefaultUserTopic == "" {
		cfg.DefaultUserTopic = protocol.UserTopic("main")
	}
	return &Worker{
		rt:        rt,
		completer: completer,
		cfg:       cfg,
		dedup:     collaboration.NewDedup(cfg.DedupWindow, cfg.DedupCapacity),
		logger:    rt.Logger().With(zap.String("component", "worker")),
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
		contexts:  make(map[string]map[string]any),
		workflows: make(map[string]map[string]any),
		results:   make(map[string]string),
	}
}

// SetObserver installs a dedup observer.
func (w *Worker) SetObserver(o Observer) {
	w.observer = o
}

// Name returns the agent name.
func (w *Worker) Name() string { return w.rt.Name() }

// Run serves the inbox until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.rt.Go(w.pruneLoop)
	return w.rt.Run(ctx, w.Handle)
}

func (w *Worker) pruneLoop(ctx context.Context) error {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := w.dedup.Prune(w.now()); n > 0 {
				w.logger.Debug("pruned dedup cache", zap.Int("entries", n))
			}
		}
	}
}

// Handle routes one inbox message.
func (w *Worker) Handle(ctx context.Context, _ string, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Delegation:
		w.handleDelegation(ctx, m)
	case *protocol.LegacyTask:
		w.converse(ctx, &protocol.NaturalMessage{
			FromAgent: m.FromAgent,
			Message:   fmt.Sprintf("%s asks: %s", m.FromAgent, m.Task),
			Context:   protocol.ContextLegacyTask,
			ReplyTo:   protocol.InboxTopic(m.FromAgent),
		})
	case *protocol.NaturalMessage:
		w.converse(ctx, m)
	case *protocol.ChatRequest:
		replyTo := m.ReplyTo
		if replyTo == "" {
			replyTo = w.cfg.DefaultUserTopic
		}
		w.converse(ctx, &protocol.NaturalMessage{
			FromAgent:         userSender,
			Messages:          m.Messages,
			Context:           protocol.ContextUserMention,
			ReplyTo:           replyTo,
			OriginalUserTopic: replyTo,
		})
	case *protocol.PeerRequest:
		w.handlePeerRequest(ctx, m)
	case *protocol.PeerReply:
		w.handlePeerReply(m)
	case *protocol.Unknown:
		from, _ := m.Raw["from_agent"].(string)
		if from == "" {
			from = unknownSender
		}
		w.converse(ctx, &protocol.NaturalMessage{
			FromAgent: from,
			Message:   m.String(),
			Context:   protocol.ContextUnknownFormat,
		})
	case *protocol.Text:
		w.converse(ctx, &protocol.NaturalMessage{
			FromAgent: unknownSender,
			Message:   m.Body,
			Context:   protocol.ContextUnknownFormat,
		})
	case *protocol.TaskResult, *protocol.NaturalResponse, *protocol.UserEvent:
		w.logger.Debug("ignoring message", zap.String("kind", string(msg.Kind())))
	default:
		w.logger.Warn("unhandled message", zap.String("kind", string(msg.Kind())))
	}
}

// =============================================================================
// Delegated tasks
// =============================================================================

func (w *Worker) handleDelegation(ctx context.Context, d *protocol.Delegation) {
	w.logger.Info("task received",
		zap.String("from", d.FromAgent),
		zap.Int("subtask", d.Task.SubtaskIndex),
		zap.Int("total", d.Task.TotalSubtasks))

	result := w.executeTask(ctx, d.Task.Task)

	userTopic := d.UserTopic
	if userTopic == "" {
		userTopic = w.cfg.DefaultUserTopic
	}
	replyTo := d.ReplyTo
	if replyTo == "" {
		replyTo = protocol.InboxTopic(d.FromAgent)
	}
	reply := &protocol.TaskResult{
		FromAgent:    w.Name(),
		TaskResult:   result,
		OriginalTask: d.Task,
		UserTopic:    userTopic,
	}
	if err := w.rt.Messenger().Send(ctx, replyTo, reply); err != nil {
		w.logger.Error("task result not delivered", zap.String("reply_to", replyTo), zap.Error(err))
	}
}

// executeTask answers a task from the runbook persona. It never fails; a
// completion failure yields TaskFailedText.
func (w *Worker) executeTask(ctx context.Context, task string) string {
	ctx, span := w.tracer.Start(ctx, "worker.execute_task",
		trace.WithAttributes(attribute.String("agent", w.Name())))
	defer span.End()

	w.mu.Lock()
	w.active++
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.active--
		w.mu.Unlock()
	}()

	rb := w.rt.Runbook()
	system := fmt.Sprintf("You are %s, %s.\n\nFocus on your core expertise and provide a clear, helpful response to the task.", w.Name(), rb.Role)
	if rb.SystemInstructions != "" {
		system += "\n\n" + rb.SystemInstructions
	}
	out, ok := w.complete(ctx, []types.Message{types.NewUserMessage(task)}, llm.WithSystem(system))
	if !ok || strings.TrimSpace(out) == "" {
		return TaskFailedText
	}
	return strings.TrimSpace(out)
}

func (w *Worker) complete(ctx context.Context, msgs []types.Message, opts ...llm.Option) (string, bool) {
	if w.completer == nil {
		return "", false
	}
	return w.completer.Complete(ctx, msgs, opts...)
}

// =============================================================================
// Natural conversation
// =============================================================================

func (w *Worker) converse(ctx context.Context, m *protocol.NaturalMessage) {
	text := m.Text()
	if w.rt.Stale(m.Timestamp) {
		w.logger.Debug("ignoring stale message", zap.String("from", m.FromAgent))
		return
	}
	if w.dedup.Seen(m.FromAgent, text, m.Context, w.now()) {
		w.logger.Debug("suppressed duplicate", zap.String("from", m.FromAgent))
		if w.observer != nil {
			w.observer.ObserveDedupSuppressed()
		}
		return
	}

	response := w.respond(ctx, m, text)
	w.sendNaturalResponse(ctx, m, response)
}

func (w *Worker) respond(ctx context.Context, m *protocol.NaturalMessage, text string) string {
	if reply, ok := w.greeting(text); ok {
		return reply
	}
	if !aiSenders[m.FromAgent] {
		return fmt.Sprintf("Hello %s! This is %s. I received your message: %s...",
			m.FromAgent, w.Name(), truncate(text, greetingPreviewLen))
	}
	if len(m.Messages) > 0 {
		return w.respondWithHistory(ctx, m, text)
	}
	return w.understandAndExecute(ctx, text)
}

func (w *Worker) greeting(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if greetings[lower] || strings.HasPrefix(lower, "say hello") {
		return fmt.Sprintf("Hello! I'm %s, ready to help.", w.Name()), true
	}
	if strings.Contains(lower, "acknowledge") && len(strings.Fields(lower)) <= 3 {
		return AcknowledgedText, true
	}
	return "", false
}

func (w *Worker) understandAndExecute(ctx context.Context, task string) string {
	prompt := fmt.Sprintf(`You are a %s agent.

Capabilities: %s

TASK: %s

INSTRUCTIONS:
1. Work out what is being asked.
2. Complete the task directly using your capabilities.
3. Respond with the result itself, not a description of what you would do.
4. If the task is outside your capabilities, say so in one sentence.`,
		w.Name(), strings.Join(w.rt.Runbook().CapabilityNames(), ", "), task)

	out, ok := w.complete(ctx, []types.Message{types.NewUserMessage(task)}, llm.WithSystem(prompt))
	if !ok || strings.TrimSpace(out) == "" {
		return fmt.Sprintf("Understood. I'm %s and I'll help with that.", w.Name())
	}
	return strings.TrimSpace(out)
}

func (w *Worker) respondWithHistory(ctx context.Context, m *protocol.NaturalMessage, text string) string {
	actions := w.rt.Actions()
	if len(actions) > 0 {
		if action, ok := w.selectAction(ctx, text, actions); ok {
			return w.runAction(ctx, m.ReplyTo, text, action)
		}
	}

	out, ok := w.complete(ctx, m.Messages, llm.WithSystem(w.historySystemPrompt(actions)))
	if !ok {
		return RequestFailedText
	}
	if strings.TrimSpace(out) == "" {
		return EmptyResponseText
	}
	return strings.TrimSpace(out)
}

func (w *Worker) historySystemPrompt(actions []types.Action) string {
	rb := w.rt.Runbook()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n%s", w.Name(), w.capabilitiesText())
	if len(actions) > 0 {
		b.WriteString("\n\nAvailable Actions:\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
		}
	}
	if rb.SystemInstructions != "" {
		b.WriteString("\n\n")
		b.WriteString(rb.SystemInstructions)
	}
	return b.String()
}

func (w *Worker) capabilitiesText() string {
	rb := w.rt.Runbook()
	return fmt.Sprintf("Role: %s\n\nCore Capabilities:\n%s", rb.Role, rb.CapabilityText())
}

// sendNaturalResponse answers the sender's inbox and, when the message asked
// for a different reply topic, that topic too. User topics get plain text.
func (w *Worker) sendNaturalResponse(ctx context.Context, m *protocol.NaturalMessage, response string) {
	msgr := w.rt.Messenger()
	resp := &protocol.NaturalResponse{
		FromAgent:         w.Name(),
		OriginalFrom:      m.FromAgent,
		Response:          response,
		Context:           m.Context,
		ReplyTo:           m.ReplyTo,
		OriginalUserTopic: m.OriginalUserTopic,
	}
	senderInbox := protocol.InboxTopic(m.FromAgent)
	if m.FromAgent != userSender {
		if err := msgr.Send(ctx, senderInbox, resp); err != nil {
			w.logger.Warn("response not delivered", zap.String("to", m.FromAgent), zap.Error(err))
		}
	}
	if m.ReplyTo == "" || m.ReplyTo == senderInbox {
		return
	}
	var err error
	if protocol.IsUserTopic(m.ReplyTo) {
		err = msgr.SendText(ctx, m.ReplyTo, response)
	} else {
		err = msgr.Send(ctx, m.ReplyTo, resp)
	}
	if err != nil {
		w.logger.Warn("response not delivered", zap.String("reply_to", m.ReplyTo), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
